package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/resilience"
)

var (
	// ErrMalformedResponse means the provider answered with something unusable
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrEmptyResponse means the provider returned no candidates
	ErrEmptyResponse = errors.New("empty model response")
	// ErrUnsupportedPrompt means the prompt shape cannot be sent
	ErrUnsupportedPrompt = errors.New("unsupported prompt")
)

// StatusError is a non-2xx answer from an HTTP inference service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.StatusCode, e.Body)
}

// SafetyBlockError is a generation refused by the provider's safety filter
type SafetyBlockError struct {
	Reason string
}

func (e *SafetyBlockError) Error() string {
	return "blocked by safety filter: " + e.Reason
}

// Classify maps a provider failure to a transient, fatal or safety-blocked AppError
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}

	var (
		blocked   *genai.BlockedError
		safety    *SafetyBlockError
		gapi      *googleapi.Error
		oaiAPI    *openai.APIError
		oaiReq    *openai.RequestError
		statusErr *StatusError
		netErr    net.Error
	)

	switch {
	case errors.As(err, &blocked):
		return apperrors.NewSafetyBlockedError(blocked.Error())
	case errors.As(err, &safety):
		return apperrors.NewSafetyBlockedError(safety.Reason)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.NewFatalInferenceError("inference circuit open", err)
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrUnsupportedPrompt):
		return apperrors.NewFatalInferenceError("unusable model response", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.NewTransientInferenceError("inference call timed out", err)
	case errors.As(err, &gapi):
		return byStatus(gapi.Code, err)
	case errors.As(err, &oaiAPI):
		return byStatus(oaiAPI.HTTPStatusCode, err)
	case errors.As(err, &oaiReq):
		return byStatus(oaiReq.HTTPStatusCode, err)
	case errors.As(err, &statusErr):
		return byStatus(statusErr.StatusCode, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return apperrors.NewTransientInferenceError("inference service unavailable", err)
		case codes.Unauthenticated, codes.PermissionDenied:
			return apperrors.NewFatalInferenceError("inference authentication failed", err)
		default:
			return apperrors.NewFatalInferenceError("inference request rejected", err)
		}
	}

	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return apperrors.NewTransientInferenceError("inference connection failed", err)
	}
	return apperrors.NewFatalInferenceError("inference call failed", err)
}

func byStatus(code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return apperrors.NewTransientInferenceError(fmt.Sprintf("inference service status %d", code), err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperrors.NewFatalInferenceError("inference authentication failed", err)
	case code == 0:
		return apperrors.NewTransientInferenceError("inference connection failed", err)
	default:
		return apperrors.NewFatalInferenceError(fmt.Sprintf("inference request rejected with status %d", code), err)
	}
}
