package router

import (
	"net/http"
	"os"

	"marketplace-responder/backend/api"
	"marketplace-responder/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// AddOpenAPIValidation validates requests against the document at schemaPath, or against the
// embedded copy when the file does not exist. It must run before SetupRoutes.
func (r *Router) AddOpenAPIValidation(schemaPath string) error {
	var (
		v      *validator.OpenAPIValidator
		err    error
		source = schemaPath
	)
	if schemaPath != "" && fileExists(schemaPath) {
		v, err = validator.NewOpenAPIValidator(schemaPath)
	} else {
		source = "embedded"
		v, err = validator.NewOpenAPIValidatorFromData(api.OpenAPI)
	}
	if err != nil {
		return err
	}

	r.Engine.Use(v.Middleware())
	r.Logger.Info("OpenAPI validation enabled", "schema", source, "version", v.Version())

	document := api.OpenAPI
	if source != "embedded" {
		if data, readErr := os.ReadFile(schemaPath); readErr == nil {
			document = data
		}
	}
	r.Engine.GET("/api/docs/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", document)
	})
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
