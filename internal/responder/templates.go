package responder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace-responder/backend/internal/models"
	apperrors "marketplace-responder/backend/pkg/errors"
)

const (
	usagePenalty = 0.1
	minWeight    = 0.1
)

// TemplateSource supplies persisted templates
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]models.Template, error)
}

// TemplateEngine selects and fills reply templates
type TemplateEngine struct {
	mu        sync.Mutex
	templates map[string]*models.Template
	rnd       Source
	now       func() time.Time
}

// NewTemplateEngine creates an engine without templates
func NewTemplateEngine(rnd Source) *TemplateEngine {
	if rnd == nil {
		rnd = NewSource(0)
	}
	return &TemplateEngine{
		templates: make(map[string]*models.Template),
		rnd:       rnd,
		now:       time.Now,
	}
}

// Register validates t and adds it as an active template, replacing one with the same name
func (e *TemplateEngine) Register(t models.Template) error {
	if len(t.Variables) == 0 {
		t.Variables = models.Placeholders(t.Text)
	}
	if err := t.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if existing, ok := e.templates[t.Name]; ok {
		t.CreatedAt = existing.CreatedAt
		t.UsageCount = existing.UsageCount
		t.Outcomes = existing.Outcomes
		t.SuccessRate = existing.SuccessRate
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.Active = true
	t.UpdatedAt = now
	e.templates[t.Name] = &t
	return nil
}

// Restore adds templates as they are, keeping counters and the active flag
func (e *TemplateEngine) Restore(templates []models.Template) error {
	for i := range templates {
		if err := templates[i].Validate(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range templates {
		t := templates[i]
		e.templates[t.Name] = &t
	}
	return nil
}

// Load restores every template from src
func (e *TemplateEngine) Load(ctx context.Context, src TemplateSource) (int, error) {
	templates, err := src.ListTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load templates: %w", err)
	}
	if err := e.Restore(templates); err != nil {
		return 0, err
	}
	return len(templates), nil
}

// Deactivate stops a template from being selected
func (e *TemplateEngine) Deactivate(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.templates[name]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("template %q not found", name))
	}
	t.Active = false
	t.UpdatedAt = e.now()
	return nil
}

// Get returns a copy of the named template
func (e *TemplateEngine) Get(name string) (models.Template, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.templates[name]
	if !ok {
		return models.Template{}, false
	}
	return *t, true
}

// List returns copies of all templates ordered by category and name
func (e *TemplateEngine) List() []models.Template {
	e.mu.Lock()
	out := make([]models.Template, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, *t)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Select picks an active template for mt whose variables can all be filled.
// Less used templates are more likely to be picked; the pick counts as a use.
func (e *TemplateEngine) Select(mt models.MessageType, listing *models.ListingContext, sender *models.SenderContext) (*models.Template, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var candidates []*models.Template
	for _, t := range e.templates {
		if !t.Active || t.Category != mt || !fillable(t, listing, sender) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })

	weights := make([]float64, len(candidates))
	var total float64
	for i, t := range candidates {
		weights[i] = Weight(t.UsageCount)
		total += weights[i]
	}

	chosen := candidates[len(candidates)-1]
	target := e.rnd.Float64() * total
	for i, w := range weights {
		if target < w {
			chosen = candidates[i]
			break
		}
		target -= w
	}

	chosen.UsageCount++
	selected := *chosen
	return &selected, true
}

// Fill substitutes every placeholder of t from the listing and the sender
func (e *TemplateEngine) Fill(t *models.Template, listing *models.ListingContext, sender *models.SenderContext) (string, error) {
	text, missing := models.ReplacePlaceholders(t.Text, func(name string) (string, bool) {
		return variable(name, listing, sender)
	})
	if missing != "" {
		return "", apperrors.NewMissingVariableError(t.Name, missing)
	}
	return text, nil
}

// RecordOutcome folds a success or failure into the template's running success rate
func (e *TemplateEngine) RecordOutcome(name string, success bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.templates[name]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("template %q not found", name))
	}
	value := 0.0
	if success {
		value = 1
	}
	t.Outcomes++
	t.SuccessRate += (value - t.SuccessRate) / float64(t.Outcomes)
	t.UpdatedAt = e.now()
	return nil
}

// ResetUsage zeroes every usage counter
func (e *TemplateEngine) ResetUsage() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.templates {
		t.UsageCount = 0
	}
}

// Weight is the selection weight of a template used usageCount times
func Weight(usageCount int) float64 {
	w := 1 - float64(usageCount)*usagePenalty
	if w < minWeight {
		return minWeight
	}
	return w
}

func fillable(t *models.Template, listing *models.ListingContext, sender *models.SenderContext) bool {
	for _, name := range t.Variables {
		if _, ok := variable(name, listing, sender); !ok {
			return false
		}
	}
	return true
}

// variable resolves a placeholder name; empty values count as unavailable
func variable(name string, listing *models.ListingContext, sender *models.SenderContext) (string, bool) {
	var v string
	switch name {
	case "user_name":
		if sender != nil {
			v = sender.Name
		}
	case "price":
		if listing != nil {
			v = listing.PriceString()
		}
	default:
		if listing == nil {
			return "", false
		}
		switch name {
		case "title":
			v = listing.Title
		case "condition":
			v = listing.Condition
		case "location":
			v = listing.Location
		case "category":
			v = listing.Category
		case "seller_name":
			v = listing.SellerName
		}
	}
	return v, v != ""
}
