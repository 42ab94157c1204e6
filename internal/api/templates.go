package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/internal/responder"
	"marketplace-responder/backend/internal/store"
	"marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/logger"
)

// TemplateController administers reply templates. Changes apply to the running engine first and
// are then written through to the repository when one is configured.
type TemplateController struct {
	engine *responder.TemplateEngine
	repo   store.TemplateRepository
}

// NewTemplateController creates a template controller; repo may be nil
func NewTemplateController(engine *responder.TemplateEngine, repo store.TemplateRepository) *TemplateController {
	return &TemplateController{engine: engine, repo: repo}
}

type templateRequest struct {
	Name      string             `json:"name" binding:"required"`
	Category  models.MessageType `json:"category" binding:"required"`
	Text      string             `json:"text" binding:"required"`
	Variables []string           `json:"variables"`
}

type outcomeRequest struct {
	Success *bool `json:"success" binding:"required"`
}

// RegisterRoutesV1 registers the template routes under /api/v1; guard runs before every change
func (c *TemplateController) RegisterRoutesV1(v1 *gin.RouterGroup, guard ...gin.HandlerFunc) {
	templates := v1.Group("/templates")
	{
		templates.GET("", c.ListTemplates)
		templates.POST("", guarded(guard, c.RegisterTemplate)...)
		templates.DELETE("/:name", guarded(guard, c.DeactivateTemplate)...)
		templates.POST("/:name/outcome", guarded(guard, c.RecordOutcome)...)
	}
}

// ListTemplates returns every template, optionally filtered by ?category=
func (c *TemplateController) ListTemplates(ctx *gin.Context) {
	category := models.MessageType(ctx.Query("category"))
	if category != "" && !category.Valid() {
		_ = ctx.Error(errors.NewBadRequestError(fmt.Sprintf("unknown category %q", category)))
		return
	}

	all := c.engine.List()
	templates := make([]models.Template, 0, len(all))
	for _, t := range all {
		if category == "" || t.Category == category {
			templates = append(templates, t)
		}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"count":     len(templates),
	})
}

// RegisterTemplate adds or replaces a template
func (c *TemplateController) RegisterTemplate(ctx *gin.Context) {
	var req templateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("Invalid request format").WithDetails(err.Error()))
		return
	}

	err := c.engine.Register(models.Template{
		Name:      req.Name,
		Category:  req.Category,
		Text:      req.Text,
		Variables: req.Variables,
	})
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	t, err := c.persist(ctx.Request.Context(), req.Name)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	logger.FromContext(ctx).Info("Template registered", "template", t.Name, "category", t.Category)
	ctx.JSON(http.StatusCreated, t)
}

// DeactivateTemplate stops a template from being selected; it stays listed
func (c *TemplateController) DeactivateTemplate(ctx *gin.Context) {
	name := ctx.Param("name")
	if err := c.engine.Deactivate(name); err != nil {
		_ = ctx.Error(err)
		return
	}

	t, err := c.persist(ctx.Request.Context(), name)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	logger.FromContext(ctx).Info("Template deactivated", "template", name)
	ctx.JSON(http.StatusOK, t)
}

// RecordOutcome folds a conversion result into the template's success rate
func (c *TemplateController) RecordOutcome(ctx *gin.Context) {
	var req outcomeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("Invalid request format").WithDetails(err.Error()))
		return
	}

	name := ctx.Param("name")
	if err := c.engine.RecordOutcome(name, *req.Success); err != nil {
		_ = ctx.Error(err)
		return
	}

	t, err := c.persist(ctx.Request.Context(), name)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, t)
}

func (c *TemplateController) persist(ctx context.Context, name string) (models.Template, error) {
	t, ok := c.engine.Get(name)
	if !ok {
		return models.Template{}, errors.NewNotFoundError(fmt.Sprintf("template %q not found", name))
	}
	if c.repo == nil {
		return t, nil
	}
	if err := c.repo.SaveTemplate(ctx, &t); err != nil {
		return models.Template{}, errors.NewInternalError("Failed to save template", err)
	}
	return t, nil
}
