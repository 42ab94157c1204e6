package responder

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"marketplace-responder/backend/internal/models"
)

//go:embed default_templates.yaml
var defaultTemplatesYAML []byte

type templateFile struct {
	Templates []models.Template `yaml:"templates"`
}

// DefaultTemplates returns the built-in reply templates
func DefaultTemplates() []models.Template {
	templates, err := ParseTemplatesYAML(defaultTemplatesYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in templates are invalid: %v", err))
	}
	return templates
}

// LoadTemplatesFile reads templates from a YAML file
func LoadTemplatesFile(path string) ([]models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}
	return ParseTemplatesYAML(data)
}

// ParseTemplatesYAML decodes a `templates:` document; undeclared variables are derived from the text
func ParseTemplatesYAML(data []byte) ([]models.Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	for i := range file.Templates {
		t := &file.Templates[i]
		if len(t.Variables) == 0 {
			t.Variables = models.Placeholders(t.Text)
		}
		t.Active = true
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Templates, nil
}

// MarshalTemplatesYAML encodes templates in the format ParseTemplatesYAML reads
func MarshalTemplatesYAML(templates []models.Template) ([]byte, error) {
	return yaml.Marshal(templateFile{Templates: templates})
}
