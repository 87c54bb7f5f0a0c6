package notify

import (
	"bytes"
	"errors"
	"text/template"
)

// DefaultTemplate is the notification body rendered when no custom template
// is configured.
const DefaultTemplate = `[{{.Severity}}] {{.FaultType}} on {{.DeviceName}}
Condition: {{.Message}}
Measured: {{.Value}}
Threshold: {{.Threshold}}
Detected At: {{.DetectedAt}}
Advice: {{.Advice}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	DeviceID   string
	DeviceName string
	FaultType  string
	Severity   string
	Message    string
	Value      string
	Threshold  string
	DetectedAt string
	Advice     string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("fault-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("fault template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
