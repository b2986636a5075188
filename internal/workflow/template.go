package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aristath/conductor/internal/scheduler"
)

var validate = validator.New()

// Template is the reusable blueprint of a workflow: everything except runtime
// state (id, created_at, state, results).
type Template struct {
	Name        string
	Description string
	Steps       []Step
	Metadata    map[string]any
}

// TemplateFromWorkflow extracts the blueprint of wf.
func TemplateFromWorkflow(wf Workflow) *Template {
	t := &Template{
		Name:        wf.Name,
		Description: wf.Description,
		Steps:       make([]Step, len(wf.Steps)),
		Metadata:    maps.Clone(wf.Metadata),
	}
	for i, s := range wf.Steps {
		t.Steps[i] = s.clone()
	}
	return t
}

// Format is a template serialization format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported template format: %s (use .yaml, .yml, or .json)", ext)
	}
}

// SaveTemplate writes the blueprint of wf to path. Parent directories are created.
func SaveTemplate(wf Workflow, path string) error {
	return WriteTemplate(TemplateFromWorkflow(wf), path)
}

// WriteTemplate writes t to path in the format implied by its extension.
func WriteTemplate(t *Template, path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := EncodeTemplate(t, format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing template to %s: %w", path, err)
	}
	return nil
}

// LoadTemplate reads and validates a template file.
func LoadTemplate(path string) (*Template, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return DecodeTemplate(data, format)
}

// EncodeTemplate serializes t.
func EncodeTemplate(t *Template, format Format) ([]byte, error) {
	doc := toDocument(t)
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode YAML: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported template format %q", format)
	}
}

// DecodeTemplate parses and validates a serialized template.
func DecodeTemplate(data []byte, format Format) (*Template, error) {
	var doc templateDocument
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case FormatJSON:
		if !json.Valid(data) {
			var syntaxErr any
			return nil, fmt.Errorf("parse JSON: %w", json.Unmarshal(data, &syntaxErr))
		}
		// JSON is read through the YAML decoder so integers stay int, as
		// they do for YAML templates.
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported template format %q", format)
	}

	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	t := doc.template()
	if _, err := buildGraph(t.Steps); err != nil {
		return nil, err
	}
	return t, nil
}

type templateDocument struct {
	Name        string         `yaml:"name" json:"name" validate:"required"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []templateStep `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

type templateStep struct {
	Name              string             `yaml:"name,omitempty" json:"name,omitempty"`
	ModuleName        string             `yaml:"module_name" json:"module_name" validate:"required"`
	Config            map[string]any     `yaml:"config,omitempty" json:"config,omitempty"`
	Dependencies      []string           `yaml:"dependencies,omitempty" json:"dependencies,omitempty" validate:"omitempty,dive,required"`
	RetryCount        int                `yaml:"retry_count" json:"retry_count" validate:"gte=0"`
	Timeout           duration           `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
	Priority          scheduler.Priority `yaml:"priority,omitempty" json:"priority,omitempty" validate:"gte=-1,lte=2"`
	ContinueOnFailure bool               `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
}

func toDocument(t *Template) templateDocument {
	doc := templateDocument{
		Name:        t.Name,
		Description: t.Description,
		Steps:       make([]templateStep, len(t.Steps)),
		Metadata:    t.Metadata,
	}
	for i, s := range t.Steps {
		doc.Steps[i] = templateStep{
			Name:              s.Name,
			ModuleName:        s.ModuleName,
			Config:            s.Config,
			Dependencies:      s.Dependencies,
			RetryCount:        s.RetryCount,
			Timeout:           duration(s.Timeout),
			Priority:          s.Priority,
			ContinueOnFailure: s.ContinueOnFailure,
		}
	}
	return doc
}

func (d templateDocument) template() *Template {
	t := &Template{
		Name:        d.Name,
		Description: d.Description,
		Steps:       make([]Step, len(d.Steps)),
		Metadata:    d.Metadata,
	}
	for i, s := range d.Steps {
		t.Steps[i] = Step{
			Name:              s.Name,
			ModuleName:        s.ModuleName,
			Config:            s.Config,
			Dependencies:      s.Dependencies,
			RetryCount:        s.RetryCount,
			Timeout:           time.Duration(s.Timeout),
			Priority:          s.Priority,
			ContinueOnFailure: s.ContinueOnFailure,
		}
	}
	return t
}

// duration serializes as a Go duration string and also accepts a bare number
// of seconds.
type duration time.Duration

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = duration(v)
	return nil
}
