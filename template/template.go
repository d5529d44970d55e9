// Package template defines the Template tagged variant (AdTemplate or
// GeneralPrompt) along with its two on-the-wire encodings: a
// tag-per-variant YAML document on disk (!AdTemplate / !GeneralPrompt)
// and a {mode: {Variant: {...}}} JSON shape over the API, matching the
// teacher framework's convention of keeping YAML for on-disk
// configuration (orchestration.WorkflowDefinition) and JSON for the HTTP
// surface.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Template is implemented by AdTemplate and GeneralPrompt.
type Template interface {
	mode() string
}

// AdTemplate fans out over an ordered, non-empty list of styles.
type AdTemplate struct {
	Brand   string   `yaml:"brand" json:"brand"`
	Product string   `yaml:"product" json:"product"`
	Styles  []string `yaml:"styles" json:"styles"`
}

func (AdTemplate) mode() string { return "AdTemplate" }

// GeneralPrompt yields the same prompt string indefinitely.
type GeneralPrompt struct {
	Prompt string `yaml:"prompt" json:"prompt"`
}

func (GeneralPrompt) mode() string { return "GeneralPrompt" }

// Validate checks the non-goal-free invariants from spec §3.
func Validate(t Template) error {
	switch v := t.(type) {
	case *AdTemplate:
		if v.Brand == "" || v.Product == "" {
			return fmt.Errorf("AdTemplate requires non-empty brand and product")
		}
		if len(v.Styles) == 0 {
			return fmt.Errorf("AdTemplate.styles must be a non-empty sequence")
		}
	case *GeneralPrompt:
		if v.Prompt == "" {
			return fmt.Errorf("GeneralPrompt.prompt must be non-empty")
		}
	default:
		return fmt.Errorf("unknown template type %T", t)
	}
	return nil
}

// Doc wraps a Template for (de)serialization. The zero Doc is invalid;
// construct with NewDoc or via Unmarshal.
type Doc struct {
	Template Template
}

func NewDoc(t Template) Doc { return Doc{Template: t} }

// --- YAML: tag-per-variant ---

func (d Doc) MarshalYAML() (interface{}, error) {
	var node yaml.Node
	switch t := d.Template.(type) {
	case *AdTemplate:
		if err := node.Encode(t); err != nil {
			return nil, err
		}
		node.Tag = "!AdTemplate"
	case *GeneralPrompt:
		if err := node.Encode(t); err != nil {
			return nil, err
		}
		node.Tag = "!GeneralPrompt"
	default:
		return nil, fmt.Errorf("template: marshal: unknown type %T", d.Template)
	}
	return &node, nil
}

func (d *Doc) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!AdTemplate":
		var t AdTemplate
		if err := node.Decode(&t); err != nil {
			return fmt.Errorf("template: decode AdTemplate: %w", err)
		}
		if err := Validate(&t); err != nil {
			return err
		}
		d.Template = &t
	case "!GeneralPrompt":
		var t GeneralPrompt
		if err := node.Decode(&t); err != nil {
			return fmt.Errorf("template: decode GeneralPrompt: %w", err)
		}
		if err := Validate(&t); err != nil {
			return err
		}
		d.Template = &t
	default:
		return fmt.Errorf("template: unrecognized YAML tag %q (want !AdTemplate or !GeneralPrompt)", node.Tag)
	}
	return nil
}

// --- JSON: {mode: {Variant: {...}}} ---

type wireDoc struct {
	Mode struct {
		AdTemplate    *AdTemplate    `json:"AdTemplate,omitempty"`
		GeneralPrompt *GeneralPrompt `json:"GeneralPrompt,omitempty"`
	} `json:"mode"`
}

func (d Doc) MarshalJSON() ([]byte, error) {
	var wire wireDoc
	switch t := d.Template.(type) {
	case *AdTemplate:
		wire.Mode.AdTemplate = t
	case *GeneralPrompt:
		wire.Mode.GeneralPrompt = t
	default:
		return nil, fmt.Errorf("template: marshal: unknown type %T", d.Template)
	}
	return json.Marshal(wire)
}

func (d *Doc) UnmarshalJSON(data []byte) error {
	var wire wireDoc
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch {
	case wire.Mode.AdTemplate != nil:
		if err := Validate(wire.Mode.AdTemplate); err != nil {
			return err
		}
		d.Template = wire.Mode.AdTemplate
	case wire.Mode.GeneralPrompt != nil:
		if err := Validate(wire.Mode.GeneralPrompt); err != nil {
			return err
		}
		d.Template = wire.Mode.GeneralPrompt
	default:
		return fmt.Errorf("template: JSON body missing mode.AdTemplate or mode.GeneralPrompt")
	}
	return nil
}

// LoadFile reads a tagged YAML template document from path.
func LoadFile(path string) (Doc, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Doc{}, fmt.Errorf("read template %s: %w", path, err)
	}
	var doc Doc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Doc{}, fmt.Errorf("parse template %s: %w", path, err)
	}
	return doc, nil
}

// SaveFile atomically writes doc as tagged YAML to path.
func SaveFile(path string, doc Doc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".template-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp template file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp template file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp template file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp template file: %w", err)
	}
	return nil
}
