// Package loader turns declarative bot documents (YAML or JSON) into
// finalized workflow definitions. Documents are validated against an
// embedded JSON Schema before any construction happens, so authoring
// mistakes surface as one structured error instead of a half-built graph.
package loader

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/rendis/botflow/pkg/schema"
)

// Document is the declarative description of one bot workflow. Plugins nest
// the same shape recursively.
type Document struct {
	Name    string   `mapstructure:"name" json:"name"`
	Start   string   `mapstructure:"start" json:"start"`
	Outputs []string `mapstructure:"outputs" json:"outputs,omitempty"`
	Engines []string `mapstructure:"engines" json:"engines,omitempty"`

	Plugins map[string]*Document `mapstructure:"plugins" json:"plugins,omitempty"`
	Tasks   []TaskDoc            `mapstructure:"tasks" json:"tasks"`
}

// TaskDoc is one task declaration. Which fields apply depends on Type.
type TaskDoc struct {
	Name string `mapstructure:"name" json:"name"`
	Type string `mapstructure:"type" json:"type"`

	// Presentation (display and input tasks).
	Message      string   `mapstructure:"message" json:"message,omitempty"`
	Options      []string `mapstructure:"options" json:"options,omitempty"`
	Dialog       string   `mapstructure:"dialog" json:"dialog,omitempty"`
	MenuSelector string   `mapstructure:"menu_selector" json:"menu_selector,omitempty"`
	MenuTitle    string   `mapstructure:"menu_title" json:"menu_title,omitempty"`
	MediaURL     string   `mapstructure:"media_url" json:"media_url,omitempty"`
	Channel      string   `mapstructure:"channel" json:"channel,omitempty"`

	// Display task routing.
	Dest string `mapstructure:"dest" json:"dest,omitempty"`

	// Input task routing and validation.
	WriteVar   string `mapstructure:"write_var" json:"write_var,omitempty"`
	Validation string `mapstructure:"validation" json:"validation,omitempty"`
	OnSuccess  string `mapstructure:"on_success" json:"on_success,omitempty"`
	OnFail     string `mapstructure:"on_fail" json:"on_fail,omitempty"`

	// Branching task.
	Rules []RuleDoc `mapstructure:"rules" json:"rules,omitempty"`

	// Plugin task.
	Plugin     string            `mapstructure:"plugin" json:"plugin,omitempty"`
	InputVars  map[string]string `mapstructure:"input_vars" json:"input_vars,omitempty"`
	OutputVars map[string]string `mapstructure:"output_vars" json:"output_vars,omitempty"`
}

// RuleDoc is one routing arm of a branching or plugin task. A rule with no
// condition is the fallback.
type RuleDoc struct {
	Dest       string `mapstructure:"dest" json:"dest"`
	Guard      string `mapstructure:"guard" json:"guard,omitempty"`
	Variable   string `mapstructure:"variable" json:"variable,omitempty"`
	Expression string `mapstructure:"expression" json:"expression,omitempty"`
	Engine     string `mapstructure:"engine" json:"engine,omitempty"`
	Code       string `mapstructure:"code" json:"code,omitempty"`
}

// Task type discriminators.
const (
	TaskDisplay = "display"
	TaskInput   = "input"
	TaskBranch  = "branch"
	TaskPlugin  = "plugin"
)

// Parse decodes raw YAML or JSON into a Document after schema validation.
// YAML is a superset of JSON, so both formats go through the same decoder.
func Parse(raw []byte) (*Document, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "bot document is not valid YAML or JSON").WithCause(err)
	}

	if err := validateDocument(generic); err != nil {
		return nil, err
	}

	doc := &Document{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      doc,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "cannot build document decoder").WithCause(err)
	}
	if err := dec.Decode(generic); err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "cannot decode bot document").WithCause(err)
	}
	return doc, nil
}

// jsonDoc round-trips the parsed document through JSON so the schema
// validator sees json.Number values.
func jsonDoc(generic map[string]any) ([]byte, error) {
	return json.Marshal(generic)
}
