package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/callrelay/internal/protocol"
)

//go:embed default_script.yaml
var defaultScript []byte

// OutcomeField is the argument of the outcome tool that carries the category.
const OutcomeField = "resultado"

// Script is what the model is told to do on every call.
type Script struct {
	Model        string  `yaml:"model"`
	Voice        string  `yaml:"voice"`
	Temperature  float64 `yaml:"temperature"`
	Instructions string  `yaml:"instructions"`
	Greeting     string  `yaml:"greeting"`
	Answer       Answer  `yaml:"answer"`
	OutcomeTool  string  `yaml:"outcome_tool"`
	Tools        []Tool  `yaml:"tools"`
}

// Answer is the spoken preamble of the voice webhook.
type Answer struct {
	Voice        string   `yaml:"voice"`
	Language     string   `yaml:"language"`
	Say          []string `yaml:"say"`
	PauseSeconds int      `yaml:"pause_seconds"`
}

// Tool is a function the model may call. Parameters is a JSON schema.
type Tool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// DefaultScript returns the embedded script.
func DefaultScript() *Script {
	s, err := ParseScript(defaultScript)
	if err != nil {
		panic(fmt.Sprintf("embedded script: %v", err))
	}
	return s
}

// LoadScript reads the script at path, or the embedded one when path is empty.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return DefaultScript(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript decodes and validates a YAML script.
func ParseScript(data []byte) (*Script, error) {
	s := &Script{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if s.Voice == "" {
		s.Voice = "shimmer"
	}
	if s.Temperature == 0 {
		s.Temperature = 0.6
	}
	if s.Instructions == "" {
		return nil, fmt.Errorf("script instructions are required")
	}
	if s.Model == "" {
		return nil, fmt.Errorf("script model is required")
	}
	seen := make(map[string]bool, len(s.Tools))
	for _, t := range s.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("script tool without name")
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate script tool %s", t.Name)
		}
		seen[t.Name] = true
	}
	if s.OutcomeTool != "" && !seen[s.OutcomeTool] {
		return nil, fmt.Errorf("outcome tool %s is not declared in tools", s.OutcomeTool)
	}
	return s, nil
}

// Tool returns the declared tool with the given name.
func (s *Script) Tool(name string) (Tool, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// ToolDefinitions converts the tool catalog to the model wire format.
func (s *Script) ToolDefinitions() []protocol.ToolDefinition {
	defs := make([]protocol.ToolDefinition, 0, len(s.Tools))
	for _, t := range s.Tools {
		defs = append(defs, protocol.ToolDefinition{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// OutcomeCategories returns the enum of the outcome tool's category argument.
func (s *Script) OutcomeCategories() []string {
	t, ok := s.Tool(s.OutcomeTool)
	if !ok {
		return nil
	}
	props, _ := t.Parameters["properties"].(map[string]any)
	field, _ := props[OutcomeField].(map[string]any)
	values, _ := field["enum"].([]any)

	out := make([]string, 0, len(values))
	for _, v := range values {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}
