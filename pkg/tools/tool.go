package tools

import (
	"encoding/json"
	"fmt"
)

type ToolType string

const ToolTypeFunction ToolType = "function"

// Tool is one callable capability as offered to the model.
//
// Name is the externally visible name. For tools coming from a tool server it
// may differ from the server-local name; see the catalog package.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Parameters is the JSON schema of the arguments object.
	Parameters any `json:"parameters,omitempty"`
	// Source is the URL of the tool server that exposes the tool.
	Source string `json:"source,omitempty"`
	// SourceName is the configured display name of that server, if any.
	SourceName string `json:"source_name,omitempty"`
}

// ParametersMap returns Parameters as a JSON object, defaulting to an empty object schema.
func (t Tool) ParametersMap() (map[string]any, error) {
	switch p := t.Parameters.(type) {
	case nil:
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	case map[string]any:
		return p, nil
	}

	buf, err := json.Marshal(t.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshaling parameters of %q: %w", t.Name, err)
	}
	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("parameters of %q are not an object: %w", t.Name, err)
	}
	if m == nil {
		m = map[string]any{"type": "object"}
	}
	return m, nil
}

type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type ToolCallResult struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError,omitempty"`
}

func ResultSuccess(output string) *ToolCallResult {
	return &ToolCallResult{Output: output}
}

func ResultError(output string) *ToolCallResult {
	return &ToolCallResult{Output: output, IsError: true}
}
