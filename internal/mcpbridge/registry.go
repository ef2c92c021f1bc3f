package mcpbridge

import "fmt"

// ToolHandler executes a tool call against the wired domain services.
type ToolHandler func(params map[string]interface{}) (interface{}, error)

// ParameterDef describes one tool input field, adapted from
// internal/mcp/tools.go's ParameterDef.
type ParameterDef struct {
	Type        string
	Description string
	Required    bool
}

// ToolDefinition describes one MCP tool, adapted from
// internal/mcp/tools.go's ToolDefinition (agentID-scoped handler dropped:
// this bridge serves one caller per process).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]ParameterDef
	Handler     ToolHandler
}

// ToolRegistry holds the tools this bridge instance exposes.
type ToolRegistry struct {
	tools map[string]ToolDefinition
	order []string
}

func newToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolDefinition)}
}

func (r *ToolRegistry) register(tool ToolDefinition) {
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// list renders the tools/list payload in MCP's inputSchema shape.
func (r *ToolRegistry) list() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		props := make(map[string]interface{}, len(tool.Parameters))
		var required []string
		for pname, def := range tool.Parameters {
			props[pname] = map[string]interface{}{"type": def.Type, "description": def.Description}
			if def.Required {
				required = append(required, pname)
			}
		}
		out = append(out, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		})
	}
	return out
}

func (r *ToolRegistry) execute(name string, params map[string]interface{}) (interface{}, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Handler(params)
}
