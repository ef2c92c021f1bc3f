package mcpbridge

import (
	"fmt"

	"github.com/txgraph/internal/taskgraph"
)

// RegisterTaskTools wires the task graph onto the bridge as MCP tools,
// grounded on internal/mcp/handlers.go's pattern of one ToolDefinition per
// domain operation with a thin params->typed-input translation.
func RegisterTaskTools(b *Bridge, engine *taskgraph.Engine, scheduler *taskgraph.Scheduler) {
	b.RegisterTool(ToolDefinition{
		Name:        "list_ready_tasks",
		Description: "List the top workable tasks ordered by score, skipping any with an active claim",
		Parameters: map[string]ParameterDef{
			"limit": {Type: "integer", Description: "max tasks to return, default 20"},
		},
		Handler: func(params map[string]interface{}) (interface{}, error) {
			limit := 20
			if v, ok := params["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}
			return scheduler.GetReady(limit, true)
		},
	})

	b.RegisterTool(ToolDefinition{
		Name:        "create_task",
		Description: "Create a new task in the graph",
		Parameters: map[string]ParameterDef{
			"title":       {Type: "string", Description: "task title", Required: true},
			"description": {Type: "string", Description: "task description"},
			"score":       {Type: "integer", Description: "urgency score in [0,1000]"},
			"parentId":    {Type: "string", Description: "parent task id"},
		},
		Handler: func(params map[string]interface{}) (interface{}, error) {
			title, _ := params["title"].(string)
			if title == "" {
				return nil, fmt.Errorf("title is required")
			}
			in := taskgraph.CreateInput{Title: title}
			if desc, ok := params["description"].(string); ok {
				in.Description = desc
			}
			if score, ok := params["score"].(float64); ok {
				s := int(score)
				in.Score = &s
			}
			if parentID, ok := params["parentId"].(string); ok && parentID != "" {
				in.ParentID = &parentID
			}
			return engine.Create(in)
		},
	})

	b.RegisterTool(ToolDefinition{
		Name:        "update_task",
		Description: "Patch a task's status or score",
		Parameters: map[string]ParameterDef{
			"id":     {Type: "string", Description: "task id", Required: true},
			"status": {Type: "string", Description: "new status"},
			"score":  {Type: "integer", Description: "new urgency score"},
		},
		Handler: func(params map[string]interface{}) (interface{}, error) {
			id, _ := params["id"].(string)
			if id == "" {
				return nil, fmt.Errorf("id is required")
			}
			patch := taskgraph.UpdatePatch{}
			if status, ok := params["status"].(string); ok && status != "" {
				s := taskgraph.Status(status)
				patch.Status = &s
			}
			if score, ok := params["score"].(float64); ok {
				s := int(score)
				patch.Score = &s
			}
			return engine.Update(id, patch)
		},
	})

	b.RegisterTool(ToolDefinition{
		Name:        "get_task",
		Description: "Fetch a task with its blocker/blocked-by ids",
		Parameters: map[string]ParameterDef{
			"id": {Type: "string", Description: "task id", Required: true},
		},
		Handler: func(params map[string]interface{}) (interface{}, error) {
			id, _ := params["id"].(string)
			if id == "" {
				return nil, fmt.Errorf("id is required")
			}
			return engine.GetWithDeps(id)
		},
	})
}
