package mcpbridge

import (
	"context"
	"fmt"

	txcontext "github.com/txgraph/internal/context"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/retrieval"
)

// RegisterLearningTools wires the learning store, retrieval pipeline, and
// context assembler onto the bridge.
func RegisterLearningTools(b *Bridge, store *learning.Store, pipeline *retrieval.Pipeline, assembler *txcontext.Assembler) {
	b.RegisterTool(ToolDefinition{
		Name:        "search_learnings",
		Description: "Search past learnings by BM25+semantic+recency+feedback ranking",
		Parameters: map[string]ParameterDef{
			"query": {Type: "string", Description: "search text", Required: true},
			"limit": {Type: "integer", Description: "max results, default 10"},
		},
		Handler: func(params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			opts := retrieval.DefaultOptions()
			if limit, ok := params["limit"].(float64); ok && limit > 0 {
				opts.Limit = int(limit)
			}
			return pipeline.Search(context.Background(), query, opts)
		},
	})

	b.RegisterTool(ToolDefinition{
		Name:        "create_learning",
		Description: "Record a new learning entry",
		Parameters: map[string]ParameterDef{
			"content":  {Type: "string", Description: "learning text", Required: true},
			"category": {Type: "string", Description: "learning category"},
		},
		Handler: func(params map[string]interface{}) (interface{}, error) {
			content, _ := params["content"].(string)
			if content == "" {
				return nil, fmt.Errorf("content is required")
			}
			l := &learning.Learning{Content: content}
			if category, ok := params["category"].(string); ok && category != "" {
				l.Category = &category
			}
			if err := store.Create(l); err != nil {
				return nil, err
			}
			return l, nil
		},
	})

	b.RegisterTool(ToolDefinition{
		Name:        "get_task_context",
		Description: "Assemble the context bundle (task title, ranked learnings, search query and duration) for a task",
		Parameters: map[string]ParameterDef{
			"taskId": {Type: "string", Description: "task id", Required: true},
		},
		Handler: func(params map[string]interface{}) (interface{}, error) {
			taskID, _ := params["taskId"].(string)
			if taskID == "" {
				return nil, fmt.Errorf("taskId is required")
			}
			return assembler.GetContext(context.Background(), taskID)
		},
	})
}
