package mcpbridge

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	txcontext "github.com/txgraph/internal/context"
	"github.com/txgraph/internal/embedprovider"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	f, err := os.CreateTemp("", "mcpbridge-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	engine := taskgraph.NewEngine(db)
	scheduler := taskgraph.NewScheduler(db)
	ls := learning.NewStore(db)
	fb := feedback.NewTracker(db)
	pipe := retrieval.NewPipeline(ls, embedprovider.NoopProvider{}, fb)
	assembler := txcontext.NewAssembler(engine, pipe)

	b := NewBridge()
	RegisterTaskTools(b, engine, scheduler)
	RegisterLearningTools(b, ls, pipe, assembler)
	return b
}

func callTool(t *testing.T, b *Bridge, name string, args map[string]interface{}) Response {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]interface{}{"name": name, "arguments": args},
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := b.Serve(strings.NewReader(string(body)+"\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v (%s)", err, out.String())
	}
	return resp
}

func TestCreateTaskThenListReadyTool(t *testing.T) {
	b := newTestBridge(t)

	created := callTool(t, b, "create_task", map[string]interface{}{"title": "write the bridge tests"})
	if created.Error != nil {
		t.Fatalf("create_task failed: %+v", created.Error)
	}

	ready := callTool(t, b, "list_ready_tasks", nil)
	if ready.Error != nil {
		t.Fatalf("list_ready_tasks failed: %+v", ready.Error)
	}
}

func TestCreateTaskToolRequiresTitle(t *testing.T) {
	b := newTestBridge(t)
	resp := callTool(t, b, "create_task", map[string]interface{}{})
	if resp.Error == nil {
		t.Fatal("expected an error when title is missing")
	}
}

func TestCreateLearningAndSearchTool(t *testing.T) {
	b := newTestBridge(t)

	created := callTool(t, b, "create_learning", map[string]interface{}{"content": "retries need jitter"})
	if created.Error != nil {
		t.Fatalf("create_learning failed: %+v", created.Error)
	}

	found := callTool(t, b, "search_learnings", map[string]interface{}{"query": "retries jitter"})
	if found.Error != nil {
		t.Fatalf("search_learnings failed: %+v", found.Error)
	}
}

func TestGetTaskContextTool(t *testing.T) {
	b := newTestBridge(t)
	created := callTool(t, b, "create_task", map[string]interface{}{"title": "investigate flaky reaper"})
	if created.Error != nil {
		t.Fatalf("create_task failed: %+v", created.Error)
	}
	result, ok := created.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result object, got %T", created.Result)
	}
	content, ok := result["content"].([]interface{})
	if !ok || len(content) == 0 {
		t.Fatal("expected a non-empty content array")
	}
	text, ok := content[0].(map[string]interface{})["text"].(string)
	if !ok || text == "" {
		t.Fatal("expected tool result text to carry the created task JSON")
	}

	var task struct {
		ID string
	}
	if err := json.Unmarshal([]byte(text), &task); err != nil {
		t.Fatalf("failed to decode created task from tool text: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected a generated task id")
	}

	ctxResp := callTool(t, b, "get_task_context", map[string]interface{}{"taskId": task.ID})
	if ctxResp.Error != nil {
		t.Fatalf("get_task_context failed: %+v", ctxResp.Error)
	}
}
