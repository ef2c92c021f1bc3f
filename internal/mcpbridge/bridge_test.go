package mcpbridge

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestBridgeInitialize(t *testing.T) {
	b := NewBridge()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")
	var out bytes.Buffer
	if err := b.Serve(in, &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v (%s)", err, out.String())
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a result object, got %T", resp.Result)
	}
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v, want %q", result["protocolVersion"], protocolVersion)
	}
}

func TestBridgeToolsListAndCall(t *testing.T) {
	b := NewBridge()
	b.RegisterTool(ToolDefinition{
		Name:        "echo",
		Description: "echoes its input",
		Parameters: map[string]ParameterDef{
			"text": {Type: "string", Required: true},
		},
		Handler: func(params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	})

	listReq := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n"
	callReq := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}` + "\n"
	in := strings.NewReader(listReq + callReq)
	var out bytes.Buffer
	if err := b.Serve(in, &out); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 response lines, got %d: %v", len(lines), lines)
	}

	var listResp Response
	if err := json.Unmarshal([]byte(lines[0]), &listResp); err != nil {
		t.Fatal(err)
	}
	listResult := listResp.Result.(map[string]interface{})
	tools := listResult["tools"].([]interface{})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}

	var callResp Response
	if err := json.Unmarshal([]byte(lines[1]), &callResp); err != nil {
		t.Fatal(err)
	}
	if callResp.Error != nil {
		t.Fatalf("unexpected error: %+v", callResp.Error)
	}
}

func TestBridgeUnknownMethod(t *testing.T) {
	b := NewBridge()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"bogus"}` + "\n")
	var out bytes.Buffer
	if err := b.Serve(in, &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != errMethodNotFound {
		t.Fatalf("expected a method-not-found error, got %+v", resp.Error)
	}
}

func TestBridgeUnknownToolReturnsError(t *testing.T) {
	b := NewBridge()
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}` + "\n")
	var out bytes.Buffer
	if err := b.Serve(in, &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil {
		t.Fatal("expected an error calling an unregistered tool")
	}
}

func TestBridgeSkipsResponseForNotifications(t *testing.T) {
	b := NewBridge()
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"initialize"}` + "\n")
	var out bytes.Buffer
	if err := b.Serve(in, &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no response for a request with no id, got %q", out.String())
	}
}
