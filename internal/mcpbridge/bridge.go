package mcpbridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
)

const protocolVersion = "2024-11-05"

// Bridge dispatches JSON-RPC 2.0 requests, one per line, read from an
// io.Reader and writes one response per line to an io.Writer. Grounded on
// internal/mcp/server.go's handleRequest switch.
type Bridge struct {
	tools *ToolRegistry
}

// NewBridge returns a bridge with no tools registered; callers wire
// domain-specific tools via RegisterTool before calling Serve.
func NewBridge() *Bridge {
	return &Bridge{tools: newToolRegistry()}
}

// RegisterTool adds a tool to the bridge's registry.
func (b *Bridge) RegisterTool(tool ToolDefinition) {
	b.tools.register(tool)
}

// Serve reads one JSON-RPC request per line from in until EOF or a read
// error, dispatching each and writing its response as a single line to out.
func (b *Bridge) Serve(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(errorResponse(nil, errParseError, "parse error")); encErr != nil {
				log.Printf("[MCPBRIDGE] failed to encode parse-error response: %v", encErr)
			}
			continue
		}
		resp := b.handleRequest(&req)
		if req.ID == nil {
			continue // notification; no response expected
		}
		if err := enc.Encode(resp); err != nil {
			log.Printf("[MCPBRIDGE] failed to encode response: %v", err)
		}
	}
	return scanner.Err()
}

func (b *Bridge) handleRequest(req *Request) Response {
	switch req.Method {
	case "initialize":
		return b.handleInitialize(req)
	case "tools/list":
		return resultResponse(req.ID, map[string]interface{}{"tools": b.tools.list()})
	case "tools/call":
		return b.handleToolsCall(req)
	default:
		return errorResponse(req.ID, errMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (b *Bridge) handleInitialize(req *Request) Response {
	return resultResponse(req.ID, map[string]interface{}{
		"protocolVersion": protocolVersion,
		"serverInfo":      map[string]string{"name": "txgraph", "version": "1.0.0"},
		"capabilities":    map[string]interface{}{"tools": map[string]bool{"listChanged": false}},
	})
}

func (b *Bridge) handleToolsCall(req *Request) Response {
	params, ok := req.Params.(map[string]interface{})
	if !ok {
		return errorResponse(req.ID, errInvalidParams, "invalid params")
	}
	toolName, _ := params["name"].(string)
	if toolName == "" {
		return errorResponse(req.ID, errInvalidParams, "tool name required")
	}
	toolArgs, _ := params["arguments"].(map[string]interface{})

	result, err := b.tools.execute(toolName, toolArgs)
	if err != nil {
		return errorResponse(req.ID, errInternal, err.Error())
	}

	text := fmt.Sprintf("%v", result)
	if jsonBytes, err := json.Marshal(result); err == nil {
		text = string(jsonBytes)
	}
	return resultResponse(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": text}},
	})
}
