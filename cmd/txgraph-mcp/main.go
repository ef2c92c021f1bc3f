// Command txgraph-mcp is a stdio MCP bridge: it opens the same SQLite
// database the daemon serves and exposes task/learning/context operations
// as JSON-RPC tool calls over stdin/stdout, for an MCP client to spawn as a
// child process. Boot order (config -> db -> subsystems) mirrors
// cmd/txgraphd/main.go's.
package main

import (
	"fmt"
	"log"
	"os"

	"flag"

	"github.com/txgraph/internal/config"
	"github.com/txgraph/internal/context"
	"github.com/txgraph/internal/embedprovider"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/mcpbridge"
	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database %s: %v\n", cfg.DBPath, err)
		os.Exit(1)
	}
	defer db.Close()

	engine := taskgraph.NewEngine(db)
	scheduler := taskgraph.NewScheduler(db)
	ls := learning.NewStore(db)
	fb := feedback.NewTracker(db)
	pipeline := retrieval.NewPipeline(ls, embedprovider.NoopProvider{}, fb)
	assembler := context.NewAssembler(engine, pipeline)

	bridge := mcpbridge.NewBridge()
	mcpbridge.RegisterTaskTools(bridge, engine, scheduler)
	mcpbridge.RegisterLearningTools(bridge, ls, pipeline, assembler)

	log.SetOutput(os.Stderr) // stdout is reserved for JSON-RPC frames
	log.Println("[TXGRAPH-MCP] serving tools over stdio")
	if err := bridge.Serve(os.Stdin, os.Stdout); err != nil {
		log.Printf("[TXGRAPH-MCP] stdio loop ended: %v", err)
	}
}
