// Command txctl is a single-binary operator CLI for the task graph,
// structurally adapted from cmd/dbctl/main.go's flag-based
// switch-dispatch shape (-db/-action/-json flags, fmt.Fprintf(os.Stderr,
// ...)+os.Exit(1) error convention), with dbctl's agent-heartbeat actions
// replaced by task-graph actions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/txgraph/internal/anchors"
	"github.com/txgraph/internal/claims"
	"github.com/txgraph/internal/embedprovider"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
	"github.com/txgraph/internal/txerrors"
)

func main() {
	dbPath := flag.String("db", "data/txgraph.db", "Path to the SQLite database")
	action := flag.String("action", "", "Action: ready, claim, done, search, anchor-verify, migrate")
	taskID := flag.String("task", "", "Task id")
	workerID := flag.String("worker", "", "Worker id")
	query := flag.String("query", "", "Search query")
	anchorID := flag.Int64("anchor", 0, "Anchor id")
	limit := flag.Int("limit", 20, "Result limit")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: txctl -db <path> -action <action> [flags] [-json]\n")
		fmt.Fprintf(os.Stderr, "Actions: ready, claim, done, search, anchor-verify, migrate\n")
		os.Exit(1)
	}

	db, err := storage.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	var result interface{}
	var runErr error

	switch *action {
	case "ready":
		scheduler := taskgraph.NewScheduler(db)
		result, runErr = scheduler.GetReady(*limit, true)
	case "claim":
		if *taskID == "" || *workerID == "" {
			fmt.Fprintln(os.Stderr, "claim requires -task and -worker")
			os.Exit(1)
		}
		claimsMgr := claims.NewManager(db, 0, 0, 0)
		result, runErr = claimsMgr.Acquire(*taskID, *workerID)
	case "done":
		if *taskID == "" {
			fmt.Fprintln(os.Stderr, "done requires -task")
			os.Exit(1)
		}
		engine := taskgraph.NewEngine(db)
		status := taskgraph.StatusDone
		result, runErr = engine.Update(*taskID, taskgraph.UpdatePatch{Status: &status})
	case "search":
		if *query == "" {
			fmt.Fprintln(os.Stderr, "search requires -query")
			os.Exit(1)
		}
		ls := learning.NewStore(db)
		fb := feedback.NewTracker(db)
		pipeline := retrieval.NewPipeline(ls, embedprovider.NoopProvider{}, fb)
		opts := retrieval.DefaultOptions()
		opts.Limit = *limit
		result, runErr = pipeline.Search(context.Background(), *query, opts)
	case "anchor-verify":
		if *anchorID == 0 {
			fmt.Fprintln(os.Stderr, "anchor-verify requires -anchor")
			os.Exit(1)
		}
		store := anchors.NewStore(db)
		anchor, err := store.Get(*anchorID)
		if err != nil {
			runErr = err
			break
		}
		result, runErr = anchors.NewVerifier(store).Verify(anchor)
	case "migrate":
		result = map[string]string{"status": "ok", "db": *dbPath}
	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(1)
	}

	if runErr != nil {
		exitWithError(runErr, *jsonOutput)
	}
	printResult(result, *jsonOutput)
}

func exitWithError(err error, jsonOutput bool) {
	code := exitCodeForKind(txerrors.KindOf(err))
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.Encode(map[string]string{"error": err.Error()})
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(code)
}

// exitCodeForKind maps a txerrors.Kind to a process exit code: NotFound
// exits 2 and every other kind exits 1 (success exits 0).
func exitCodeForKind(k txerrors.Kind) int {
	switch k {
	case txerrors.NotFound:
		return 2
	default:
		return 1
	}
}

func printResult(result interface{}, jsonOutput bool) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Printf("%+v\n", result)
}
