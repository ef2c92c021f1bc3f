package notifybus

import (
	"encoding/json"
	"testing"
	"time"

	txnats "github.com/txgraph/internal/nats"
)

func startTestServer(t *testing.T) *txnats.EmbeddedServer {
	t.Helper()
	srv, err := txnats.NewEmbeddedServer(txnats.EmbeddedServerConfig{Port: 18222})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestPublishTaskReadyDeliversEvent(t *testing.T) {
	srv := startTestServer(t)

	bus, err := Connect(srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Close()

	sub, err := bus.conn.SubscribeSync(SubjectTaskReady)
	if err != nil {
		t.Fatal(err)
	}

	event := TaskReadyEvent{TaskID: "tx-aaa111", Score: 800, Reason: "blocker_done", Timestamp: time.Unix(0, 0).UTC()}
	if err := bus.PublishTaskReady(event); err != nil {
		t.Fatalf("PublishTaskReady failed: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected to receive a message, got error: %v", err)
	}
	var got TaskReadyEvent
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.TaskID != event.TaskID || got.Reason != event.Reason {
		t.Errorf("expected %+v, got %+v", event, got)
	}
}

func TestNilBusDegradesGracefully(t *testing.T) {
	var bus *Bus
	if err := bus.PublishTaskReady(TaskReadyEvent{}); err != nil {
		t.Errorf("expected a nil bus to no-op rather than error, got %v", err)
	}
	bus.Close() // must not panic
}
