package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckWebSocketOriginAllowsEmptyAndLocalhost(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	if !checkWebSocketOrigin(req) {
		t.Error("expected no Origin header to be allowed")
	}

	req = httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://localhost:4000")
	if !checkWebSocketOrigin(req) {
		t.Error("expected any localhost origin to be allowed")
	}
}

func TestCheckWebSocketOriginRejectsUnknownHost(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if checkWebSocketOrigin(req) {
		t.Error("expected an unlisted origin to be rejected")
	}
}

func TestLiveHubBroadcastReachesRegisteredClient(t *testing.T) {
	hub := newLiveHub()
	go hub.run()

	client := &liveClient{hub: hub, send: make(chan []byte, WebSocketBufferSize)}
	hub.register <- client
	hub.broadcastEvent(Event{Type: EventTaskReady, Data: map[string]any{"taskId": "tx-aaa111"}})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected a non-empty broadcast payload")
		}
	case <-time.After(2 * time.Second):
		t.Error("expected the registered client to receive the broadcast")
	}
}

func TestServerPublishHelpersNoopWithoutLiveHub(t *testing.T) {
	s := &Server{}
	s.PublishTaskReady("tx-aaa111", 800)
	s.PublishClaimReleased("tx-aaa111", "worker-1")
	s.PublishLearningCreated(1)
}
