package websocket

import (
	"encoding/json"
	"testing"

	"legal-qa-be/internal/pkg/logger"

	"github.com/google/uuid"
)

type silentLogger struct{}

func (silentLogger) Info(module, message string, details map[string]interface{})  {}
func (silentLogger) Warn(module, message string, details map[string]interface{})  {}
func (silentLogger) Error(module, message string, details map[string]interface{}) {}
func (silentLogger) Debug(module, message string, details map[string]interface{}) {}
func (silentLogger) Sync() error                                                  { return nil }

var _ logger.ILogger = silentLogger{}

func watcherFor(h *Hub, sessionID uuid.UUID) *Client {
	c := &Client{Hub: h, SessionID: sessionID, Send: make(chan []byte, 8)}
	h.mu.Lock()
	h.clients[sessionID] = append(h.clients[sessionID], c)
	h.mu.Unlock()
	return c
}

func relayPayload(origin string, sessionID uuid.UUID, msg string) []byte {
	raw, _ := json.Marshal(map[string]interface{}{
		"origin":            origin,
		"target_session_id": sessionID.String(),
		"message":           json.RawMessage(msg),
	})
	return raw
}

func TestRelayedSnapshotSkipsOwnPublications(t *testing.T) {
	h := NewHub(nil, silentLogger{})
	sessionID := uuid.New()
	watcher := watcherFor(h, sessionID)

	// A publication that looped back from this instance is dropped.
	h.handleRedisPayload(relayPayload(h.instanceID, sessionID, `{"type":"stage_update"}`))
	if got := len(watcher.Send); got != 0 {
		t.Fatalf("own publication delivered %d times, want 0", got)
	}

	// One from another instance is delivered once.
	h.handleRedisPayload(relayPayload("other-instance", sessionID, `{"type":"stage_update"}`))
	if got := len(watcher.Send); got != 1 {
		t.Fatalf("foreign publication delivered %d times, want 1", got)
	}
}

func TestRelayedSnapshotIgnoresMalformedPayloads(t *testing.T) {
	h := NewHub(nil, silentLogger{})
	watcher := watcherFor(h, uuid.New())

	h.handleRedisPayload([]byte("not json"))
	h.handleRedisPayload([]byte(`{"origin":"other","target_session_id":"not-a-uuid","message":{}}`))

	if got := len(watcher.Send); got != 0 {
		t.Fatalf("malformed payloads delivered %d messages, want 0", got)
	}
}
