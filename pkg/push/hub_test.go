package push

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"site-deployer/pkg/database"
)

type registered struct {
	jobID        string
	connectionID string
}

type fakeRegistry struct {
	calls []registered
	err   error
}

func (r *fakeRegistry) RegisterConnection(_ context.Context, id, connectionID string) error {
	r.calls = append(r.calls, registered{id, connectionID})
	return r.err
}

func newTestHub(reg Registry) *Hub {
	return NewHub(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPostToUnknownConnectionIsGone(t *testing.T) {
	h := newTestHub(&fakeRegistry{})
	err := h.Post(context.Background(), "no-such-conn", map[string]string{"hello": "world"})
	if !errors.Is(err, ErrGone) {
		t.Fatalf("Post = %v, want ErrGone", err)
	}
}

func TestRegisterBindsLowercasedJobID(t *testing.T) {
	reg := &fakeRegistry{}
	h := newTestHub(reg)

	reply := h.handleAction(context.Background(), "conn-1", []byte(`{"action":"register","id":"ABC123"}`))

	if len(reg.calls) != 1 {
		t.Fatalf("got %d register calls, want 1", len(reg.calls))
	}
	if reg.calls[0].jobID != "abc123" || reg.calls[0].connectionID != "conn-1" {
		t.Fatalf("registered %+v, want abc123/conn-1", reg.calls[0])
	}
	if reply.Type != "SYSTEM" || !strings.Contains(reply.Message, "abc123") {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestRegisterAgainstMissingJobFails(t *testing.T) {
	reg := &fakeRegistry{err: database.ErrNotFound}
	h := newTestHub(reg)

	reply := h.handleAction(context.Background(), "conn-1", []byte(`{"action":"register","id":"ghost1"}`))

	if reply.Type != "SYSTEM" || !strings.Contains(reply.Message, "failed") {
		t.Fatalf("missing job must produce a registration failure, got %+v", reply)
	}
	// The registry saw exactly one conditional bind attempt and nothing
	// that could have created a row.
	if len(reg.calls) != 1 {
		t.Fatalf("got %d registry calls, want 1", len(reg.calls))
	}
}

func TestUnknownActionIsRejected(t *testing.T) {
	reg := &fakeRegistry{}
	h := newTestHub(reg)

	reply := h.handleAction(context.Background(), "conn-1", []byte(`{"action":"subscribe","id":"abc123"}`))
	if !strings.Contains(reply.Message, "unknown action") {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if len(reg.calls) != 0 {
		t.Fatalf("unknown action reached the registry: %+v", reg.calls)
	}
}

func TestMalformedClientMessageIsRejected(t *testing.T) {
	reg := &fakeRegistry{}
	h := newTestHub(reg)

	reply := h.handleAction(context.Background(), "conn-1", []byte(`{nope`))
	if reply.Type != "SYSTEM" || len(reg.calls) != 0 {
		t.Fatalf("malformed message must not reach the registry: %+v, calls %v", reply, reg.calls)
	}
}
