package plugin

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/datastore/id"
	"github.com/xraph/datastore/pending"
)

// testPlugin implements Plugin + AfterFlush + EntityPersisted.
type testPlugin struct {
	afterFlushStats pending.Stats
	persisted       []string
}

func (t *testPlugin) Name() string { return "test-plugin" }

func (t *testPlugin) OnAfterFlush(_ context.Context, _ id.SessionID, stats pending.Stats, _ time.Duration) error {
	t.afterFlushStats = stats
	return nil
}

func (t *testPlugin) OnEntityPersisted(_ context.Context, entity string, _ any) error {
	t.persisted = append(t.persisted, entity)
	return nil
}

// minimalPlugin only implements Plugin (no hooks).
type minimalPlugin struct{}

func (m *minimalPlugin) Name() string { return "minimal" }

// failingPlugin returns an error from its hook.
type failingPlugin struct{}

func (f *failingPlugin) Name() string { return "failing" }

func (f *failingPlugin) OnSessionOpened(context.Context, id.SessionID, bool) error {
	return errors.New("nope")
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(slog.Default())

	tp := &testPlugin{}
	reg.Register(tp)
	reg.Register(&minimalPlugin{})

	if len(reg.Plugins()) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(reg.Plugins()))
	}

	reg.EmitAfterFlush(ctx, id.NewSessionID(), pending.Stats{Inserts: 2, Updates: 1}, time.Millisecond)
	if tp.afterFlushStats.Total() != 3 {
		t.Fatalf("OnAfterFlush stats = %+v", tp.afterFlushStats)
	}

	reg.EmitEntityPersisted(ctx, "Author", int64(1))
	if len(tp.persisted) != 1 || tp.persisted[0] != "Author" {
		t.Fatalf("OnEntityPersisted = %v", tp.persisted)
	}

	// Should not panic on hooks with no listeners.
	sid := id.NewSessionID()
	reg.EmitSessionOpened(ctx, sid, false)
	reg.EmitSessionClosed(ctx, sid)
	reg.EmitBeforeFlush(ctx, sid, 0)
	reg.EmitFlushFailed(ctx, sid, errors.New("boom"))
	reg.EmitEntityDeleted(ctx, "Author", int64(1))
	reg.EmitTransactionCompleted(ctx, id.NewTransactionID(), true)
	reg.EmitShutdown(ctx)
}

func TestHookErrorsAreLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	reg := NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	reg.Register(&failingPlugin{})

	reg.EmitSessionOpened(context.Background(), id.NewSessionID(), true)

	out := buf.String()
	if !strings.Contains(out, "OnSessionOpened") || !strings.Contains(out, "failing") {
		t.Fatalf("expected warning for failing hook, got %q", out)
	}
}
