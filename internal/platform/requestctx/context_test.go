package requestctx

import (
	"context"
	"testing"
)

func TestCallerSlotIsSharedWithParent(t *testing.T) {
	ctx, slot := WithCaller(context.Background())
	if _, ok := Caller(ctx); ok {
		t.Fatalf("expected no caller before SetCaller")
	}

	child := context.WithValue(ctx, contextKey("child"), true)
	SetCaller(child, CallerInfo{Kind: "partner", APIKeyID: "key_1"})

	got, ok := Caller(ctx)
	if !ok {
		t.Fatalf("expected caller on parent context")
	}
	if got.APIKeyID != "key_1" || slot.Kind != "partner" {
		t.Fatalf("unexpected caller %+v", got)
	}

	again, sameSlot := WithCaller(child)
	if again != child || sameSlot != slot {
		t.Fatalf("expected existing slot to be reused")
	}
}

func TestSetCallerWithoutSlotIsNoop(t *testing.T) {
	ctx := context.Background()
	SetCaller(ctx, CallerInfo{Kind: "session", UserID: "u1"})
	if _, ok := Caller(ctx); ok {
		t.Fatalf("expected no caller")
	}
}

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	if TraceID(WithTrace(context.Background(), TraceInfo{TraceID: "abc"})) != "abc" {
		t.Fatalf("expected trace id")
	}
}
