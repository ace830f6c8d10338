package logger

import (
	"context"
	"testing"
)

func TestWithLogger_FromContext(t *testing.T) {
	l, _ := newBufferLogger(t, "info", "json")
	ctx := WithLogger(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Error("FromContext did not return the stored logger")
	}
	if FromContext(context.Background()) != Default() {
		t.Error("FromContext without a logger should return Default()")
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if OperationIDFromContext(ctx) != "" || MessageIDFromContext(ctx) != "" {
		t.Fatal("empty context should carry no IDs")
	}

	ctx = WithOperationID(ctx, "op-1")
	ctx = WithMessageID(ctx, "msg-1")
	if got := OperationIDFromContext(ctx); got != "op-1" {
		t.Errorf("OperationIDFromContext = %q", got)
	}
	if got := MessageIDFromContext(ctx); got != "msg-1" {
		t.Errorf("MessageIDFromContext = %q", got)
	}
}

func TestL(t *testing.T) {
	tests := []struct {
		name   string
		opID   string
		msgID  string
		wantOp bool
		wantMs bool
	}{
		{"no ids", "", "", false, false},
		{"operation only", "op-1", "", true, false},
		{"both", "op-1", "msg-1", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferLogger(t, "info", "json")
			ctx := WithLogger(context.Background(), l)
			if tt.opID != "" {
				ctx = WithOperationID(ctx, tt.opID)
			}
			if tt.msgID != "" {
				ctx = WithMessageID(ctx, tt.msgID)
			}

			L(ctx).Info("message")
			entry := decodeEntry(t, buf)
			if _, ok := entry["operation_id"]; ok != tt.wantOp {
				t.Errorf("operation_id present = %v, want %v", ok, tt.wantOp)
			}
			if _, ok := entry["message_id"]; ok != tt.wantMs {
				t.Errorf("message_id present = %v, want %v", ok, tt.wantMs)
			}
		})
	}
}

func TestContextKeyCollision(t *testing.T) {
	ctx := context.WithValue(context.Background(), "authpersist.operation_id", "plain-string-key")
	if got := OperationIDFromContext(ctx); got != "" {
		t.Errorf("untyped key leaked into OperationIDFromContext: %q", got)
	}
}
