package console

import (
	"bytes"
	"context"
	"testing"

	kit "certnotify/internal/transport"
)

func TestSendTextSeparatesMessages(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	a := New(&buf)
	ctx := context.Background()
	to := kit.ChatTarget{ChatID: 5}

	ref, err := a.SendText(ctx, to, "first", nil)
	if err != nil {
		t.Fatalf("SendText error: %v", err)
	}
	if ref.MessageID != 1 || ref.ChatID != 5 {
		t.Fatalf("ref = %+v", ref)
	}
	if _, err := a.SendText(ctx, to, "second", nil); err != nil {
		t.Fatalf("SendText error: %v", err)
	}

	want := "first\n" + Rule + "\nsecond\n"
	if got := buf.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestSendTextCanceled(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(&buf).SendText(ctx, kit.ChatTarget{}, "x", nil); err == nil {
		t.Fatal("SendText ignored a canceled context")
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote %q after cancel", buf.String())
	}
}
