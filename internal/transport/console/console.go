// Package console is an Adapter that prints messages to a writer. It backs
// dry runs and the one-shot CLI commands.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	kit "certnotify/internal/transport"
)

// Rule separates consecutive messages.
var Rule = strings.Repeat("-", 40)

type Adapter struct {
	mu   sync.Mutex
	w    io.Writer
	sent int
}

func New(w io.Writer) *Adapter { return &Adapter{w: w} }

// Start has no updates to deliver; it returns at once.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }

func (a *Adapter) Stop(ctx context.Context) error { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sent > 0 {
		if _, err := fmt.Fprintln(a.w, Rule); err != nil {
			return kit.MessageRef{}, err
		}
	}
	if _, err := fmt.Fprintln(a.w, text); err != nil {
		return kit.MessageRef{}, err
	}
	a.sent++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.sent}, nil
}

// EditText prints the new text as another message.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, text, opt)
	return err
}
