package notifier

import (
	"context"
	"errors"
	"fmt"

	kit "certnotify/internal/transport"
)

// Direct sends posts synchronously on the caller's goroutine, without
// queueing, limits or retry. The CLI and dry runs use it.
type Direct struct {
	Adapter kit.Adapter
	Budget  int
	// ContinueOnError keeps sending after a failed block and joins the errors.
	ContinueOnError bool
}

func (d Direct) Notify(ctx context.Context, p Post) error {
	blocks, err := render(p, d.Budget)
	if err != nil {
		return err
	}
	opt := &kit.SendOptions{ParseMode: kit.ParseModeMarkdown, DisablePreview: true}
	var errs []error
	for i, b := range blocks {
		if _, err := d.Adapter.SendText(ctx, p.Target, b, opt); err != nil {
			errs = append(errs, fmt.Errorf("block %d/%d: %w", i+1, len(blocks), err))
			if !d.ContinueOnError {
				break
			}
		}
	}
	return errors.Join(errs...)
}
