package chatfmt

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"unicode/utf8"
)

const (
	// DefaultBudget is the per-message rune budget used when none is set.
	DefaultBudget = 3000

	CodeOpen  = "```\n"
	CodeClose = "\n```"
)

var ErrHeaderTooLong = errors.New("chatfmt: header too long for budget")

// Formatter renders a header and an optional body into message blocks.
//
// The body is wrapped in a code fence. The header only precedes the first
// block; every block, header included, stays within Budget runes.
type Formatter struct {
	Segmenter

	// Budget is the rune limit of one block. Zero means DefaultBudget.
	Budget int
}

// Text returns a pointer to s, for passing a present body.
func Text(s string) *string { return &s }

// Blocks renders header and body with the default fold marker.
func Blocks(header string, body *string, budget int) ([]string, error) {
	return Formatter{Budget: budget}.Blocks(header, body)
}

func (f Formatter) budget() int {
	if f.Budget == 0 {
		return DefaultBudget
	}
	return f.Budget
}

// Blocks renders all blocks. A nil body yields exactly one block holding the
// header; a header longer than the budget is then ErrHeaderTooLong rather
// than being segmented. Budget violations are reported before anything is
// rendered.
func (f Formatter) Blocks(header string, body *string) ([]string, error) {
	seq, err := f.Seq(header, body)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Seq is the lazy form of Blocks.
func (f Formatter) Seq(header string, body *string) (iter.Seq[string], error) {
	budget := f.budget()
	if body == nil {
		if n := utf8.RuneCountInString(header); n > budget {
			return nil, fmt.Errorf("%w: %d > %d", ErrHeaderTooLong, n, budget)
		}
		return func(yield func(string) bool) { yield(header) }, nil
	}

	header += lineTerm
	fence := utf8.RuneCountInString(CodeOpen) + utf8.RuneCountInString(CodeClose)
	realBudget := budget - fence
	if err := f.check("budget", realBudget); err != nil {
		return nil, fmt.Errorf("block budget %d: %w", budget, err)
	}
	realFirst := realBudget - utf8.RuneCountInString(header)
	if realFirst < f.MinBudget() {
		return nil, fmt.Errorf("%w: %d runes leave %d for the first block (need %d)",
			ErrHeaderTooLong, utf8.RuneCountInString(header), realFirst, f.MinBudget())
	}

	// Chunks are materialized so the header can be attached to the first one
	// without holding a half-consumed iterator.
	chunks, err := f.Split(*body, realBudget, realFirst)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for i, c := range chunks {
			b := CodeOpen + c + CodeClose
			if i == 0 {
				b = header + b
			}
			if !yield(b) {
				return
			}
		}
	}, nil
}
