package chatfmt

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"
)

const (
	lineTerm = "\n"
	termSize = 1
)

var ErrBudgetTooSmall = errors.New("chatfmt: budget too small")

// Segmenter splits text into chunks that never exceed a rune budget.
//
// The zero value is ready to use and folds long lines without a marker.
type Segmenter struct {
	// FoldMarker is prefixed to every continuation fragment of a folded line.
	FoldMarker string
}

// MinBudget is the smallest budget that still leaves room for one rune of a
// folded line next to the marker and the terminator.
func (s Segmenter) MinBudget() int {
	return utf8.RuneCountInString(s.FoldMarker) + termSize + 1
}

func (s Segmenter) check(name string, budget int) error {
	if floor := s.MinBudget(); budget < floor {
		return fmt.Errorf("%w: %s %d < %d", ErrBudgetTooSmall, name, budget, floor)
	}
	return nil
}

// Split returns all chunks of text using the default (empty) fold marker and
// the same budget for every chunk.
func Split(text string, budget int) ([]string, error) {
	return Segmenter{}.Split(text, budget, budget)
}

// Split materializes Chunks.
func (s Segmenter) Split(text string, budget, firstBudget int) ([]string, error) {
	seq, err := s.Chunks(text, budget, firstBudget)
	if err != nil {
		return nil, err
	}
	var out []string
	for c := range seq {
		out = append(out, c)
	}
	return out, nil
}

// Chunks validates the budgets and returns the chunk sequence of text.
//
// The first chunk holds at most firstBudget runes, every later chunk at most
// budget runes. Lines are never reordered. The line terminator at a chunk cut
// is dropped. A line that cannot fit into a fresh chunk is folded: its first
// fragment is emitted unmarked, every following fragment carries FoldMarker,
// and the last fragment starts the next chunk so that subsequent lines can be
// packed after it.
func (s Segmenter) Chunks(text string, budget, firstBudget int) (iter.Seq[string], error) {
	if err := s.check("budget", budget); err != nil {
		return nil, err
	}
	if err := s.check("first budget", firstBudget); err != nil {
		return nil, err
	}
	marker := s.FoldMarker
	markerSize := utf8.RuneCountInString(marker)

	return func(yield func(string) bool) {
		var (
			buf     []string
			current = firstBudget // budget of the chunk being filled
			rest    = firstBudget // capacity left in it
			emitted bool
		)
		emit := func(c string) bool {
			emitted = true
			current, rest = budget, budget
			return yield(c)
		}
		// A chunk of blank lines only serializes to "" and carries nothing
		// once its cut terminators are dropped, so it is discarded. Empty
		// input still produces its single empty chunk.
		flush := func(final bool) bool {
			if len(buf) == 0 {
				return true
			}
			c := strings.Join(buf, lineTerm)
			buf = buf[:0]
			if c == "" && (emitted || !final) {
				rest = current
				return true
			}
			return emit(c)
		}

		for _, line := range strings.Split(text, lineTerm) {
			size := utf8.RuneCountInString(line) + termSize

			// A flush only opens a steady chunk when it emits. A buffer holding
			// a lone blank line is discarded and the open chunk keeps its budget.
			open := current
			if len(buf) > 1 || (len(buf) == 1 && buf[0] != "") {
				open = budget
			}
			if size >= open {
				if !flush(false) {
					return
				}
				frags := fold(line, current, budget, markerSize)
				if !emit(frags[0]) {
					return
				}
				if len(frags) == 1 {
					continue
				}
				for _, f := range frags[1 : len(frags)-1] {
					if !emit(marker + f) {
						return
					}
				}
				tail := marker + frags[len(frags)-1]
				buf = append(buf, tail)
				rest = budget - utf8.RuneCountInString(tail)
				continue
			}

			if size >= rest {
				if !flush(false) {
					return
				}
			}
			buf = append(buf, line)
			rest -= size
		}
		flush(true)
	}, nil
}

// fold cuts line into fragments. The first fragment is sized for a chunk of
// first runes, the others for chunks of steady runes once the marker is
// prepended. A trailing fragment no longer than marker+terminator is merged
// into its predecessor when the result still fits that fragment's chunk.
// Fragments are slices of line, so invalid UTF-8 bytes survive unchanged.
func fold(line string, first, steady, markerSize int) []string {
	head, line := cutRunes(line, first-(markerSize+termSize))
	frags := []string{head}

	width := steady - (markerSize + termSize)
	for line != "" {
		var f string
		f, line = cutRunes(line, width)
		frags = append(frags, f)
	}

	if len(frags) < 2 {
		return frags
	}
	last := frags[len(frags)-1]
	prev := frags[len(frags)-2]
	lastSize := utf8.RuneCountInString(last)
	if lastSize > markerSize+termSize {
		return frags
	}
	prevSize, limit := utf8.RuneCountInString(prev), first
	if len(frags) > 2 {
		prevSize += markerSize
		limit = steady
	}
	if prevSize+lastSize > limit {
		return frags
	}
	frags[len(frags)-2] = prev + last
	return frags[:len(frags)-1]
}

// cutRunes splits s after its first n runes, counting each invalid byte as
// one rune the way utf8.RuneCountInString does.
func cutRunes(s string, n int) (string, string) {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], s[i:]
}
