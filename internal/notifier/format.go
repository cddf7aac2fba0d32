package notifier

import (
	"fmt"
	"hash/fnv"

	"certnotify/pkg/chatfmt"
)

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	default:
		return ""
	}
}

// render turns a post into its message blocks. Budget problems surface here,
// before anything is queued or sent. The header is sent as Markdown outside
// the fence, so user and domain names in it are escaped.
func render(p Post, budget int) ([]string, error) {
	f := chatfmt.Formatter{Budget: budget}
	return f.Blocks(prefixForPriority(p.Priority)+chatfmt.EscapeMarkdown(p.Header), p.Body)
}

func dedupKey(p Post) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d:%d:%d|%s|", p.Target.ChatID, p.Target.ThreadID, p.Priority, p.Header)
	if p.Body != nil {
		_, _ = h.Write([]byte{1})
		_, _ = h.Write([]byte(*p.Body))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// shardOf pins every target to one worker so its posts stay in order.
func shardOf(p Post, shards int) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%d:%d", p.Target.ChatID, p.Target.ThreadID)
	return int(h.Sum32() % uint32(shards))
}
