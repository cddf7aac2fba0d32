package router

import "strings"

// tokenizeCommandLine splits command text into tokens, honouring quotes and
// backslash escapes:
//
//	/scanner add "example.org"
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar = true, ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits args into positionals and flags.
//
// Supported:
//
//	--k=v, --k v, --flag (bool)
//	-k=v, -k v, -abc (bool flags a,b,c)
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			key := a[2:]
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
				continue
			}
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
			continue
		}
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			key := a[1:]
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
				continue
			}
			if len(key) == 1 {
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
					flags[key] = args[i+1]
					i++
					continue
				}
				bools[key] = true
				continue
			}
			for _, c := range key {
				bools[string(c)] = true
			}
			continue
		}
		pos = append(pos, a)
	}
	return pos, flags, bools
}

// commandArgs extracts the scanner arguments from a chat message. It
// accepts "/scanner ARGS", "/scanner@bot ARGS" and mentions of the bot
// ("@bot ARGS" or "@bot scanner ARGS"). Anything else is not for us.
func commandArgs(tokens []string, botName string) ([]string, bool) {
	if len(tokens) == 0 {
		return nil, false
	}
	head, rest := tokens[0], tokens[1:]

	if word, ok := strings.CutPrefix(head, "/"); ok {
		word, target, addressed := strings.Cut(word, "@")
		if addressed && botName != "" && !strings.EqualFold(target, botName) {
			return nil, false
		}
		if !strings.EqualFold(word, commandName) {
			return nil, false
		}
		return rest, true
	}

	mention, ok := strings.CutPrefix(head, "@")
	if !ok || botName == "" || !strings.EqualFold(mention, botName) {
		return nil, false
	}
	if len(rest) > 0 && strings.EqualFold(strings.TrimPrefix(rest[0], "/"), commandName) {
		rest = rest[1:]
	}
	return rest, true
}
