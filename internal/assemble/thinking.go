package assemble

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// StripThinking removes every <think>...</think> span, contents included,
// preserving the surrounding text. An unterminated span is dropped through
// to the end of the text.
func StripThinking(text string) string {
	var out strings.Builder
	for {
		start := strings.Index(text, openTag)
		if start < 0 {
			out.WriteString(text)
			return out.String()
		}
		out.WriteString(text[:start])
		rest := text[start+len(openTag):]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			return out.String()
		}
		text = rest[end+len(closeTag):]
	}
}

// thinkFilter applies StripThinking incrementally: spans may straddle
// fragment boundaries, so a possible partial tag at the end of a fragment
// is held back until the next one decides it.
type thinkFilter struct {
	enabled bool
	inSpan  bool
	buf     string
}

func newThinkFilter(enabled bool) *thinkFilter {
	return &thinkFilter{enabled: enabled}
}

// feed consumes one fragment and returns the user-visible portion.
func (f *thinkFilter) feed(frag string) string {
	if !f.enabled {
		return frag
	}

	f.buf += frag
	var out strings.Builder

	for {
		if f.inSpan {
			i := strings.Index(f.buf, closeTag)
			if i < 0 {
				// Discard span content, keeping only a possible partial
				// close tag at the end.
				f.buf = tailOverlap(f.buf, closeTag)
				return out.String()
			}
			f.buf = f.buf[i+len(closeTag):]
			f.inSpan = false
			continue
		}

		i := strings.Index(f.buf, openTag)
		if i >= 0 {
			out.WriteString(f.buf[:i])
			f.buf = f.buf[i+len(openTag):]
			f.inSpan = true
			continue
		}

		held := tailOverlap(f.buf, openTag)
		out.WriteString(f.buf[:len(f.buf)-len(held)])
		f.buf = held
		return out.String()
	}
}

// flush releases any held-back text at end of sequence. Text inside an
// unterminated span stays suppressed.
func (f *thinkFilter) flush() string {
	if !f.enabled || f.inSpan {
		f.buf = ""
		return ""
	}
	out := f.buf
	f.buf = ""
	return out
}

// tailOverlap returns the longest suffix of s that is a proper prefix of tag.
func tailOverlap(s, tag string) string {
	max := len(tag) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return s[len(s)-n:]
		}
	}
	return ""
}
