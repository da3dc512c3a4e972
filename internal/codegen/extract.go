package codegen

import "strings"

const fence = "```"

// ExtractCode pulls source text out of a model reply. It returns the first
// fenced block whose info string equals label (case-insensitive), else the
// first fenced block of any label with its info line dropped, else the whole
// reply. The result is trimmed. An unterminated fence runs to end of text.
// A block may sit on one line (```html<p>x</p>```), in which case a leading
// label is stripped from its body.
func ExtractCode(text, label string) string {
	if body, ok := firstFence(text, label, false); ok {
		return strings.TrimSpace(body)
	}
	if body, ok := firstFence(text, label, true); ok {
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(text)
}

func firstFence(text, label string, anyLabel bool) (string, bool) {
	pos := 0
	for pos < len(text) {
		i := strings.Index(text[pos:], fence)
		if i < 0 {
			return "", false
		}
		start := pos + i + len(fence)
		rest := text[start:]
		end := strings.Index(rest, fence)
		nl := strings.IndexByte(rest, '\n')

		var info, body string
		next := len(text)
		if nl < 0 || (end >= 0 && end < nl) {
			// closing fence (or end of text) before any newline
			inner := rest
			if end >= 0 {
				inner = rest[:end]
				next = start + end + len(fence)
			}
			info, body = splitInlineLabel(inner, label)
		} else {
			info = strings.TrimSpace(rest[:nl])
			b := rest[nl+1:]
			if e := strings.Index(b, fence); e >= 0 {
				body = b[:e]
				next = start + nl + 1 + e + len(fence)
			} else {
				body = b
			}
		}
		if anyLabel || strings.EqualFold(info, label) {
			return body, true
		}
		pos = next
	}
	return "", false
}

func splitInlineLabel(inner, label string) (string, string) {
	if label != "" && len(inner) >= len(label) && strings.EqualFold(inner[:len(label)], label) {
		return label, inner[len(label):]
	}
	return "", inner
}
