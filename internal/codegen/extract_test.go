package codegen

import "testing"

func TestExtractCode(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		label string
		want  string
	}{
		{
			name:  "labeled fence",
			text:  "Here you go:\n```html\n<html>hi</html>\n```\nEnjoy.",
			label: "html",
			want:  "<html>hi</html>",
		},
		{
			name:  "labeled fence preferred over earlier generic fence",
			text:  "```\nnotes\n```\n```html\n<p>x</p>\n```",
			label: "html",
			want:  "<p>x</p>",
		},
		{
			name:  "label match is case-insensitive",
			text:  "```HTML\n<b>y</b>\n```",
			label: "html",
			want:  "<b>y</b>",
		},
		{
			name:  "generic fence drops info line",
			text:  "```htm\n<i>z</i>\n```",
			label: "html",
			want:  "<i>z</i>",
		},
		{
			name:  "unlabeled fence",
			text:  "```\n# Title\n```",
			label: "markdown",
			want:  "# Title",
		},
		{
			name:  "raw text fallback",
			text:  "  <html></html>\n",
			label: "html",
			want:  "<html></html>",
		},
		{
			name:  "unterminated fence runs to end",
			text:  "```html\n<html>partial",
			label: "html",
			want:  "<html>partial",
		},
		{
			name:  "first of two labeled fences",
			text:  "```markdown\none\n```\n```markdown\ntwo\n```",
			label: "markdown",
			want:  "one",
		},
		{
			name:  "single-line labeled fence",
			text:  "```html<html><body>x</body></html>```",
			label: "html",
			want:  "<html><body>x</body></html>",
		},
		{
			name:  "single-line unlabeled fence after prose",
			text:  "text ```<html><body>x</body></html>```",
			label: "html",
			want:  "<html><body>x</body></html>",
		},
		{
			name:  "single-line fence without closing",
			text:  "```html <p>x</p>",
			label: "html",
			want:  "<p>x</p>",
		},
		{
			name:  "single-line generic fence before labeled block",
			text:  "```note```\n```markdown\n# Title\n```",
			label: "markdown",
			want:  "# Title",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractCode(tc.text, tc.label); got != tc.want {
				t.Fatalf("ExtractCode() = %q, want %q", got, tc.want)
			}
		})
	}
}
