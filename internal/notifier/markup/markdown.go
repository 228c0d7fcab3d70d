package markup

import "strings"

// Characters Telegram's MarkdownV2 mode treats as markup.
const specialChars = `-_*[]()~` + "`" + `>#+=|{}.!`

// EscapeForMarkdown backslash-escapes everything MarkdownV2 would
// otherwise interpret, so article titles and summaries render verbatim.
func EscapeForMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for _, r := range text {
		if strings.ContainsRune(specialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}
