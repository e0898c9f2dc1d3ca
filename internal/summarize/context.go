package summarize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/adolab/worklens/internal/store"
)

// Truncation bounds for the assembled LLM context. Descriptions and
// comments are capped separately so one long field cannot crowd out
// the rest of the item.
const (
	maxDescriptionChars = 3000
	maxCommentChars     = 500
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// StripHTML flattens rich text to plain text: tags become spaces, the
// common entities are unescaped, and whitespace is collapsed.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}
	text := tagPattern.ReplaceAllString(html, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Truncate cuts s to max characters, appending an ellipsis when
// anything was dropped.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// BuildContext assembles the deterministic LLM input for one item and
// its comments: metadata lines, the stripped+truncated description,
// then each comment prefixed with its author.
func BuildContext(item *store.Item, comments []store.Comment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	fmt.Fprintf(&b, "Type: %s\n", item.Type)
	fmt.Fprintf(&b, "State: %s\n", item.State)
	if item.AssignedTo != "" {
		fmt.Fprintf(&b, "Assigned to: %s\n", item.AssignedTo)
	}
	if item.Tags != "" {
		fmt.Fprintf(&b, "Tags: %s\n", item.Tags)
	}

	if desc := StripHTML(item.Description); desc != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", Truncate(desc, maxDescriptionChars))
	}

	if len(comments) > 0 {
		fmt.Fprintf(&b, "\nComments (%d):\n", len(comments))
		for _, c := range comments {
			author := c.CreatedBy
			if author == "" {
				author = "unknown"
			}
			text := Truncate(StripHTML(c.Text), maxCommentChars)
			fmt.Fprintf(&b, "[%s] %s\n", author, text)
		}
	}
	return b.String()
}
