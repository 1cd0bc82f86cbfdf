package publisher

import (
	"log/slog"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/retailxai/draft-publisher/app/database"
)

const excerptLength = 200

// ContentFromDraft builds the platform-neutral content of a draft. A
// missing summary is replaced by a plain-text excerpt of the rendered body.
func ContentFromDraft(draft *database.Draft) Content {
	content := Content{
		Title:    draft.Title,
		Summary:  strings.TrimSpace(draft.Summary),
		BodyHTML: draft.BodyHTML,
		BodyMD:   draft.BodyMD,
		Tags:     draft.Tags,
	}
	if content.Summary == "" && draft.BodyHTML != "" {
		content.Summary = excerpt(draft.BodyHTML)
	}
	return content
}

func excerpt(html string) string {
	article, err := readability.FromReader(strings.NewReader(html), nil)
	if err != nil {
		slog.Debug("Failed to extract excerpt", "error", err)
		return ""
	}

	text := strings.TrimSpace(article.Excerpt)
	if text == "" {
		text = strings.TrimSpace(article.TextContent)
	}
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > excerptLength {
		return strings.TrimSpace(string(runes[:excerptLength-len(truncationMarker)])) + truncationMarker
	}
	return text
}
