package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

// Newsletter publishes posts to a Substack-style publication.
type Newsletter struct {
	client
	destination   string
	publicationID string
	feedURL       string
}

var _ Publisher = (*Newsletter)(nil)

type newsletterPost struct {
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle"`
	Body             string   `json:"body"`
	Tags             []string `json:"tags"`
	Publish          bool     `json:"publish"`
	SendNotification bool     `json:"send_notification"`
}

type newsletterResponse struct {
	URL string          `json:"url"`
	ID  json.RawMessage `json:"id"`
}

func (p *Newsletter) Destination() string {
	return p.destination
}

func (p *Newsletter) Publish(ctx context.Context, content Content) (Result, error) {
	tags := content.Tags
	if tags == nil {
		tags = []string{}
	}
	post := newsletterPost{
		Title:            content.Title,
		Subtitle:         content.Summary,
		Body:             content.Body(),
		Tags:             tags,
		Publish:          true,
		SendNotification: true,
	}

	resp, err := p.do(ctx, http.MethodPost, p.postsPath(), post, nil)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	if resp.status != http.StatusOK {
		return p.rejected(resp), nil
	}

	var parsed newsletterResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return p.malformed(resp, err), nil
	}

	result := Result{
		Success:     true,
		ExternalURL: parsed.URL,
		PlatformID:  idString(parsed.ID),
		RawResponse: snapshot(resp.body),
	}
	if result.ExternalURL == "" && p.feedURL != "" {
		link, err := p.resolveFromFeed(ctx, content.Title)
		if err != nil {
			slog.Warn("Failed to resolve post URL from feed", "destination", p.destination, "feed_url", p.feedURL, "error", err)
		}
		result.ExternalURL = link
	}

	return result, nil
}

func (p *Newsletter) TestConnection(ctx context.Context) bool {
	return p.ping(ctx, "/v1/publications/"+url.PathEscape(p.publicationID))
}

func (p *Newsletter) postsPath() string {
	return "/v1/publications/" + url.PathEscape(p.publicationID) + "/posts"
}

// resolveFromFeed finds the canonical link of the post titled title in the
// publication feed.
func (p *Newsletter) resolveFromFeed(ctx context.Context, title string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.UserAgent = p.userAgent
	fp.Client = p.httpClient

	feed, err := fp.ParseURLWithContext(p.feedURL, timeoutCtx)
	if err != nil {
		return "", fmt.Errorf("failed to parse feed: %w", err)
	}

	want := strings.TrimSpace(title)
	for _, item := range feed.Items {
		if item != nil && strings.EqualFold(strings.TrimSpace(item.Title), want) {
			return item.Link, nil
		}
	}
	return "", fmt.Errorf("no feed item titled %q", title)
}

// idString renders a JSON id that may be a string or a number.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
