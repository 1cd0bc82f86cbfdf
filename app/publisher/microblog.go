package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/text/unicode/norm"
)

const (
	MicroblogLimit     = 280
	truncationMarker   = "..."
	microblogTruncated = MicroblogLimit - len(truncationMarker)
)

// Microblog posts short status updates to an X/Twitter-style API.
type Microblog struct {
	client
	destination string
}

var _ Publisher = (*Microblog)(nil)

func (p *Microblog) Destination() string {
	return p.destination
}

func (p *Microblog) Publish(ctx context.Context, content Content) (Result, error) {
	payload := map[string]string{"text": MicroblogText(content)}

	resp, err := p.do(ctx, http.MethodPost, "/2/tweets", payload, nil)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	if resp.status != http.StatusCreated {
		return p.rejected(resp), nil
	}

	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return p.malformed(resp, err), nil
	}
	if parsed.Data.ID == "" {
		return p.malformed(resp, fmt.Errorf("missing data.id")), nil
	}

	return Result{
		Success:     true,
		ExternalURL: "https://twitter.com/user/status/" + parsed.Data.ID,
		PlatformID:  parsed.Data.ID,
		RawResponse: snapshot(resp.body),
	}, nil
}

func (p *Microblog) TestConnection(ctx context.Context) bool {
	return p.ping(ctx, "/2/users/me")
}

// MicroblogText joins title and summary and fits the result into the
// platform limit, counting characters rather than bytes.
func MicroblogText(content Content) string {
	text := content.Title
	if content.Summary != "" {
		text += "\n\n" + content.Summary
	}
	text = norm.NFC.String(text)

	runes := []rune(text)
	if len(runes) <= MicroblogLimit {
		return text
	}
	return string(runes[:microblogTruncated]) + truncationMarker
}
