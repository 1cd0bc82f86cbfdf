package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ProfessionalNetwork publishes share posts to a LinkedIn-style UGC API.
type ProfessionalNetwork struct {
	client
	destination string
	personID    string
}

var _ Publisher = (*ProfessionalNetwork)(nil)

var restliHeaders = map[string]string{"X-Restli-Protocol-Version": "2.0.0"}

func (p *ProfessionalNetwork) Destination() string {
	return p.destination
}

func (p *ProfessionalNetwork) Publish(ctx context.Context, content Content) (Result, error) {
	text := content.Title
	if content.Summary != "" {
		text += "\n\n" + content.Summary
	}

	payload := map[string]any{
		"author":         "urn:li:person:" + p.personID,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	resp, err := p.do(ctx, http.MethodPost, "/v2/ugcPosts", payload, restliHeaders)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	if resp.status != http.StatusCreated {
		return p.rejected(resp), nil
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return p.malformed(resp, err), nil
	}
	if parsed.ID == "" {
		return p.malformed(resp, fmt.Errorf("missing id")), nil
	}

	return Result{
		Success:     true,
		ExternalURL: "https://www.linkedin.com/feed/update/" + parsed.ID,
		PlatformID:  parsed.ID,
		RawResponse: snapshot(resp.body),
	}, nil
}

func (p *ProfessionalNetwork) TestConnection(ctx context.Context) bool {
	return p.ping(ctx, "/v2/me")
}
