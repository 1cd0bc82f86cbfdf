package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/destination"
)

func newAdapter(t *testing.T, platform, baseURL string, tokens map[string]string, feedURL string) Publisher {
	t.Helper()
	factory := NewFactory(nil, "Draft Publisher/test")
	p, err := factory.New(&destination.Config{
		Name:     platform,
		Platform: platform,
		Settings: destination.Settings{Enabled: true, BaseURL: baseURL, Timeout: 5, FeedURL: feedURL},
	}, &database.Credential{Destination: platform, Tokens: tokens, Active: true})
	require.NoError(t, err)
	return p
}

func TestNewsletterPublish(t *testing.T) {
	var got newsletterPost
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/publications/pub-1/posts", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "Draft Publisher/test", r.Header.Get("User-Agent"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":1234,"url":"https://retail.substack.com/p/q3-results"}`)
	}))
	defer server.Close()

	p := newAdapter(t, destination.Newsletter, server.URL, map[string]string{"api_key": "key-1", "publication_id": "pub-1"}, "")
	res, err := p.Publish(context.Background(), Content{Title: "Q3 Results", Summary: "Strong growth", BodyHTML: "<p>Body</p>"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "https://retail.substack.com/p/q3-results", res.ExternalURL)
	assert.Equal(t, "1234", res.PlatformID)
	assert.Equal(t, "Q3 Results", got.Title)
	assert.Equal(t, "Strong growth", got.Subtitle)
	assert.Equal(t, "<p>Body</p>", got.Body)
	assert.True(t, got.Publish)
	assert.Equal(t, destination.Newsletter, p.Destination())
}

func TestNewsletterResolvesURLFromFeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/publications/pub-1/posts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"p-9"}`)
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Retail</title>
<item><title>Older post</title><link>https://retail.substack.com/p/older</link></item>
<item><title>Q3 Results</title><link>https://retail.substack.com/p/q3-results</link></item>
</channel></rss>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newAdapter(t, destination.Newsletter, server.URL, map[string]string{"api_key": "k", "publication_id": "pub-1"}, server.URL+"/feed")
	res, err := p.Publish(context.Background(), Content{Title: "Q3 Results"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "p-9", res.PlatformID)
	assert.Equal(t, "https://retail.substack.com/p/q3-results", res.ExternalURL)
}

func TestPlatformErrorIsReportedVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"bad token"}`)
	}))
	defer server.Close()

	tests := []struct {
		platform string
		prefix   string
	}{
		{destination.Newsletter, "Substack API error: 401 - "},
		{destination.ProfessionalNetwork, "LinkedIn API error: 401 - "},
		{destination.Microblog, "Twitter API error: 401 - "},
	}
	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			p := newAdapter(t, tt.platform, server.URL, map[string]string{"publication_id": "x"}, "")
			res, err := p.Publish(context.Background(), Content{Title: "T"})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.prefix+`{"detail":"bad token"}`, res.Error)
			assert.JSONEq(t, `{"detail":"bad token"}`, string(res.RawResponse))
		})
	}
}

func TestProfessionalNetworkPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/ugcPosts", r.URL.Path)
		assert.Equal(t, "2.0.0", r.Header.Get("X-Restli-Protocol-Version"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "urn:li:person:p-7", body["author"])
		share := body["specificContent"].(map[string]any)["com.linkedin.ugc.ShareContent"].(map[string]any)
		assert.Equal(t, "Q3 Results\n\nStrong growth", share["shareCommentary"].(map[string]any)["text"])

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"urn:li:share:42"}`)
	}))
	defer server.Close()

	p := newAdapter(t, destination.ProfessionalNetwork, server.URL, map[string]string{"access_token": "tok", "person_id": "p-7"}, "")
	res, err := p.Publish(context.Background(), Content{Title: "Q3 Results", Summary: "Strong growth"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "urn:li:share:42", res.PlatformID)
	assert.Equal(t, "https://www.linkedin.com/feed/update/urn:li:share:42", res.ExternalURL)
}

func TestProfessionalNetworkRequires201(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"urn:li:share:1"}`)
	}))
	defer server.Close()

	p := newAdapter(t, destination.ProfessionalNetwork, server.URL, map[string]string{"access_token": "tok"}, "")
	res, err := p.Publish(context.Background(), Content{Title: "T"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "LinkedIn API error: 200 - "))
}

func TestProfessionalNetworkRequiresPostID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	p := newAdapter(t, destination.ProfessionalNetwork, server.URL, map[string]string{"access_token": "tok"}, "")
	res, err := p.Publish(context.Background(), Content{Title: "T"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.ExternalURL)
	assert.Equal(t, "LinkedIn API error: malformed response: missing id", res.Error)
}

func TestMicroblogPublish(t *testing.T) {
	var text string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		text = body["text"]
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":"1799","text":"..."}}`)
	}))
	defer server.Close()

	p := newAdapter(t, destination.Microblog, server.URL, map[string]string{"bearer_token": "b"}, "")
	res, err := p.Publish(context.Background(), Content{Title: "Q3 Results", Summary: "Strong growth"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "1799", res.PlatformID)
	assert.Equal(t, "https://twitter.com/user/status/1799", res.ExternalURL)
	assert.Equal(t, "Q3 Results\n\nStrong growth", text)
}

func TestMicroblogText(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		want    int
		marker  bool
	}{
		{"title only", Content{Title: "Hello"}, 5, false},
		{"exactly at limit", Content{Title: strings.Repeat("a", 280)}, 280, false},
		{"one over limit", Content{Title: strings.Repeat("a", 281)}, 280, true},
		{"title and long summary", Content{Title: "Q3", Summary: strings.Repeat("b", 400)}, 280, true},
		{"multibyte characters", Content{Title: strings.Repeat("é", 300)}, 280, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := MicroblogText(tt.content)
			assert.Equal(t, tt.want, utf8.RuneCountInString(text))
			assert.Equal(t, tt.marker, strings.HasSuffix(text, "..."))
		})
	}

	long := MicroblogText(Content{Title: "Q3", Summary: strings.Repeat("b", 400)})
	assert.Equal(t, "Q3\n\n"+strings.Repeat("b", 273)+"...", long)
}

func TestMicroblogTextNormalizesBeforeCounting(t *testing.T) {
	// "e" followed by a combining acute accent composes to one character.
	decomposed := strings.Repeat("e\u0301", 280)
	text := MicroblogText(Content{Title: decomposed})
	assert.Equal(t, 280, utf8.RuneCountInString(text))
	assert.False(t, strings.HasSuffix(text, "..."))
}

func TestTransportFailureIsInfraError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	p := newAdapter(t, destination.Microblog, baseURL, map[string]string{"bearer_token": "b"}, "")
	res, err := p.Publish(context.Background(), Content{Title: "T"})
	require.Error(t, err)

	var infra *InfraError
	require.True(t, errors.As(err, &infra))
	assert.Equal(t, "Twitter", infra.Platform)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestTimeoutIsInfraError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := newAdapter(t, destination.Newsletter, server.URL, map[string]string{"publication_id": "x"}, "")
	_, err := p.Publish(ctx, Content{Title: "T"})
	var infra *InfraError
	require.True(t, errors.As(err, &infra))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTestConnection(t *testing.T) {
	paths := make(chan string, 3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	assert.True(t, newAdapter(t, destination.Newsletter, server.URL, map[string]string{"publication_id": "pub-1"}, "").TestConnection(context.Background()))
	assert.Equal(t, "/v1/publications/pub-1", <-paths)
	assert.True(t, newAdapter(t, destination.ProfessionalNetwork, server.URL, nil, "").TestConnection(context.Background()))
	assert.Equal(t, "/v2/me", <-paths)
	assert.True(t, newAdapter(t, destination.Microblog, server.URL, nil, "").TestConnection(context.Background()))
	assert.Equal(t, "/2/users/me", <-paths)
}

func TestTestConnectionSwallowsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	assert.False(t, newAdapter(t, destination.Microblog, server.URL, nil, "").TestConnection(context.Background()))

	server.Close()
	assert.False(t, newAdapter(t, destination.Microblog, server.URL, nil, "").TestConnection(context.Background()))
}

func TestFactoryRejectsMissingCredentials(t *testing.T) {
	factory := NewFactory(nil, "")
	_, err := factory.New(&destination.Config{Name: "microblog", Platform: "microblog"}, nil)
	assert.EqualError(t, err, "no credentials found for microblog")

	_, err = factory.New(&destination.Config{Name: "fax", Platform: "fax"}, &database.Credential{})
	assert.Error(t, err)
}

func TestContentFromDraft(t *testing.T) {
	draft := &database.Draft{
		Title:    "Q3 Results",
		Summary:  "  Strong growth ",
		BodyMD:   "# Q3",
		BodyHTML: "<h1>Q3</h1>",
		Tags:     []string{"retail"},
	}
	content := ContentFromDraft(draft)
	assert.Equal(t, "Strong growth", content.Summary)
	assert.Equal(t, "<h1>Q3</h1>", content.Body())
	assert.Equal(t, []string{"retail"}, content.Tags)

	assert.Equal(t, "# Q3", Content{BodyMD: "# Q3"}.Body())
}

func TestContentFromDraftDerivesExcerpt(t *testing.T) {
	html := `<html><body><article><p>` + strings.Repeat("Retail sales climbed across every region this quarter. ", 20) + `</p></article></body></html>`
	content := ContentFromDraft(&database.Draft{Title: "Q3", BodyHTML: html})

	assert.NotEmpty(t, content.Summary)
	assert.True(t, strings.HasPrefix(content.Summary, "Retail sales climbed"))
	assert.LessOrEqual(t, utf8.RuneCountInString(content.Summary), excerptLength)
}
