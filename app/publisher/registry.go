package publisher

import (
	"fmt"
	"net/http"
	"time"

	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/destination"
)

const defaultTimeout = 30 * time.Second

// Factory builds adapters per invocation from a destination config and its
// credential bundle.
type Factory struct {
	HTTPClient *http.Client
	UserAgent  string
}

func NewFactory(httpClient *http.Client, userAgent string) *Factory {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Factory{HTTPClient: httpClient, UserAgent: userAgent}
}

func (f *Factory) New(config *destination.Config, cred *database.Credential) (Publisher, error) {
	if config == nil {
		return nil, fmt.Errorf("destination config is required")
	}
	if cred == nil {
		return nil, fmt.Errorf("no credentials found for %s", config.Name)
	}

	timeout := config.Settings.TimeoutDuration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := client{
		baseURL:    config.Settings.BaseURL,
		timeout:    timeout,
		userAgent:  f.UserAgent,
		httpClient: f.HTTPClient,
	}

	switch config.Platform {
	case destination.Newsletter:
		base.platform = "Substack"
		base.token = cred.Token("api_key")
		return &Newsletter{
			client:        base,
			destination:   config.Name,
			publicationID: cred.Tokens["publication_id"],
			feedURL:       config.Settings.FeedURL,
		}, nil
	case destination.ProfessionalNetwork:
		base.platform = "LinkedIn"
		base.token = cred.Token("access_token")
		return &ProfessionalNetwork{
			client:      base,
			destination: config.Name,
			personID:    cred.Tokens["person_id"],
		}, nil
	case destination.Microblog:
		base.platform = "Twitter"
		base.token = cred.Token("bearer_token")
		return &Microblog{client: base, destination: config.Name}, nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", config.Platform)
	}
}
