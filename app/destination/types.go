package destination

import "time"

const (
	Newsletter          = "newsletter"
	ProfessionalNetwork = "professional-network"
	Microblog           = "microblog"
)

const defaultTimeout = 30

var defaultBaseURLs = map[string]string{
	Newsletter:          "https://api.substack.com",
	ProfessionalNetwork: "https://api.linkedin.com",
	Microblog:           "https://api.twitter.com",
}

// Config describes one publish destination.
type Config struct {
	Name     string   // Derived from filename (without .yml extension)
	Platform string   `yaml:"platform"` // adapter variant, defaults to Name
	Settings Settings `yaml:"settings"`
}

type Settings struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"`  // seconds
	FeedURL string `yaml:"feed_url"` // publication feed used to resolve post URLs
}

func (s Settings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
