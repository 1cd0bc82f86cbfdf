// Package publisher talks to the external content platforms. Each platform
// has its own adapter behind the Publisher interface.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
)

type Publisher interface {
	Destination() string
	// Publish sends content to the platform. API rejections are reported
	// in Result; only transport failures return an error.
	Publish(ctx context.Context, content Content) (Result, error)
	TestConnection(ctx context.Context) bool
}

type Content struct {
	Title    string
	Summary  string
	BodyHTML string
	BodyMD   string
	Tags     []string
}

// Body prefers the rendered HTML over the markdown source.
func (c Content) Body() string {
	if c.BodyHTML != "" {
		return c.BodyHTML
	}
	return c.BodyMD
}

type Result struct {
	Success     bool
	ExternalURL string
	PlatformID  string
	RawResponse json.RawMessage
	Error       string
}

// InfraError wraps a transport failure (timeout, DNS, refused connection).
type InfraError struct {
	Platform string
	Err      error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Platform, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}
