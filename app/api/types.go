package api

import (
	"context"
	"time"

	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/destination"
	"github.com/retailxai/draft-publisher/app/publish"
	"github.com/retailxai/draft-publisher/app/tasks"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthReporter interface {
	Health(ctx context.Context) map[string]any
}

var _ Pinger = (*database.DB)(nil)

type Handler struct {
	coordinator  *publish.Coordinator
	destinations *destination.ConfigCache
	db           Pinger
	scheduler    tasks.TaskSchedulerInterface
	replay       HealthReporter // nil when the replay cache is disabled
}

type publishRequest struct {
	Destinations []string `json:"destinations" binding:"required,min=1"`
	Nonce        string   `json:"nonce"`
}

type draftRequest struct {
	Slug     string               `json:"slug" binding:"required"`
	Title    string               `json:"title" binding:"required"`
	Summary  string               `json:"summary"`
	BodyMD   string               `json:"body_md"`
	BodyHTML string               `json:"body_html"`
	Tags     []string             `json:"tags"`
	Status   database.DraftStatus `json:"status"`
	Author   string               `json:"author"`
	Scores   map[string]any       `json:"scores"`
	Meta     map[string]any       `json:"meta"`
}

type credentialRequest struct {
	ClientID  string            `json:"client_id"`
	Secret    string            `json:"secret"`
	Tokens    map[string]string `json:"tokens"`
	ExpiresAt *time.Time        `json:"expires_at"`
	Scopes    []string          `json:"scopes"`
	Active    *bool             `json:"active"`
}
