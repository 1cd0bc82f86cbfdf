package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/retailxai/draft-publisher/app/access"
	"github.com/retailxai/draft-publisher/app/audit"
	"github.com/retailxai/draft-publisher/app/database"
	"github.com/retailxai/draft-publisher/app/destination"
	"github.com/retailxai/draft-publisher/app/ledger"
	"github.com/retailxai/draft-publisher/app/publish"
	"github.com/retailxai/draft-publisher/app/tasks"
)

func NewHandler(coordinator *publish.Coordinator, destinations *destination.ConfigCache,
	db Pinger, scheduler tasks.TaskSchedulerInterface, replay HealthReporter) *Handler {
	return &Handler{
		coordinator:  coordinator,
		destinations: destinations,
		db:           db,
		scheduler:    scheduler,
		replay:       replay,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	health := map[string]any{
		"status":       "healthy",
		"timestamp":    time.Now().In(time.Local).Format(time.RFC3339),
		"destinations": len(h.destinations.GetEnabledConfigs()),
	}

	if err := h.db.PingContext(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		health["status"] = "unhealthy"
		health["database"] = map[string]any{"status": "unhealthy", "error": err.Error()}
		status = http.StatusServiceUnavailable
	} else {
		health["database"] = map[string]any{"status": "healthy"}
	}

	if h.scheduler != nil {
		health["workers"] = h.scheduler.Health()
	}
	if h.replay != nil {
		health["replay_cache"] = h.replay.Health(ctx)
	}

	c.JSON(status, health)
}

func (h *Handler) SaveDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	draft := &database.Draft{
		ID:       c.Param("id"),
		Slug:     req.Slug,
		Title:    req.Title,
		Summary:  req.Summary,
		BodyMD:   req.BodyMD,
		BodyHTML: req.BodyHTML,
		Tags:     req.Tags,
		Status:   req.Status,
		Author:   req.Author,
		Scores:   req.Scores,
		Meta:     req.Meta,
	}
	if err := h.coordinator.SaveDraft(c.Request.Context(), draft, currentActor(c)); err != nil {
		respondError(c, "save_draft", err)
		return
	}

	c.JSON(http.StatusOK, draftResponse(draft))
}

func (h *Handler) GetDraft(c *gin.Context) {
	draft, err := h.coordinator.GetDraft(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		respondError(c, "get_draft", err)
		return
	}
	c.JSON(http.StatusOK, draftResponse(draft))
}

func (h *Handler) PublishDraft(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	draftID := c.Param("id")
	results, err := h.coordinator.PublishDraft(c.Request.Context(), publish.Request{
		DraftID:      draftID,
		Destinations: req.Destinations,
		Nonce:        req.Nonce,
	}, currentActor(c))
	if err != nil {
		respondError(c, "publish_draft", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"draft_id": draftID,
		"results":  results,
	})
}

func (h *Handler) ListPublications(c *gin.Context) {
	records, err := h.coordinator.ListRecords(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		respondError(c, "list_publications", err)
		return
	}

	publications := make([]gin.H, 0, len(records))
	for _, r := range records {
		publications = append(publications, gin.H{
			"id":           r.ID,
			"destination":  r.Destination,
			"status":       r.Status,
			"job_id":       r.JobID,
			"external_url": r.ExternalURL,
			"platform_id":  r.PlatformID,
			"error":        r.ErrorMessage,
			"attempt":      r.Attempt,
			"run_by":       r.RunBy,
			"created_at":   r.CreatedAt,
			"updated_at":   r.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"draft_id":     c.Param("id"),
		"publications": publications,
		"total":        len(publications),
	})
}

func (h *Handler) ListJobs(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	filter := database.JobFilter{
		Status: database.JobStatus(c.Query("status")),
		Kind:   database.JobKind(c.Query("kind")),
		Limit:  limit,
	}
	jobs, err := h.coordinator.ListJobs(c.Request.Context(), filter, currentActor(c))
	if err != nil {
		respondError(c, "list_jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.coordinator.GetJob(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		respondError(c, "get_job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) RetryJob(c *gin.Context) {
	job, err := h.coordinator.RetryJob(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		respondError(c, "retry_job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) CancelJob(c *gin.Context) {
	job, err := h.coordinator.CancelJob(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		respondError(c, "cancel_job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) ListAudit(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	filter := audit.Filter{
		Actor:      c.Query("actor"),
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Limit:      limit,
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since parameter", "details": err.Error()})
			return
		}
		filter.Since = &t
	}

	entries, err := h.coordinator.ListAuditEntries(c.Request.Context(), filter, currentActor(c))
	if err != nil {
		respondError(c, "list_audit", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

func (h *Handler) ListEndpoints(c *gin.Context) {
	if err := access.Authorize(currentActor(c).Role, access.EndpointRead); err != nil {
		respondError(c, "list_endpoints", err)
		return
	}

	names := h.destinations.Names()
	endpoints := make([]gin.H, 0, len(names))
	for _, name := range names {
		config, err := h.destinations.GetConfig(name)
		if err != nil {
			continue
		}
		endpoints = append(endpoints, gin.H{
			"name":     config.Name,
			"platform": config.Platform,
			"enabled":  config.Settings.Enabled,
			"base_url": config.Settings.BaseURL,
			"timeout":  config.Settings.TimeoutDuration().String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints, "total": len(endpoints)})
}

func (h *Handler) TestEndpoint(c *gin.Context) {
	dest := c.Param("destination")
	connected, err := h.coordinator.TestDestination(c.Request.Context(), dest, currentActor(c))
	if err != nil {
		respondError(c, "test_endpoint", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"destination": dest, "connected": connected})
}

func (h *Handler) SaveEndpointCredentials(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	cred := &database.Credential{
		Destination: c.Param("destination"),
		ClientID:    req.ClientID,
		Secret:      req.Secret,
		Tokens:      req.Tokens,
		ExpiresAt:   req.ExpiresAt,
		Scopes:      req.Scopes,
		Active:      active,
	}
	if err := h.coordinator.SaveCredential(c.Request.Context(), cred, currentActor(c)); err != nil {
		respondError(c, "save_credentials", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"destination": cred.Destination,
		"active":      cred.Active,
	})
}

// respondError maps coordinator errors onto HTTP status codes.
func respondError(c *gin.Context, operation string, err error) {
	var denial *access.Denial
	switch {
	case errors.As(err, &denial):
		c.JSON(http.StatusForbidden, gin.H{"error": denial.Error(), "required": denial.Required()})
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, publish.ErrValidation), errors.Is(err, ledger.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("Request failed", "operation", operation, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return 0, false
	}
	return limit, true
}

func draftResponse(d *database.Draft) gin.H {
	return gin.H{
		"id":         d.ID,
		"slug":       d.Slug,
		"title":      d.Title,
		"summary":    d.Summary,
		"body_md":    d.BodyMD,
		"body_html":  d.BodyHTML,
		"tags":       d.Tags,
		"status":     d.Status,
		"author":     d.Author,
		"scores":     d.Scores,
		"meta":       d.Meta,
		"created_at": d.CreatedAt,
		"updated_at": d.UpdatedAt,
	}
}
