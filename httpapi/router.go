package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/webhooks"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const (
	WebhookPath       = "/webhooks/crm"
	OAuthCallbackPath = "/oauth/callback"
	HealthPath        = "/healthz"

	DefaultMaxWebhookBytes int64 = 1 << 20
	correlationHeader            = "X-Correlation-Id"
)

type WebhookProcessor interface {
	Process(ctx context.Context, in webhooks.Inbound) (webhooks.Result, error)
}

// Connector completes an OAuth authorization for the tenant bound to state.
type Connector interface {
	CompleteConnect(ctx context.Context, state string, code string) (core.Tenant, error)
}

type HealthCheck func(ctx context.Context) error

type Options struct {
	Webhooks        WebhookProcessor
	Connector       Connector
	Health          HealthCheck
	Logger          glog.Logger
	Metrics         core.MetricsRecorder
	MaxWebhookBytes int64
}

type handlers struct {
	webhooks  WebhookProcessor
	connector Connector
	health    HealthCheck
	maxBytes  int64
	observer  core.Observer
}

// NewRouter builds the gin engine. Missing collaborators leave their route
// answering 503.
func NewRouter(opts Options) *gin.Engine {
	h := &handlers{
		webhooks:  opts.Webhooks,
		connector: opts.Connector,
		health:    opts.Health,
		maxBytes:  opts.MaxWebhookBytes,
		observer:  core.NewObserver(opts.Logger, opts.Metrics, "httpapi"),
	}
	if h.maxBytes <= 0 {
		h.maxBytes = DefaultMaxWebhookBytes
	}

	r := gin.New()
	r.Use(gin.Recovery(), correlationID())
	r.GET(HealthPath, h.handleHealth)
	r.POST(WebhookPath, h.handleWebhook)
	r.GET(OAuthCallbackPath, h.handleOAuthCallback)
	return r
}

func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(correlationHeader))
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Set("correlation_id", cid)
		c.Header(correlationHeader, cid)
		c.Next()
	}
}

// handleWebhook always answers 200. Processing failures are logged and left
// to the delivery ledger and the periodic sweep.
func (h *handlers) handleWebhook(c *gin.Context) {
	startedAt := time.Now()
	ctx := c.Request.Context()
	fields := map[string]any{"correlation_id": c.GetString("correlation_id")}

	if h.webhooks == nil {
		h.observer.Observe(ctx, startedAt, "webhook", errors.New("httpapi: webhook processor is not configured"), fields)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes))
	if err != nil {
		h.observer.Observe(ctx, startedAt, "webhook", core.NewValidationError("httpapi: unreadable webhook body: "+err.Error()), fields)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	result, err := h.webhooks.Process(ctx, webhooks.Inbound{
		Headers: flattenHeaders(c.Request.Header),
		Body:    body,
	})
	fields["outcome"] = result.Outcome
	fields["delivery_id"] = result.DeliveryID
	fields["tenant_id"] = result.TenantID
	fields["event"] = string(result.Event.Type)
	fields["action"] = string(result.Event.Action)
	h.observer.Observe(ctx, startedAt, "webhook", err, fields)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *handlers) handleOAuthCallback(c *gin.Context) {
	startedAt := time.Now()
	ctx := c.Request.Context()
	if h.connector == nil {
		writeError(c, core.NewConfigError("httpapi: oauth connect is not configured"))
		return
	}
	if remoteErr := strings.TrimSpace(c.Query("error")); remoteErr != "" {
		writeError(c, core.NewAuthError("httpapi: authorization denied: "+remoteErr, nil))
		return
	}
	code := strings.TrimSpace(c.Query("code"))
	state := strings.TrimSpace(c.Query("state"))
	if code == "" || state == "" {
		writeError(c, core.NewValidationError("httpapi: code and state are required"))
		return
	}

	tenant, err := h.connector.CompleteConnect(ctx, state, code)
	h.observer.Observe(ctx, startedAt, "oauth_callback", err, map[string]any{
		"tenant_id":   tenant.ID,
		"location_id": tenant.Location(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected":  true,
		"tenantId":   tenant.ID,
		"locationId": tenant.Location(),
	})
}

func (h *handlers) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, err error) {
	rich := core.MapError(err)
	status := rich.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    rich.TextCode,
			"message": rich.Message,
		},
	})
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
