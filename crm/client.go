package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/ratelimit"
	"github.com/goliatone/go-leadsync/transport"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	DefaultPageLimit   = 100
	maxErrorBodyLength = 256
)

// TokenSource yields the bearer token for a location.
type TokenSource interface {
	GetAccessToken(ctx context.Context, locationID string) (string, error)
}

type TokenSourceFunc func(ctx context.Context, locationID string) (string, error)

func (fn TokenSourceFunc) GetAccessToken(ctx context.Context, locationID string) (string, error) {
	return fn(ctx, locationID)
}

type Client struct {
	baseURL   *url.URL
	pageLimit int
	tokens    TokenSource
	adapter   *transport.RESTAdapter
	policy    *ratelimit.AdaptivePolicy
	timeout   time.Duration
	observer  core.Observer
	now       func() time.Time
}

type Option func(*Client)

func WithHTTPClient(doer transport.HTTPDoer) Option {
	return func(c *Client) {
		c.adapter.SetClient(doer)
	}
}

// WithRateLimitPolicy replaces the adaptive policy. A nil policy disables
// local throttling.
func WithRateLimitPolicy(policy *ratelimit.AdaptivePolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(c *Client) {
		c.observer = core.NewObserver(logger, c.observer.Metrics, "crm")
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(c *Client) {
		c.observer = core.NewObserver(c.observer.Logger, recorder, "crm")
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg core.CRMConfig, tokens TokenSource, opts ...Option) (*Client, error) {
	rawBase := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawBase == "" {
		rawBase = core.DefaultCRMBaseURL
	}
	base, err := url.Parse(rawBase)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, core.NewValidationError("crm: base url must be absolute")
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = core.DefaultCRMAPIVersion
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}

	adapter := transport.NewRESTAdapter(nil,
		transport.WithDefaultHeader("Version", version),
		transport.WithDefaultHeader("Accept", "application/json"),
	)

	c := &Client{
		baseURL:   base,
		pageLimit: pageLimit,
		tokens:    tokens,
		adapter:   adapter,
		policy:    ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
		timeout:   cfg.Timeout,
		observer:  core.NewObserver(nil, nil, "crm"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.tokens == nil {
		return nil, core.NewValidationError("crm: token source is required")
	}
	return c, nil
}

// BaseURL is the absolute API root used to resolve pagination cursors.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// FirstSearchPageURL is the entry point of an opportunity walk.
func (c *Client) FirstSearchPageURL(auth Auth) string {
	query := url.Values{}
	query.Set("location_id", strings.TrimSpace(auth.LocationID))
	query.Set("limit", strconv.Itoa(c.pageLimit))
	return c.endpoint("opportunities", "search") + "?" + query.Encode()
}

// SearchOpportunities fetches one page. An empty pageURL fetches the first
// page; any other value must be an absolute URL on the API host.
func (c *Client) SearchOpportunities(ctx context.Context, auth Auth, pageURL string) (SearchPage, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		pageURL = c.FirstSearchPageURL(auth)
	}
	if err := c.sameHost(pageURL); err != nil {
		return SearchPage{}, err
	}
	var page SearchPage
	if err := c.call(ctx, auth, "search_opportunities", http.MethodGet, pageURL, nil, &page); err != nil {
		return SearchPage{}, err
	}
	return page, nil
}

func (c *Client) GetOpportunity(ctx context.Context, auth Auth, opportunityID string) (Opportunity, error) {
	opportunityID = strings.TrimSpace(opportunityID)
	if opportunityID == "" {
		return Opportunity{}, core.NewValidationError("crm: opportunity id is required")
	}
	var envelope struct {
		Opportunity Opportunity `json:"opportunity"`
	}
	if err := c.call(ctx, auth, "get_opportunity", http.MethodGet, c.endpoint("opportunities", opportunityID), nil, &envelope); err != nil {
		return Opportunity{}, err
	}
	return envelope.Opportunity, nil
}

func (c *Client) GetContact(ctx context.Context, auth Auth, contactID string) (Contact, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return Contact{}, core.NewValidationError("crm: contact id is required")
	}
	var envelope struct {
		Contact Contact `json:"contact"`
	}
	if err := c.call(ctx, auth, "get_contact", http.MethodGet, c.endpoint("contacts", contactID), nil, &envelope); err != nil {
		return Contact{}, err
	}
	return envelope.Contact, nil
}

func (c *Client) ListNotes(ctx context.Context, auth Auth, contactID string) ([]Note, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, core.NewValidationError("crm: contact id is required")
	}
	var envelope struct {
		Notes []Note `json:"notes"`
	}
	if err := c.call(ctx, auth, "list_notes", http.MethodGet, c.endpoint("contacts", contactID, "notes"), nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Notes, nil
}

func (c *Client) ListCustomFields(ctx context.Context, auth Auth, model core.EntityModel) ([]CustomField, error) {
	if !model.Valid() {
		return nil, core.NewValidationError(fmt.Sprintf("crm: unknown entity model %q", model))
	}
	target := c.endpoint("locations", auth.LocationID, "customFields") + "?model=" + url.QueryEscape(string(model))
	var envelope struct {
		CustomFields []CustomField `json:"customFields"`
	}
	if err := c.call(ctx, auth, "list_custom_fields", http.MethodGet, target, nil, &envelope); err != nil {
		return nil, err
	}
	for i := range envelope.CustomFields {
		if envelope.CustomFields[i].Model == "" {
			envelope.CustomFields[i].Model = model
		}
	}
	return envelope.CustomFields, nil
}

func (c *Client) CreateCustomField(ctx context.Context, auth Auth, req CreateCustomFieldRequest) (CustomField, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return CustomField{}, core.NewValidationError("crm: custom field name is required")
	}
	if !req.Model.Valid() {
		return CustomField{}, core.NewValidationError(fmt.Sprintf("crm: unknown entity model %q", req.Model))
	}
	if strings.TrimSpace(req.DataType) == "" {
		req.DataType = DataTypeText
	}
	body, err := json.Marshal(req)
	if err != nil {
		return CustomField{}, fmt.Errorf("crm: encode custom field: %w", err)
	}
	var envelope struct {
		CustomField CustomField `json:"customField"`
	}
	if err := c.call(ctx, auth, "create_custom_field", http.MethodPost, c.endpoint("locations", auth.LocationID, "customFields"), body, &envelope); err != nil {
		return CustomField{}, err
	}
	created := envelope.CustomField
	if created.Model == "" {
		created.Model = req.Model
	}
	if created.Name == "" {
		created.Name = req.Name
	}
	if strings.TrimSpace(created.ID) == "" {
		return CustomField{}, core.NewUpstreamFetchError(0, "crm: created custom field has no id", nil)
	}
	return created, nil
}

func (c *Client) ListPipelines(ctx context.Context, auth Auth) ([]Pipeline, error) {
	target := c.endpoint("opportunities", "pipelines") + "?locationId=" + url.QueryEscape(strings.TrimSpace(auth.LocationID))
	var envelope struct {
		Pipelines []Pipeline `json:"pipelines"`
	}
	if err := c.call(ctx, auth, "list_pipelines", http.MethodGet, target, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Pipelines, nil
}

func (c *Client) call(ctx context.Context, auth Auth, operation, method, target string, body []byte, out any) error {
	if c == nil {
		return fmt.Errorf("crm: client is nil")
	}
	locationID := strings.TrimSpace(auth.LocationID)
	if locationID == "" {
		return core.NewValidationError("crm: location id is required")
	}

	startedAt := time.Now()
	status, err := c.do(ctx, locationID, method, target, body, out)
	fields := map[string]any{"location_id": locationID, "method": method}
	if status > 0 {
		fields["status_code"] = status
	}
	c.observer.Observe(ctx, startedAt, operation, err, fields)
	return err
}

func (c *Client) do(ctx context.Context, locationID, method, target string, body []byte, out any) (int, error) {
	key := ratelimit.Key{LocationID: locationID}
	if err := c.policy.BeforeCall(ctx, key); err != nil {
		var throttled ratelimit.ThrottledError
		if errors.As(err, &throttled) {
			return 0, throttled.ToServiceError()
		}
		return 0, err
	}

	accessToken, err := c.tokens.GetAccessToken(ctx, locationID)
	if err != nil {
		return 0, err
	}

	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	if len(body) > 0 {
		headers["Content-Type"] = "application/json"
	}
	res, err := c.adapter.Do(ctx, transport.Request{
		Method:  method,
		URL:     target,
		Headers: headers,
		Body:    body,
		Timeout: c.timeout,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, core.NewUpstreamFetchError(0, "crm: request failed", err)
	}

	if afterErr := c.policy.AfterCall(ctx, key, ratelimit.ResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
	}); afterErr != nil {
		c.observer.Warn(ctx, "crm rate limit state update failed", map[string]any{
			"location_id": locationID,
			"error":       afterErr.Error(),
		})
	}

	if err := classifyStatus(res, c.now()); err != nil {
		return res.StatusCode, err
	}
	if out == nil || len(res.Body) == 0 {
		return res.StatusCode, nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return res.StatusCode, core.NewUpstreamFetchError(res.StatusCode, "crm: decode response", err)
	}
	return res.StatusCode, nil
}

// classifyStatus maps non 2xx responses. 401 and 403 need a reconnect, 429
// carries the retry hint, everything else is an upstream failure with the
// status attached.
func classifyStatus(res transport.Response, now time.Time) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	message := fmt.Sprintf("crm: remote returned %d", res.StatusCode)
	if detail := errorDetail(res.Body); detail != "" {
		message += ": " + detail
	}
	switch res.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.NewAuthError(message, nil)
	case http.StatusTooManyRequests:
		retryAfter, _ := ratelimit.ParseRetryAfterHeader(headerValue(res.Headers, "Retry-After"), now)
		return core.NewRateLimitError(message, retryAfter)
	default:
		return core.NewUpstreamFetchError(res.StatusCode, message, nil)
	}
}

func errorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Message) > 0 {
		if text := rawString(payload.Message); text != "" {
			return truncate(text)
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(value string) string {
	if len(value) <= maxErrorBodyLength {
		return value
	}
	cut := maxErrorBodyLength
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(existing, key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(strings.TrimSpace(segment)))
	}
	return strings.TrimRight(c.baseURL.String(), "/") + "/" + strings.Join(escaped, "/")
}

func (c *Client) sameHost(target string) error {
	parsed, err := url.Parse(target)
	if err != nil || !parsed.IsAbs() {
		return core.NewValidationError("crm: page url must be absolute")
	}
	if !strings.EqualFold(parsed.Host, c.baseURL.Host) {
		return core.NewValidationError(fmt.Sprintf("crm: page url host %q does not match api host", parsed.Host))
	}
	return nil
}
