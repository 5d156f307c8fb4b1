package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"golang.org/x/oauth2"
)

// DefaultTokenLifetime applies when the token endpoint omits expires_in.
const DefaultTokenLifetime = time.Hour

var DefaultScopes = []string{
	"opportunities.readonly",
	"opportunities.write",
	"contacts.readonly",
	"contacts.write",
	"locations/customFields.readonly",
	"locations/customFields.write",
}

// Grant is the outcome of an authorization code exchange.
type Grant struct {
	LocationID string
	Credential core.Credential
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (core.Credential, error)
}

type Exchanger interface {
	Exchange(ctx context.Context, code string) (Grant, error)
}

// OAuthRefresher talks to the CRM token endpoint through golang.org/x/oauth2.
// Both grants post client credentials in the form body and request a
// location scoped token.
type OAuthRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

func NewOAuthRefresher(cfg core.CRMConfig, httpClient *http.Client) *OAuthRefresher {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = core.DefaultCRMBaseURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       append([]string(nil), DefaultScopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://marketplace.leadconnectorhq.com/oauth/chooselocation",
				TokenURL:  baseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AuthCodeURL returns the consent URL carrying state.
func (r *OAuthRefresher) AuthCodeURL(state string) string {
	return r.config.AuthCodeURL(state)
}

func (r *OAuthRefresher) Exchange(ctx context.Context, code string) (Grant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Grant{}, core.NewValidationError("token: authorization code is required")
	}
	tok, err := r.config.Exchange(r.context(ctx), code, oauth2.SetAuthURLParam("user_type", "Location"))
	if err != nil {
		return Grant{}, mapTokenError("authorization_code", err)
	}
	locationID := extraString(tok, "locationId")
	if locationID == "" {
		return Grant{}, core.NewAuthError("token: token response is missing locationId", nil)
	}
	return Grant{LocationID: locationID, Credential: r.credential(tok, "")}, nil
}

// Refresh rotates the grant. The previous refresh token is kept when the
// endpoint does not issue a new one.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (core.Credential, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.Credential{}, core.NewAuthError("token: refresh token is missing", nil)
	}
	source := r.config.TokenSource(r.context(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := source.Token()
	if err != nil {
		return core.Credential{}, mapTokenError("refresh_token", err)
	}
	return r.credential(tok, refreshToken), nil
}

func (r *OAuthRefresher) context(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
}

func (r *OAuthRefresher) credential(tok *oauth2.Token, previousRefresh string) core.Credential {
	expiresAt := tok.Expiry.UTC()
	if tok.Expiry.IsZero() {
		expiresAt = r.now().Add(DefaultTokenLifetime)
	}
	refresh := strings.TrimSpace(tok.RefreshToken)
	if refresh == "" {
		refresh = previousRefresh
	}
	return core.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}
}

func extraString(tok *oauth2.Token, key string) string {
	if tok == nil {
		return ""
	}
	value, ok := tok.Extra(key).(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// mapTokenError classifies token endpoint failures. Rejected grants become
// auth errors, throttling becomes a rate limit error, anything else is an
// upstream fetch failure.
func mapTokenError(grant string, err error) error {
	var retrieve *oauth2.RetrieveError
	if !errors.As(err, &retrieve) {
		return core.NewUpstreamFetchError(0, fmt.Sprintf("token: %s request failed", grant), err)
	}
	status := 0
	if retrieve.Response != nil {
		status = retrieve.Response.StatusCode
	}
	message := fmt.Sprintf("token: %s rejected (%d)", grant, status)
	switch {
	case retrieve.ErrorCode == "invalid_grant", retrieve.ErrorCode == "unauthorized_client",
		status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return core.NewAuthError(message, err)
	case status == http.StatusTooManyRequests:
		return core.NewRateLimitError(message, 0)
	default:
		return core.NewUpstreamFetchError(status, message, err)
	}
}

var (
	_ Refresher = (*OAuthRefresher)(nil)
	_ Exchanger = (*OAuthRefresher)(nil)
)
