package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"teampulse/internal/config"
	"teampulse/internal/models"
	"teampulse/internal/redis"
)

const stateTTL = 10 * time.Minute

var ErrStateNotFound = errors.New("oauth_state_not_found")

// Endpoints describes one provider's OAuth2 surface.
type Endpoints struct {
	AuthorizeURL string
	TokenURL     string
	Scopes       []string
	BasicAuth    bool // client credentials via Authorization header instead of form body
}

var providerEndpoints = map[models.Service]Endpoints{
	models.ServiceSlack: {
		AuthorizeURL: "https://slack.com/oauth/v2/authorize",
		TokenURL:     "https://slack.com/api/oauth.v2.access",
		Scopes:       []string{"channels:read", "channels:history", "users:read"},
	},
	models.ServiceDiscord: {
		AuthorizeURL: "https://discord.com/oauth2/authorize",
		TokenURL:     "https://discord.com/api/oauth2/token",
		Scopes:       []string{"identify", "guilds", "messages.read"},
	},
	models.ServiceTeams: {
		AuthorizeURL: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		Scopes:       []string{"offline_access", "Team.ReadBasic.All", "ChannelMessage.Read.All", "Calendars.Read"},
	},
	models.ServiceGoogle: {
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		Scopes:       []string{"https://www.googleapis.com/auth/calendar.readonly"},
	},
	models.ServiceLineWorks: {
		AuthorizeURL: "https://auth.worksmobile.com/oauth2/v2.0/authorize",
		TokenURL:     "https://auth.worksmobile.com/oauth2/v2.0/token",
		Scopes:       []string{"bot", "user.read"},
	},
	models.ServiceChatWork: {
		AuthorizeURL: "https://www.chatwork.com/packages/oauth2/login.php",
		TokenURL:     "https://oauth.chatwork.com/token",
		Scopes:       []string{"rooms.all:read"},
		BasicAuth:    true,
	},
	models.ServiceZoom: {
		AuthorizeURL: "https://zoom.us/oauth/authorize",
		TokenURL:     "https://zoom.us/oauth/token",
		Scopes:       []string{"meeting:read"},
		BasicAuth:    true,
	},
}

// Token is the provider-agnostic result of a code exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TeamID       string
	TeamName     string
}

// Manager drives the connect flow: authorize URL with a one-shot state nonce,
// code exchange, and refresh grants.
type Manager struct {
	logger     *slog.Logger
	redis      *redis.Client
	apps       map[string]config.OAuthApp
	httpClient *http.Client
}

func NewManager(logger *slog.Logger, redisClient *redis.Client, apps map[string]config.OAuthApp) *Manager {
	return &Manager{
		logger: logger,
		redis:  redisClient,
		apps:   apps,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Configured reports whether an OAuth app exists for the service.
func (m *Manager) Configured(svc models.Service) bool {
	_, ok := m.apps[string(svc)]
	return ok
}

// AuthorizeURL issues a state nonce bound to (userID, service) and returns the
// provider consent URL. The integration is now pending_oauth until the
// callback lands or the nonce expires.
func (m *Manager) AuthorizeURL(ctx context.Context, userID string, svc models.Service) (string, error) {
	app, ok := m.apps[string(svc)]
	if !ok {
		return "", fmt.Errorf("oauth_app_not_configured: %s", svc)
	}
	ep, ok := providerEndpoints[svc]
	if !ok {
		return "", fmt.Errorf("oauth_endpoints_unknown: %s", svc)
	}

	state := uuid.NewString()
	if err := m.redis.Set(ctx, stateKey(state), userID+"|"+string(svc), stateTTL); err != nil {
		return "", fmt.Errorf("oauth_state_store_failed: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", app.ClientID)
	q.Set("redirect_uri", app.RedirectURL)
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("scope", strings.Join(ep.Scopes, " "))
	if svc == models.ServiceGoogle {
		// refresh tokens only come back with offline access + consent prompt
		q.Set("access_type", "offline")
		q.Set("prompt", "consent")
	}

	m.logger.Info("oauth_state_issued", "user_id", userID, "service", svc)
	return ep.AuthorizeURL + "?" + q.Encode(), nil
}

// ConsumeState resolves and burns a callback state nonce.
func (m *Manager) ConsumeState(ctx context.Context, state string) (userID string, svc models.Service, err error) {
	if state == "" {
		return "", "", ErrStateNotFound
	}
	val, err := m.redis.GetDel(ctx, stateKey(state))
	if err != nil || val == "" {
		return "", "", ErrStateNotFound
	}
	parts := strings.SplitN(val, "|", 2)
	if len(parts) != 2 {
		return "", "", ErrStateNotFound
	}
	svc, err = models.ParseService(parts[1])
	if err != nil {
		return "", "", ErrStateNotFound
	}
	return parts[0], svc, nil
}

// Exchange posts the authorization-code grant.
func (m *Manager) Exchange(ctx context.Context, svc models.Service, code string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return m.tokenRequest(ctx, svc, form)
}

// Refresh posts the refresh-token grant.
func (m *Manager) Refresh(ctx context.Context, svc models.Service, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, errors.New("no_refresh_token")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return m.tokenRequest(ctx, svc, form)
}

func (m *Manager) tokenRequest(ctx context.Context, svc models.Service, form url.Values) (*Token, error) {
	app, ok := m.apps[string(svc)]
	if !ok {
		return nil, fmt.Errorf("oauth_app_not_configured: %s", svc)
	}
	ep := providerEndpoints[svc]

	if ep.BasicAuth {
		// client creds go in the Authorization header
	} else {
		form.Set("client_id", app.ClientID)
		form.Set("client_secret", app.ClientSecret)
	}
	if form.Get("grant_type") == "authorization_code" {
		form.Set("redirect_uri", app.RedirectURL)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", ep.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed_to_create_request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if ep.BasicAuth {
		req.SetBasicAuth(app.ClientID, app.ClientSecret)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token_request_failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("token_response_read_failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token_endpoint_error: status=%d body=%s", resp.StatusCode, string(body))
	}

	// slack wraps the grant in its ok/error envelope and nests team info
	var parsed struct {
		OK           *bool  `json:"ok"`
		ErrorCode    string `json:"error"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Team         struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"team"`
		AuthedUser struct {
			AccessToken string `json:"access_token"`
		} `json:"authed_user"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("token_response_decode_failed: %w", err)
	}
	if parsed.OK != nil && !*parsed.OK {
		return nil, fmt.Errorf("token_endpoint_error: %s", parsed.ErrorCode)
	}

	tok := &Token{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresIn:    parsed.ExpiresIn,
		TeamID:       parsed.Team.ID,
		TeamName:     parsed.Team.Name,
	}
	if tok.AccessToken == "" && parsed.AuthedUser.AccessToken != "" {
		tok.AccessToken = parsed.AuthedUser.AccessToken
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token_endpoint_error: empty access_token")
	}
	return tok, nil
}

func stateKey(state string) string {
	return "oauth_state:" + state
}
