package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/cobot"
	"chargebridge/internal/http/middleware"
	"chargebridge/internal/seal"
	"chargebridge/internal/storage"
)

// OAuth state tokens are short-lived; a user sitting on the consent screen
// for longer has to restart the flow.
const stateTTL = 15 * time.Minute

const (
	stateKindInstall = "install"
	stateKindUser    = "user"
)

var installScopes = []string{
	"navigation",
	"read_spaces",
	"read_bookings",
	"write_bookings",
	"read_memberships",
	"read_resources",
	"write_activities",
}

var userScopes = []string{"read_user"}

const navigationLinkLabel = "EV Charging"

type oauthState struct {
	Kind           string `json:"kind"`
	SpaceID        string `json:"space_id,omitempty"`
	SpaceSubdomain string `json:"space_subdomain"`
	ReturnPath     string `json:"return_path,omitempty"`
}

// Installer is the membership-backend surface of the OAuth flows.
type Installer interface {
	AuthorizeURL(spaceSubdomain, redirectURI, state string, scopes []string) string
	ClientID() string
	ExchangeCodeForAccessToken(ctx context.Context, code string) (*cobot.AccessTokenResponse, error)
	GetSpaceDetails(ctx context.Context, spaceSubdomain string) (*cobot.SpaceDetails, error)
	ExchangeAccessTokenForSpaceToken(ctx context.Context, accessToken, spaceID string) (*cobot.SpaceTokenResponse, error)
	RevokeAccessToken(ctx context.Context, accessToken string) error
	GetUserDetails(ctx context.Context, accessToken string) (*cobot.UserDetails, error)
	ListNavigationLinks(ctx context.Context, accessToken, spaceSubdomain string) ([]cobot.NavigationLink, error)
	AddNavigationLink(ctx context.Context, accessToken, spaceSubdomain string, req cobot.CreateNavigationLinkRequest) (*cobot.NavigationLink, error)
	DeleteNavigationLink(ctx context.Context, accessToken, linkURL string) error
}

// OAuthHandlers implements the install and user login flows.
type OAuthHandlers struct {
	cobot    Installer
	sealer   *seal.Sealer
	auth     *middleware.Authenticator
	tokens   *storage.TokenStore
	settings *storage.SettingsStore
	baseURL  string
	logger   *zap.Logger
	now      func() time.Time
}

// NewOAuthHandlers returns the handler set. baseURL is the public URL this
// service is reachable at, used for the OAuth redirect and the iframe link.
func NewOAuthHandlers(client Installer, sealer *seal.Sealer, auth *middleware.Authenticator, tokens *storage.TokenStore, settings *storage.SettingsStore, baseURL string, logger *zap.Logger) *OAuthHandlers {
	return &OAuthHandlers{
		cobot:    client,
		sealer:   sealer,
		auth:     auth,
		tokens:   tokens,
		settings: settings,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
		now:      time.Now,
	}
}

func (h *OAuthHandlers) redirectURI() string {
	return h.baseURL + "/oauth/callback"
}

// Install handles GET /oauth/install?space=<subdomain> and redirects the
// admin to the consent screen.
func (h *OAuthHandlers) Install(w http.ResponseWriter, r *http.Request) {
	subdomain := strings.TrimSpace(r.URL.Query().Get("space"))
	if subdomain == "" {
		writeError(w, http.StatusBadRequest, "space parameter required")
		return
	}

	state, err := h.sealer.Seal(oauthState{Kind: stateKindInstall, SpaceSubdomain: subdomain}, stateTTL)
	if err != nil {
		h.logger.Error("state seal failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	http.Redirect(w, r, h.cobot.AuthorizeURL(subdomain, h.redirectURI(), state, installScopes), http.StatusFound)
}

// InitUser handles GET /oauth/init-user. The iframe opens this URL with the
// space identity in the query; the user is sent through the consent screen to
// obtain a token proving who they are.
func (h *OAuthHandlers) InitUser(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	spaceID := strings.TrimSpace(query.Get("space_id"))
	subdomain := strings.TrimSpace(query.Get("space_subdomain"))
	if spaceID == "" || subdomain == "" {
		writeError(w, http.StatusBadRequest, "space_id and space_subdomain parameters required")
		return
	}

	state, err := h.sealer.Seal(oauthState{
		Kind:           stateKindUser,
		SpaceID:        spaceID,
		SpaceSubdomain: subdomain,
		ReturnPath:     sanitizeReturnPath(query.Get("return_path")),
	}, stateTTL)
	if err != nil {
		h.logger.Error("state seal failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	http.Redirect(w, r, h.cobot.AuthorizeURL(subdomain, h.redirectURI(), state, userScopes), http.StatusFound)
}

// Only same-origin paths may be redirect targets after login.
func sanitizeReturnPath(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/"
	}
	return raw
}

// Callback handles GET /oauth/callback for both flows.
func (h *OAuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code parameter required")
		return
	}

	var state oauthState
	if err := h.sealer.Unseal(query.Get("state"), &state); err != nil {
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}

	switch state.Kind {
	case stateKindInstall:
		h.completeInstall(w, r, code, state)
	case stateKindUser:
		h.completeUserLogin(w, r, code, state)
	default:
		writeError(w, http.StatusBadRequest, "invalid state")
	}
}

// completeInstall exchanges the code for a durable space token, registers the
// sidebar link and initializes the space settings. The admin's personal token
// is revoked once the space token exists; only the space token is stored.
func (h *OAuthHandlers) completeInstall(w http.ResponseWriter, r *http.Request, code string, state oauthState) {
	ctx := r.Context()

	adminToken, err := h.cobot.ExchangeCodeForAccessToken(ctx, code)
	if err != nil {
		h.logger.Error("code exchange failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "membership backend unavailable")
		return
	}

	space, err := h.cobot.GetSpaceDetails(ctx, state.SpaceSubdomain)
	if err != nil {
		h.logger.Error("space lookup failed", zap.String("subdomain", state.SpaceSubdomain), zap.Error(err))
		writeError(w, http.StatusBadGateway, "membership backend unavailable")
		return
	}

	spaceToken, err := h.cobot.ExchangeAccessTokenForSpaceToken(ctx, adminToken.AccessToken, space.ID)
	if err != nil {
		h.logger.Error("space token exchange failed", zap.String("space_id", space.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "membership backend unavailable")
		return
	}
	if spaceToken.ClientID != h.cobot.ClientID() {
		h.logger.Error("space token belongs to a different client",
			zap.String("space_id", space.ID),
			zap.String("client_id", spaceToken.ClientID))
		writeError(w, http.StatusInternalServerError, "install failed")
		return
	}

	if err := h.cobot.RevokeAccessToken(ctx, adminToken.AccessToken); err != nil {
		// The admin token expires on its own; not worth failing the install.
		h.logger.Warn("revoking admin token failed", zap.Error(err))
	}

	if err := h.registerNavigationLink(ctx, spaceToken.Token, space); err != nil {
		h.logger.Error("navigation link registration failed", zap.String("space_id", space.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "membership backend unavailable")
		return
	}

	if err := h.tokens.Set(ctx, &storage.SpaceAccessToken{
		SpaceID:        space.ID,
		SpaceSubdomain: space.Subdomain,
		AccessToken:    spaceToken.Token,
	}); err != nil {
		h.logger.Error("token store failed", zap.String("space_id", space.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "install failed")
		return
	}

	// First install seeds empty settings; reinstalls keep the existing
	// mapping and tariff but pick up the fresh token.
	existing, err := h.settings.Get(ctx, space.ID)
	if err != nil {
		h.logger.Error("settings lookup failed", zap.String("space_id", space.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "install failed")
		return
	}
	settings := existing
	if settings == nil {
		settings = &storage.SpaceSettings{
			SpaceID:         space.ID,
			SpaceSubdomain:  space.Subdomain,
			ResourceMapping: map[string]string{},
		}
	}
	settings.AccessToken = spaceToken.Token
	settings.SpaceSubdomain = space.Subdomain
	if err := h.settings.Set(ctx, settings); err != nil {
		h.logger.Error("settings store failed", zap.String("space_id", space.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "install failed")
		return
	}

	h.logger.Info("space installed",
		zap.String("space_id", space.ID),
		zap.String("subdomain", space.Subdomain))
	http.Redirect(w, r, fmt.Sprintf("https://%s.cobot.me/admin", space.Subdomain), http.StatusFound)
}

// registerNavigationLink replaces any stale sidebar entry pointing at us.
func (h *OAuthHandlers) registerNavigationLink(ctx context.Context, spaceToken string, space *cobot.SpaceDetails) error {
	links, err := h.cobot.ListNavigationLinks(ctx, spaceToken, space.Subdomain)
	if err != nil {
		return err
	}
	iframeURL := h.baseURL + "/?space_id=" + url.QueryEscape(space.ID) + "&space_subdomain=" + url.QueryEscape(space.Subdomain)
	for _, link := range links {
		if link.Label != navigationLinkLabel && !strings.HasPrefix(link.IframeURL, h.baseURL) {
			continue
		}
		if err := h.cobot.DeleteNavigationLink(ctx, spaceToken, link.URL); err != nil {
			return err
		}
	}
	_, err = h.cobot.AddNavigationLink(ctx, spaceToken, space.Subdomain, cobot.CreateNavigationLinkRequest{
		Section:   "admin",
		Label:     navigationLinkLabel,
		IframeURL: iframeURL,
	})
	return err
}

// completeUserLogin exchanges the code for the user's token, verifies they
// administrate the space and hands the browser a signed session token.
func (h *OAuthHandlers) completeUserLogin(w http.ResponseWriter, r *http.Request, code string, state oauthState) {
	ctx := r.Context()

	userToken, err := h.cobot.ExchangeCodeForAccessToken(ctx, code)
	if err != nil {
		h.logger.Error("code exchange failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "membership backend unavailable")
		return
	}

	user, err := h.cobot.GetUserDetails(ctx, userToken.AccessToken)
	if err != nil {
		h.logger.Error("user lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "membership backend unavailable")
		return
	}
	if !user.IsAdminOf(state.SpaceSubdomain) {
		writeError(w, http.StatusForbidden, "not an admin of this space")
		return
	}

	token, err := h.auth.IssueToken(middleware.SessionCredentials{
		SpaceID:         state.SpaceID,
		SpaceSubdomain:  state.SpaceSubdomain,
		UserAccessToken: userToken.AccessToken,
	}, h.now())
	if err != nil {
		h.logger.Error("session token issue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// The token travels in the fragment so it never shows up in access logs.
	target := h.baseURL + sanitizeReturnPath(state.ReturnPath) + "#token=" + url.QueryEscape(token)
	http.Redirect(w, r, target, http.StatusFound)
}
