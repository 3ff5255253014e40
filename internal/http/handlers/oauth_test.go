package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/cobot"
	"chargebridge/internal/http/middleware"
	"chargebridge/internal/seal"
	"chargebridge/internal/storage"
)

type authorizeCall struct {
	subdomain   string
	redirectURI string
	state       string
	scopes      []string
}

type fakeInstaller struct {
	mu sync.Mutex

	authorizeCalls []authorizeCall
	revokedTokens  []string
	deletedLinks   []string
	addedLinks     []cobot.CreateNavigationLinkRequest

	user          *cobot.UserDetails
	existingLinks []cobot.NavigationLink
	spaceClientID string
}

func (f *fakeInstaller) AuthorizeURL(spaceSubdomain, redirectURI, state string, scopes []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorizeCalls = append(f.authorizeCalls, authorizeCall{spaceSubdomain, redirectURI, state, scopes})
	return "https://www.cobot.me/oauth/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeInstaller) ClientID() string { return "client-1" }

func (f *fakeInstaller) ExchangeCodeForAccessToken(ctx context.Context, code string) (*cobot.AccessTokenResponse, error) {
	return &cobot.AccessTokenResponse{AccessToken: "admin-token-for-" + code, TokenType: "bearer"}, nil
}

func (f *fakeInstaller) GetSpaceDetails(ctx context.Context, spaceSubdomain string) (*cobot.SpaceDetails, error) {
	return &cobot.SpaceDetails{ID: "space-1", Name: "Acme", Subdomain: spaceSubdomain}, nil
}

func (f *fakeInstaller) ExchangeAccessTokenForSpaceToken(ctx context.Context, accessToken, spaceID string) (*cobot.SpaceTokenResponse, error) {
	clientID := f.spaceClientID
	if clientID == "" {
		clientID = "client-1"
	}
	return &cobot.SpaceTokenResponse{Token: "space-token-1", ClientID: clientID}, nil
}

func (f *fakeInstaller) RevokeAccessToken(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedTokens = append(f.revokedTokens, accessToken)
	return nil
}

func (f *fakeInstaller) GetUserDetails(ctx context.Context, accessToken string) (*cobot.UserDetails, error) {
	return f.user, nil
}

func (f *fakeInstaller) ListNavigationLinks(ctx context.Context, accessToken, spaceSubdomain string) ([]cobot.NavigationLink, error) {
	return f.existingLinks, nil
}

func (f *fakeInstaller) AddNavigationLink(ctx context.Context, accessToken, spaceSubdomain string, req cobot.CreateNavigationLinkRequest) (*cobot.NavigationLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedLinks = append(f.addedLinks, req)
	return &cobot.NavigationLink{Section: req.Section, Label: req.Label, IframeURL: req.IframeURL, URL: "https://acme.cobot.me/links/1"}, nil
}

func (f *fakeInstaller) DeleteNavigationLink(ctx context.Context, accessToken, linkURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedLinks = append(f.deletedLinks, linkURL)
	return nil
}

type oauthFixture struct {
	handlers  *OAuthHandlers
	installer *fakeInstaller
	tokens    *storage.TokenStore
	settings  *storage.SettingsStore
}

func newOAuthFixture(t *testing.T) *oauthFixture {
	t.Helper()
	kv, err := storage.NewFileStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sealer, err := seal.New("seal-password")
	if err != nil {
		t.Fatalf("seal.New: %v", err)
	}
	installer := &fakeInstaller{user: &cobot.UserDetails{
		ID:      "user-1",
		Email:   "admin@example.com",
		AdminOf: []cobot.UserAdminSpace{{SpaceSubdomain: "acme"}},
	}}
	settings := storage.NewSettingsStore(kv)
	tokens := storage.NewTokenStore(kv)
	auth := middleware.NewAuthenticator(installer, sealer, settings, "jwt-secret", 12*time.Hour, time.Minute, zap.NewNop())
	h := NewOAuthHandlers(installer, sealer, auth, tokens, settings, "https://charge.example.com/", zap.NewNop())
	return &oauthFixture{handlers: h, installer: installer, tokens: tokens, settings: settings}
}

func TestInstallRedirectsToConsent(t *testing.T) {
	fx := newOAuthFixture(t)

	rec := httptest.NewRecorder()
	fx.handlers.Install(rec, httptest.NewRequest(http.MethodGet, "/oauth/install?space=acme", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}

	if len(fx.installer.authorizeCalls) != 1 {
		t.Fatalf("authorize calls = %d", len(fx.installer.authorizeCalls))
	}
	call := fx.installer.authorizeCalls[0]
	if call.subdomain != "acme" {
		t.Errorf("subdomain = %q", call.subdomain)
	}
	if call.redirectURI != "https://charge.example.com/oauth/callback" {
		t.Errorf("redirect uri = %q", call.redirectURI)
	}
	scopes := strings.Join(call.scopes, " ")
	for _, want := range []string{"read_bookings", "write_bookings", "write_activities", "navigation"} {
		if !strings.Contains(scopes, want) {
			t.Errorf("scopes %q miss %q", scopes, want)
		}
	}

	var state oauthState
	if err := fx.handlers.sealer.Unseal(call.state, &state); err != nil {
		t.Fatalf("state is not sealed: %v", err)
	}
	if state.Kind != stateKindInstall || state.SpaceSubdomain != "acme" {
		t.Errorf("state = %+v", state)
	}
}

func TestInstallRequiresSpaceParameter(t *testing.T) {
	fx := newOAuthFixture(t)
	rec := httptest.NewRecorder()
	fx.handlers.Install(rec, httptest.NewRequest(http.MethodGet, "/oauth/install", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func installCallback(t *testing.T, fx *oauthFixture) *httptest.ResponseRecorder {
	t.Helper()
	state, err := fx.handlers.sealer.Seal(oauthState{Kind: stateKindInstall, SpaceSubdomain: "acme"}, time.Minute)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	rec := httptest.NewRecorder()
	target := "/oauth/callback?code=code-1&state=" + url.QueryEscape(state)
	fx.handlers.Callback(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestInstallCallbackStoresTokenAndSettings(t *testing.T) {
	fx := newOAuthFixture(t)
	fx.installer.existingLinks = []cobot.NavigationLink{
		{Label: "EV Charging", URL: "https://acme.cobot.me/links/old", IframeURL: "https://old.example.com/"},
		{Label: "Calendar", URL: "https://acme.cobot.me/links/cal", IframeURL: "https://calendar.example.com/"},
	}

	rec := installCallback(t, fx)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "https://acme.cobot.me/admin" {
		t.Errorf("redirect = %q", got)
	}

	token, err := fx.tokens.Get(context.Background(), "space-1")
	if err != nil || token == nil {
		t.Fatalf("token = %+v, err %v", token, err)
	}
	if token.AccessToken != "space-token-1" {
		t.Errorf("stored token = %q", token.AccessToken)
	}

	settings, err := fx.settings.Get(context.Background(), "space-1")
	if err != nil || settings == nil {
		t.Fatalf("settings = %+v, err %v", settings, err)
	}
	if settings.AccessToken != "space-token-1" || settings.SpaceSubdomain != "acme" {
		t.Errorf("settings = %+v", settings)
	}
	if len(settings.ResourceMapping) != 0 {
		t.Errorf("fresh install mapping = %v, want empty", settings.ResourceMapping)
	}

	if len(fx.installer.revokedTokens) != 1 || fx.installer.revokedTokens[0] != "admin-token-for-code-1" {
		t.Errorf("revoked = %v", fx.installer.revokedTokens)
	}

	// The stale sidebar entry is replaced, unrelated links stay.
	if len(fx.installer.deletedLinks) != 1 || fx.installer.deletedLinks[0] != "https://acme.cobot.me/links/old" {
		t.Errorf("deleted links = %v", fx.installer.deletedLinks)
	}
	if len(fx.installer.addedLinks) != 1 {
		t.Fatalf("added links = %v", fx.installer.addedLinks)
	}
	added := fx.installer.addedLinks[0]
	if added.Label != "EV Charging" || added.Section != "admin" {
		t.Errorf("added link = %+v", added)
	}
	if !strings.Contains(added.IframeURL, "space_id=space-1") || !strings.Contains(added.IframeURL, "space_subdomain=acme") {
		t.Errorf("iframe url = %q", added.IframeURL)
	}
}

func TestReinstallKeepsMappingAndTariff(t *testing.T) {
	fx := newOAuthFixture(t)
	if err := fx.settings.Set(context.Background(), &storage.SpaceSettings{
		AccessToken:     "stale-token",
		SpaceID:         "space-1",
		SpaceSubdomain:  "acme",
		ResourceMapping: map[string]string{"E1": "res-1"},
		PricePerKWh:     0.5,
	}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	rec := installCallback(t, fx)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}

	settings, err := fx.settings.Get(context.Background(), "space-1")
	if err != nil || settings == nil {
		t.Fatalf("settings = %+v, err %v", settings, err)
	}
	if settings.AccessToken != "space-token-1" {
		t.Errorf("token not refreshed: %q", settings.AccessToken)
	}
	if settings.ResourceMapping["E1"] != "res-1" || settings.PricePerKWh != 0.5 {
		t.Errorf("reinstall lost configuration: %+v", settings)
	}
}

func TestInstallCallbackRejectsForeignSpaceToken(t *testing.T) {
	fx := newOAuthFixture(t)
	fx.installer.spaceClientID = "someone-else"

	rec := installCallback(t, fx)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	token, err := fx.tokens.Get(context.Background(), "space-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if token != nil {
		t.Errorf("foreign token was stored: %+v", token)
	}
}

func TestCallbackRejectsInvalidState(t *testing.T) {
	fx := newOAuthFixture(t)
	rec := httptest.NewRecorder()
	fx.handlers.Callback(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=code-1&state=garbage", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUserLoginIssuesSessionToken(t *testing.T) {
	fx := newOAuthFixture(t)
	if err := fx.settings.Set(context.Background(), handlerSettings()); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	state, err := fx.handlers.sealer.Seal(oauthState{
		Kind:           stateKindUser,
		SpaceID:        "space-1",
		SpaceSubdomain: "acme",
		ReturnPath:     "/dashboard",
	}, time.Minute)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rec := httptest.NewRecorder()
	target := "/oauth/callback?code=code-1&state=" + url.QueryEscape(state)
	fx.handlers.Callback(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "https://charge.example.com/dashboard#token=") {
		t.Fatalf("redirect = %q", location)
	}
	token, err := url.QueryUnescape(strings.SplitN(location, "#token=", 2)[1])
	if err != nil {
		t.Fatalf("unescape token: %v", err)
	}

	// The issued token must pass the API middleware.
	authed := fx.handlers.auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/chargers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	apiRec := httptest.NewRecorder()
	authed.ServeHTTP(apiRec, req)
	if apiRec.Code != http.StatusOK {
		t.Errorf("issued token rejected: %d", apiRec.Code)
	}
}

func TestUserLoginRejectsNonAdmin(t *testing.T) {
	fx := newOAuthFixture(t)
	fx.installer.user = &cobot.UserDetails{ID: "user-2", AdminOf: nil}

	state, _ := fx.handlers.sealer.Seal(oauthState{
		Kind:           stateKindUser,
		SpaceID:        "space-1",
		SpaceSubdomain: "acme",
	}, time.Minute)

	rec := httptest.NewRecorder()
	target := "/oauth/callback?code=code-1&state=" + url.QueryEscape(state)
	fx.handlers.Callback(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestSanitizeReturnPath(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/dashboard", "/dashboard"},
		{"//evil.example.com", "/"},
		{"https://evil.example.com", "/"},
		{"dashboard", "/"},
	}
	for _, tc := range cases {
		if got := sanitizeReturnPath(tc.raw); got != tc.want {
			t.Errorf("sanitizeReturnPath(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
