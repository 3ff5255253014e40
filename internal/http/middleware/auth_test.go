package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/cobot"
	"chargebridge/internal/seal"
	"chargebridge/internal/storage"
)

type fakeUserFetcher struct {
	mu    sync.Mutex
	calls int
	user  *cobot.UserDetails
	err   error
}

func (f *fakeUserFetcher) GetUserDetails(ctx context.Context, accessToken string) (*cobot.UserDetails, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func (f *fakeUserFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func adminUser() *cobot.UserDetails {
	return &cobot.UserDetails{
		ID:      "user-1",
		Email:   "admin@example.com",
		AdminOf: []cobot.UserAdminSpace{{SpaceSubdomain: "acme"}},
	}
}

func testStores(t *testing.T) *storage.SettingsStore {
	t.Helper()
	kv, err := storage.NewFileStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := storage.NewSettingsStore(kv)
	if err := store.Set(context.Background(), &storage.SpaceSettings{
		AccessToken:    "space-token",
		SpaceID:        "space-1",
		SpaceSubdomain: "acme",
	}); err != nil {
		t.Fatalf("settings Set: %v", err)
	}
	return store
}

func newTestAuthenticator(t *testing.T, fetcher UserFetcher) *Authenticator {
	t.Helper()
	sealer, err := seal.New("seal-password")
	if err != nil {
		t.Fatalf("seal.New: %v", err)
	}
	return NewAuthenticator(fetcher, sealer, testStores(t), "jwt-secret", 12*time.Hour, time.Minute, zap.NewNop())
}

func testCreds() SessionCredentials {
	return SessionCredentials{
		SpaceID:         "space-1",
		SpaceSubdomain:  "acme",
		UserAccessToken: "user-token",
	}
}

func runRequest(auth *Authenticator, authorize func(*http.Request)) (*httptest.ResponseRecorder, *Principal) {
	var principal *Principal
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chargers", nil)
	authorize(req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, principal
}

func TestMiddlewareAcceptsIssuedJWT(t *testing.T) {
	auth := newTestAuthenticator(t, &fakeUserFetcher{user: adminUser()})
	token, err := auth.IssueToken(testCreds(), time.Now())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	rec, principal := runRequest(auth, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if principal == nil || principal.SpaceID != "space-1" || principal.User.ID != "user-1" {
		t.Errorf("principal = %+v", principal)
	}
	if principal.Settings == nil || principal.Settings.AccessToken != "space-token" {
		t.Errorf("settings = %+v", principal.Settings)
	}
}

func TestMiddlewareAcceptsSealedToken(t *testing.T) {
	auth := newTestAuthenticator(t, &fakeUserFetcher{user: adminUser()})
	token, err := auth.sealer.Seal(testCreds(), time.Hour)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rec, principal := runRequest(auth, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusOK || principal == nil {
		t.Fatalf("status = %d, principal = %+v", rec.Code, principal)
	}
}

func TestMiddlewareAcceptsQueryToken(t *testing.T) {
	auth := newTestAuthenticator(t, &fakeUserFetcher{user: adminUser()})
	token, _ := auth.IssueToken(testCreds(), time.Now())

	rec, _ := runRequest(auth, func(r *http.Request) {
		q := r.URL.Query()
		q.Set("token", token)
		r.URL.RawQuery = q.Encode()
	})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for query token", rec.Code)
	}
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	auth := newTestAuthenticator(t, &fakeUserFetcher{user: adminUser()})

	cases := []struct {
		name      string
		authorize func(*http.Request)
	}{
		{"missing header", func(r *http.Request) {}},
		{"not bearer", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := runRequest(auth, tc.authorize)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestMiddlewareRejectsExpiredJWT(t *testing.T) {
	auth := newTestAuthenticator(t, &fakeUserFetcher{user: adminUser()})
	token, _ := auth.IssueToken(testCreds(), time.Now().Add(-24*time.Hour))

	rec, _ := runRequest(auth, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for expired token", rec.Code)
	}
}

func TestMiddlewareRejectsNonAdmin(t *testing.T) {
	member := &cobot.UserDetails{ID: "user-2", AdminOf: []cobot.UserAdminSpace{{SpaceSubdomain: "other"}}}
	auth := newTestAuthenticator(t, &fakeUserFetcher{user: member})
	token, _ := auth.IssueToken(testCreds(), time.Now())

	rec, _ := runRequest(auth, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestMiddlewareRejectsUninstalledSpace(t *testing.T) {
	auth := newTestAuthenticator(t, &fakeUserFetcher{user: adminUser()})
	creds := testCreds()
	creds.SpaceID = "space-9" // no settings stored
	token, _ := auth.IssueToken(creds, time.Now())

	rec, _ := runRequest(auth, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestMiddlewareCachesUserDetails(t *testing.T) {
	fetcher := &fakeUserFetcher{user: adminUser()}
	auth := newTestAuthenticator(t, fetcher)
	token, _ := auth.IssueToken(testCreds(), time.Now())

	for i := 0; i < 3; i++ {
		rec, _ := runRequest(auth, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	if fetcher.callCount() != 1 {
		t.Errorf("user fetches = %d, want 1 (cached)", fetcher.callCount())
	}
}

func TestMiddlewareUserLookupFailure(t *testing.T) {
	auth := newTestAuthenticator(t, &fakeUserFetcher{err: errors.New("backend down")})
	token, _ := auth.IssueToken(testCreds(), time.Now())

	rec, _ := runRequest(auth, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareRejectsNonAdminSubdomainInSealedToken(t *testing.T) {
	auth := newTestAuthenticator(t, &fakeUserFetcher{user: adminUser()})
	creds := testCreds()
	creds.SpaceSubdomain = "other"
	token, err := auth.sealer.Seal(creds, time.Hour)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rec, _ := runRequest(auth, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
