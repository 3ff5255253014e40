package cobot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := New("client-id", "client-secret", zap.NewNop())
	client.apiBaseURL = server.URL
	client.spaceBaseURL = func(subdomain string) string { return server.URL + "/spaces/" + subdomain }
	return client
}

func TestExchangeCodeForAccessToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/access_token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("code") != "code-1" || r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("form = %v", r.PostForm)
		}
		if r.PostForm.Get("client_id") != "client-id" || r.PostForm.Get("client_secret") != "client-secret" {
			t.Errorf("credentials missing from form: %v", r.PostForm)
		}
		w.Write([]byte(`{"access_token": "tok-1", "token_type": "bearer"}`))
	}))

	token, err := client.ExchangeCodeForAccessToken(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("ExchangeCodeForAccessToken: %v", err)
	}
	if token.AccessToken != "tok-1" {
		t.Errorf("token = %+v", token)
	}
}

func TestExchangeCodeRejectsUnexpectedTokenType(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": "tok-1", "token_type": "mac"}`))
	}))
	if _, err := client.ExchangeCodeForAccessToken(context.Background(), "code-1"); !errors.Is(err, ErrTypeCheck) {
		t.Errorf("err = %v, want ErrTypeCheck", err)
	}
}

func TestListBookingsTimeWindowAndParsing(t *testing.T) {
	from := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	to := from.Add(12 * time.Hour)

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/api/resources/res-1/bookings") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer space-token" {
			t.Errorf("auth header = %q", got)
		}
		q := r.URL.Query()
		if q.Get("from") != from.Format(time.RFC3339) || q.Get("to") != to.Format(time.RFC3339) {
			t.Errorf("window = %v", q)
		}
		// The space API emits non-RFC3339 timestamps.
		w.Write([]byte(`[
			{"id": "b-1", "from": "2026-08-28 08:00:00 +0000", "to": "2026-08-28 09:00:00 +0000",
			 "comments": "{}", "price": "0.0", "resource": {"id": "res-1", "name": "Charger"}}
		]`))
	}))

	bookings, err := client.ListBookings(context.Background(), "space-token", "acme", "res-1", from, to)
	if err != nil {
		t.Fatalf("ListBookings: %v", err)
	}
	if len(bookings) != 1 || bookings[0].ID != "b-1" {
		t.Fatalf("bookings = %+v", bookings)
	}
	if bookings[0].From.Hour() != 8 {
		t.Errorf("from = %v", bookings[0].From)
	}
}

func TestListBookingsInvalidEntryFailsTypeCheck(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": "", "from": "2026-08-28T08:00:00Z", "to": "2026-08-28T09:00:00Z"}]`))
	}))
	if _, err := client.ListBookings(context.Background(), "t", "acme", "res-1", time.Now(), time.Now()); !errors.Is(err, ErrTypeCheck) {
		t.Errorf("err = %v, want ErrTypeCheck", err)
	}
}

func TestListMembershipsFilter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("attributes") != "id,name,email" {
			t.Errorf("attributes = %q", q.Get("attributes"))
		}
		if q.Get("ids") != "m-1,m-2" {
			t.Errorf("ids = %q", q.Get("ids"))
		}
		w.Write([]byte(`[{"id": "m-1", "name": "Alice"}, {"id": "m-2", "name": "Bob"}]`))
	}))

	members, err := client.ListMemberships(context.Background(), "t", "acme", []string{"m-1", "m-2"})
	if err != nil {
		t.Fatalf("ListMemberships: %v", err)
	}
	if len(members) != 2 || members[0].Name != "Alice" {
		t.Errorf("members = %+v", members)
	}
}

func TestCreateBookingPayload(t *testing.T) {
	var payload map[string]json.RawMessage
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Write([]byte(`{"id": "b-1", "from": "2026-08-28T08:00:00Z", "to": "2026-08-28T16:00:00Z"}`))
	}))

	no := false
	membershipID := "m-1"
	from := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	_, err := client.CreateBooking(context.Background(), "t", "acme", "res-1", CreateBookingRequest{
		From:         Time{Time: from},
		To:           Time{Time: from.Add(8 * time.Hour)},
		Title:        "EV charging session (usage TBD)",
		Comments:     "{}",
		MembershipID: &membershipID,
		CanCancel:    &no,
		CanChange:    &no,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	if string(payload["membership_id"]) != `"m-1"` {
		t.Errorf("membership_id = %s", payload["membership_id"])
	}
	if string(payload["can_cancel"]) != "false" || string(payload["can_change"]) != "false" {
		t.Errorf("lock flags = %s / %s", payload["can_cancel"], payload["can_change"])
	}
	if string(payload["from"]) != `"2026-08-28T08:00:00Z"` {
		t.Errorf("from = %s", payload["from"])
	}
}

func TestSanitizedErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		}))
		if _, err := client.GetUserDetails(context.Background(), "t"); !errors.Is(err, ErrHTTPStatus) {
			t.Errorf("err = %v, want ErrHTTPStatus", err)
		}
	})
	t.Run("parse", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>maintenance</html>"))
		}))
		if _, err := client.GetUserDetails(context.Background(), "t"); !errors.Is(err, ErrParse) {
			t.Errorf("err = %v, want ErrParse", err)
		}
	})
	t.Run("network", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		client := New("id", "secret", zap.NewNop())
		client.apiBaseURL = server.URL
		if _, err := client.GetUserDetails(context.Background(), "t"); !errors.Is(err, ErrNetwork) {
			t.Errorf("err = %v, want ErrNetwork", err)
		}
	})
}

func TestUserDetailsHelpers(t *testing.T) {
	user := UserDetails{
		ID:          "user-1",
		Memberships: []UserMembership{{ID: "m-1", SpaceSubdomain: "acme"}},
		AdminOf:     []UserAdminSpace{{SpaceSubdomain: "acme"}},
	}
	if !user.IsAdminOf("acme") || user.IsAdminOf("other") {
		t.Error("IsAdminOf mismatch")
	}
	if id, ok := user.MembershipIn("acme"); !ok || id != "m-1" {
		t.Errorf("MembershipIn = %q, %v", id, ok)
	}
	if _, ok := user.MembershipIn("other"); ok {
		t.Error("MembershipIn matched foreign space")
	}
}

func TestTimeUnmarshalFormats(t *testing.T) {
	cases := []struct {
		raw  string
		hour int
	}{
		{`"2026-08-28T08:00:00Z"`, 8},
		{`"2026-08-28 09:30:00 +0000"`, 9},
		{`"2026-08-28T10:00:00.000Z"`, 10},
	}
	for _, tc := range cases {
		var ts Time
		if err := json.Unmarshal([]byte(tc.raw), &ts); err != nil {
			t.Errorf("unmarshal %s: %v", tc.raw, err)
			continue
		}
		if ts.UTC().Hour() != tc.hour {
			t.Errorf("%s parsed to %v", tc.raw, ts.Time)
		}
	}

	var ts Time
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("nonsense timestamp accepted")
	}
}
