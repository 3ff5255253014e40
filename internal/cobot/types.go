package cobot

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Time wraps time.Time to tolerate the timestamp formats Cobot emits
// (RFC3339 and "2006-01-02 15:04:05 -0700").
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05.000Z07:00",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("cobot: unsupported time format %q: %w", raw, lastErr)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.UTC().Format(time.RFC3339) + `"`), nil
}

// AccessTokenResponse is the OAuth code exchange result.
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (r *AccessTokenResponse) validate() error {
	if r.AccessToken == "" {
		return errors.New("access_token missing")
	}
	if r.TokenType != "bearer" {
		return fmt.Errorf("unexpected token_type %q", r.TokenType)
	}
	return nil
}

// SpaceTokenResponse is the space-scoped token exchange result.
type SpaceTokenResponse struct {
	Token    string   `json:"token"`
	ClientID string   `json:"client_id"`
	Scope    []string `json:"scope"`
}

func (r *SpaceTokenResponse) validate() error {
	if r.Token == "" {
		return errors.New("token missing")
	}
	if r.ClientID == "" {
		return errors.New("client_id missing")
	}
	return nil
}

// SpaceDetails is the subset of space attributes the app consumes.
type SpaceDetails struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

func (r *SpaceDetails) validate() error {
	if r.ID == "" || r.Subdomain == "" {
		return errors.New("space id or subdomain missing")
	}
	return nil
}

// UserMembership is one membership entry on the user record.
type UserMembership struct {
	ID             string `json:"id"`
	SpaceSubdomain string `json:"space_subdomain"`
	SpaceName      string `json:"space_name"`
}

// UserAdminSpace is one admin entry on the user record.
type UserAdminSpace struct {
	SpaceSubdomain string `json:"space_subdomain"`
	SpaceName      string `json:"space_name"`
}

// UserDetails is the authenticated Cobot user.
type UserDetails struct {
	ID          string           `json:"id"`
	Email       string           `json:"email"`
	Memberships []UserMembership `json:"memberships"`
	AdminOf     []UserAdminSpace `json:"admin_of"`
}

func (r *UserDetails) validate() error {
	if r.ID == "" {
		return errors.New("user id missing")
	}
	return nil
}

// IsAdminOf reports whether the user administrates the given space.
func (r *UserDetails) IsAdminOf(spaceSubdomain string) bool {
	for _, space := range r.AdminOf {
		if space.SpaceSubdomain == spaceSubdomain {
			return true
		}
	}
	return false
}

// MembershipIn returns the user's membership id within the given space, if any.
func (r *UserDetails) MembershipIn(spaceSubdomain string) (string, bool) {
	for _, m := range r.Memberships {
		if m.SpaceSubdomain == spaceSubdomain {
			return m.ID, true
		}
	}
	return "", false
}

// Membership is a space member record.
type Membership struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Resource is a bookable entity; each charger maps 1:1 onto one.
type Resource struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Hidden      bool    `json:"hidden"`
	CanBook     bool    `json:"can_book"`
}

// BookingMembership is the attribution block on a booking.
type BookingMembership struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// BookingResource identifies the resource a booking belongs to.
type BookingResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Booking is the ledger record charging sessions are encoded into. The
// Comments field carries the session metadata.
type Booking struct {
	ID         string             `json:"id"`
	From       Time               `json:"from"`
	To         Time               `json:"to"`
	Title      *string            `json:"title"`
	Comments   *string            `json:"comments"`
	Price      string             `json:"price"`
	Currency   string             `json:"currency"`
	Membership *BookingMembership `json:"membership"`
	Resource   BookingResource    `json:"resource"`
}

func (r *Booking) validate() error {
	if r.ID == "" {
		return errors.New("booking id missing")
	}
	if r.From.IsZero() || r.To.IsZero() {
		return errors.New("booking window missing")
	}
	return nil
}

// CreateBookingRequest is the booking create payload.
type CreateBookingRequest struct {
	From           Time     `json:"from"`
	To             Time     `json:"to"`
	Title          string   `json:"title,omitempty"`
	Comments       string   `json:"comments,omitempty"`
	MembershipID   *string  `json:"membership_id,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	HasCustomPrice *bool    `json:"has_custom_price,omitempty"`
	CanCancel      *bool    `json:"can_cancel,omitempty"`
	CanChange      *bool    `json:"can_change,omitempty"`
}

// UpdateBookingRequest is the booking update payload; nil fields are omitted.
type UpdateBookingRequest struct {
	From           *Time    `json:"from,omitempty"`
	To             *Time    `json:"to,omitempty"`
	Title          *string  `json:"title,omitempty"`
	Comments       *string  `json:"comments,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	HasCustomPrice *bool    `json:"has_custom_price,omitempty"`
}

// Activity channels.
const (
	ActivityChannelAdmin      = "admin"
	ActivityChannelMembership = "membership"
)

// CreateActivityRequest posts an entry to the space activity log.
type CreateActivityRequest struct {
	Text      string   `json:"text"`
	Level     string   `json:"level,omitempty"`
	Channels  []string `json:"channels"`
	SourceIDs []string `json:"source_ids,omitempty"`
}

// Activity is the created activity-log entry.
type Activity struct {
	Text     string   `json:"text"`
	Channels []string `json:"channels"`
}

// NavigationLink is a registered admin-sidebar entry.
type NavigationLink struct {
	Section   string `json:"section"`
	Label     string `json:"label"`
	IframeURL string `json:"iframe_url"`
	URL       string `json:"url"`
	UserURL   string `json:"user_url,omitempty"`
}

// CreateNavigationLinkRequest registers an admin-sidebar entry.
type CreateNavigationLinkRequest struct {
	Section   string `json:"section"`
	Label     string `json:"label"`
	IframeURL string `json:"iframe_url"`
}
