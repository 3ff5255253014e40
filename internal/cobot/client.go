package cobot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Errors surfaced to callers. Full detail is logged at the boundary and never
// leaks into business logic.
var (
	ErrNetwork    = errors.New("network error")
	ErrHTTPStatus = errors.New("http error")
	ErrParse      = errors.New("parse error")
	ErrTypeCheck  = errors.New("type check error")
)

// Client wraps the Cobot REST API with typed per-endpoint methods.
type Client struct {
	clientID     string
	clientSecret string
	apiBaseURL   string
	spaceBaseURL func(subdomain string) string
	client       *http.Client
	logger       *zap.Logger
}

// New builds a client against the production Cobot hosts.
func New(clientID, clientSecret string, logger *zap.Logger) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		apiBaseURL:   "https://www.cobot.me",
		spaceBaseURL: func(subdomain string) string {
			return fmt.Sprintf("https://%s.cobot.me", url.PathEscape(subdomain))
		},
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// ClientID returns the configured OAuth client id.
func (c *Client) ClientID() string { return c.clientID }

// AuthorizeURL builds the OAuth authorize redirect for a space.
func (c *Client) AuthorizeURL(spaceSubdomain, redirectURI, state string, scopes []string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	return fmt.Sprintf("%s/oauth/authorize?%s", c.spaceBaseURL(spaceSubdomain), q.Encode())
}

// ExchangeCodeForAccessToken redeems an OAuth authorization code.
func (c *Client) ExchangeCodeForAccessToken(ctx context.Context, code string) (*AccessTokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	var out AccessTokenResponse
	if err := c.doForm(ctx, http.MethodPost, c.apiBaseURL+"/oauth/access_token", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSpaceDetails fetches space metadata by subdomain. No auth required.
func (c *Client) GetSpaceDetails(ctx context.Context, spaceSubdomain string) (*SpaceDetails, error) {
	var out SpaceDetails
	reqURL := fmt.Sprintf("%s/api/spaces/%s", c.apiBaseURL, url.PathEscape(spaceSubdomain))
	if err := c.doJSON(ctx, http.MethodGet, reqURL, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeAccessTokenForSpaceToken converts a user token into a space token.
func (c *Client) ExchangeAccessTokenForSpaceToken(ctx context.Context, accessToken, spaceID string) (*SpaceTokenResponse, error) {
	var out SpaceTokenResponse
	reqURL := fmt.Sprintf("%s/api/access_tokens/%s/space", c.apiBaseURL, url.PathEscape(accessToken))
	body := map[string]string{"space_id": spaceID}
	if err := c.doJSON(ctx, http.MethodPost, reqURL, accessToken, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeAccessToken invalidates a token after it has been exchanged.
func (c *Client) RevokeAccessToken(ctx context.Context, accessToken string) error {
	reqURL := fmt.Sprintf("%s/api/access_tokens/%s", c.apiBaseURL, url.PathEscape(accessToken))
	return c.doJSON(ctx, http.MethodDelete, reqURL, accessToken, nil, nil)
}

// GetUserDetails fetches the user record for the given user token.
func (c *Client) GetUserDetails(ctx context.Context, accessToken string) (*UserDetails, error) {
	var out UserDetails
	if err := c.doJSON(ctx, http.MethodGet, c.apiBaseURL+"/api/user", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMemberships lists members of a space with id, name and email attributes.
// filterIDs restricts the result to the given membership ids when non-empty.
func (c *Client) ListMemberships(ctx context.Context, accessToken, spaceSubdomain string, filterIDs []string) ([]Membership, error) {
	q := url.Values{}
	q.Set("attributes", "id,name,email")
	if len(filterIDs) > 0 {
		q.Set("ids", strings.Join(filterIDs, ","))
	}
	reqURL := fmt.Sprintf("%s/api/memberships?%s", c.spaceBaseURL(spaceSubdomain), q.Encode())

	var out []Membership
	if err := c.doJSON(ctx, http.MethodGet, reqURL, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListResources lists the bookable resources of a space.
func (c *Client) ListResources(ctx context.Context, accessToken, spaceSubdomain string) ([]Resource, error) {
	reqURL := fmt.Sprintf("%s/api/resources", c.spaceBaseURL(spaceSubdomain))
	var out []Resource
	if err := c.doJSON(ctx, http.MethodGet, reqURL, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListBookings lists bookings of a resource within the given timeframe.
func (c *Client) ListBookings(ctx context.Context, accessToken, spaceSubdomain, resourceID string, from, to time.Time) ([]Booking, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	reqURL := fmt.Sprintf("%s/api/resources/%s/bookings?%s",
		c.spaceBaseURL(spaceSubdomain), url.PathEscape(resourceID), q.Encode())

	var out []Booking
	if err := c.doJSON(ctx, http.MethodGet, reqURL, accessToken, nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if err := out[i].validate(); err != nil {
			c.logger.Error("cobot booking fails schema validation", zap.Error(err))
			return nil, ErrTypeCheck
		}
	}
	return out, nil
}

// CreateBooking creates a booking on a resource.
func (c *Client) CreateBooking(ctx context.Context, accessToken, spaceSubdomain, resourceID string, req CreateBookingRequest) (*Booking, error) {
	reqURL := fmt.Sprintf("%s/api/resources/%s/bookings", c.spaceBaseURL(spaceSubdomain), url.PathEscape(resourceID))
	var out Booking
	if err := c.doJSON(ctx, http.MethodPost, reqURL, accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBooking updates a booking by id.
func (c *Client) UpdateBooking(ctx context.Context, accessToken, spaceSubdomain, bookingID string, req UpdateBookingRequest) (*Booking, error) {
	reqURL := fmt.Sprintf("%s/api/bookings/%s", c.spaceBaseURL(spaceSubdomain), url.PathEscape(bookingID))
	var out Booking
	if err := c.doJSON(ctx, http.MethodPut, reqURL, accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateActivity posts an entry to the space activity log.
func (c *Client) CreateActivity(ctx context.Context, accessToken, spaceSubdomain string, req CreateActivityRequest) (*Activity, error) {
	reqURL := fmt.Sprintf("%s/api/activities", c.spaceBaseURL(spaceSubdomain))
	var out Activity
	if err := c.doJSON(ctx, http.MethodPost, reqURL, accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNavigationLinks lists the registered admin-sidebar entries of a space.
func (c *Client) ListNavigationLinks(ctx context.Context, accessToken, spaceSubdomain string) ([]NavigationLink, error) {
	reqURL := fmt.Sprintf("%s/api/navigation_links", c.spaceBaseURL(spaceSubdomain))
	var out []NavigationLink
	if err := c.doJSON(ctx, http.MethodGet, reqURL, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddNavigationLink registers an admin-sidebar entry.
func (c *Client) AddNavigationLink(ctx context.Context, accessToken, spaceSubdomain string, req CreateNavigationLinkRequest) (*NavigationLink, error) {
	reqURL := fmt.Sprintf("%s/api/navigation_links", c.spaceBaseURL(spaceSubdomain))
	var out NavigationLink
	if err := c.doJSON(ctx, http.MethodPost, reqURL, accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteNavigationLink removes a previously registered entry by its URL.
func (c *Client) DeleteNavigationLink(ctx context.Context, accessToken, linkURL string) error {
	return c.doJSON(ctx, http.MethodDelete, linkURL, accessToken, nil, nil)
}

type validatable interface {
	validate() error
}

// doJSON performs a request with an optional JSON body and decodes the JSON
// response into out. A nil out means no response body is expected beyond a
// 2xx status. All failures are logged in full and sanitized on return.
func (c *Client) doJSON(ctx context.Context, method, reqURL, accessToken string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.logger.Error("cobot request body marshal failed", zap.Error(err))
			return ErrParse
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		c.logger.Error("cobot request construction failed", zap.Error(err))
		return ErrNetwork
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return c.do(req, out)
}

// doForm performs a form-encoded request, used by the OAuth token endpoint.
func (c *Client) doForm(ctx context.Context, method, reqURL string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		c.logger.Error("cobot request construction failed", zap.Error(err))
		return ErrNetwork
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("cobot request failed", zap.String("url", req.URL.Path), zap.Error(err))
		return ErrNetwork
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("cobot response body read failed", zap.Error(err))
		return ErrNetwork
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("cobot request returned non-success",
			zap.String("url", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(bodyBytes, 4096)))
		return ErrHTTPStatus
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		c.logger.Error("cobot response is not valid json",
			zap.String("url", req.URL.Path),
			zap.Error(err),
			zap.ByteString("body", truncate(bodyBytes, 4096)))
		return ErrParse
	}

	if v, ok := out.(validatable); ok {
		if err := v.validate(); err != nil {
			c.logger.Error("cobot response fails schema validation",
				zap.String("url", req.URL.Path),
				zap.Error(err))
			return ErrTypeCheck
		}
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
