package cfos

import (
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

	"chargebridge/internal/models"
)

// Errors surfaced to callers. The original cause is logged, never returned,
// so that raw backend internals cannot leak past the client boundary.
var (
	ErrNetwork         = errors.New("network error")
	ErrHTTPStatus      = errors.New("http error")
	ErrParse           = errors.New("parse error")
	ErrTypeCheck       = errors.New("type check error")
	ErrChargerNotFound = errors.New("charger not found")
)

const devTypeWallbox = "evse_powerbrain"

// addressSelf is reported by a wallbox that is the gateway controller itself.
const addressSelf = "evse:"

// Client talks to the cFos charger gateway over its query-parameter HTTP API.
type Client struct {
	baseURL  *url.URL
	username string
	password string
	rfidID   string
	client   *http.Client
	logger   *zap.Logger
}

// New builds a gateway client. rawBaseURL points at the controller root; the
// /cnf command endpoint is derived from it. rfidID is the RFID-like credential
// used for authorize/deauthorize commands.
func New(rawBaseURL, username, password, rfidID string, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(rawBaseURL)
	if err != nil {
		return nil, fmt.Errorf("cfos: parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, errors.New("cfos: base url has no host")
	}
	base.Path = base.Path + "/cnf"

	return &Client{
		baseURL:  base,
		username: username,
		password: password,
		rfidID:   rfidID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// rawDevice is one entry of the get_dev_info device list. The gateway reports
// heterogeneous device kinds on the same endpoint; only fields of wallbox
// devices are decoded strictly.
type rawDevice struct {
	DevType         string   `json:"dev_type"`
	DevID           string   `json:"dev_id"`
	Address         string   `json:"address"`
	Desc            string   `json:"desc"`
	State           *int     `json:"state"`
	TotalEnergy     *float64 `json:"total_energy"`
	ChargingEnabled *bool    `json:"charging_enabled"`
}

type devInfoResponse struct {
	Devices []rawDevice `json:"devices"`
}

// ListChargers fetches the full device list and normalizes wallbox devices
// into Charger snapshots. Non-wallbox device kinds are silently dropped.
func (c *Client) ListChargers(ctx context.Context) ([]models.Charger, error) {
	body, err := c.get(ctx, url.Values{"cmd": []string{"get_dev_info"}})
	if err != nil {
		return nil, err
	}

	var resp devInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Error("cfos device list is not valid json", zap.Error(err))
		return nil, ErrParse
	}
	if resp.Devices == nil {
		c.logger.Error("cfos device list is missing devices field")
		return nil, ErrTypeCheck
	}

	chargers := make([]models.Charger, 0, len(resp.Devices))
	for _, dev := range resp.Devices {
		if dev.DevType != devTypeWallbox {
			continue
		}
		if dev.DevID == "" || dev.State == nil || dev.TotalEnergy == nil || dev.ChargingEnabled == nil {
			c.logger.Error("cfos wallbox device fails schema validation", zap.String("dev_id", dev.DevID))
			return nil, ErrTypeCheck
		}
		state, known := models.EvseStateFromCode(*dev.State)
		if !known {
			c.logger.Warn("cfos wallbox reports unknown state code",
				zap.String("dev_id", dev.DevID),
				zap.Int("state", *dev.State))
		}
		chargers = append(chargers, models.Charger{
			ID:                   dev.DevID,
			FriendlyName:         dev.Desc,
			Address:              c.resolveAddress(dev.Address),
			TotalEnergyWattHours: *dev.TotalEnergy,
			EvseState:            state,
			ChargingEnabled:      *dev.ChargingEnabled,
		})
	}
	return chargers, nil
}

// GetCharger returns the snapshot for a single wallbox.
func (c *Client) GetCharger(ctx context.Context, chargerID string) (*models.Charger, error) {
	chargers, err := c.ListChargers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range chargers {
		if chargers[i].ID == chargerID {
			return &chargers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrChargerNotFound, chargerID)
}

// Authorize enables charging on the wallbox via the configured RFID credential.
func (c *Client) Authorize(ctx context.Context, chargerID string) error {
	c.logger.Info("authorizing wallbox", zap.String("charger_id", chargerID))
	return c.command(ctx, url.Values{
		"cmd":    []string{"enter_rfid"},
		"rfid":   []string{c.rfidID},
		"dev_id": []string{chargerID},
	})
}

// Deauthorize disables charging on the wallbox.
func (c *Client) Deauthorize(ctx context.Context, chargerID string) error {
	c.logger.Info("deauthorizing wallbox", zap.String("charger_id", chargerID))
	return c.command(ctx, url.Values{
		"cmd":    []string{"override_device"},
		"rfid":   []string{c.rfidID},
		"flags":  []string{"C"},
		"dev_id": []string{chargerID},
	})
}

// resolveAddress maps the gateway's address field to a plain host. A wallbox
// reporting the self sentinel lives on the gateway host itself.
func (c *Client) resolveAddress(address string) string {
	if address == addressSelf {
		return c.baseURL.Hostname()
	}
	host, _, found := strings.Cut(address, ":")
	if found {
		return host
	}
	return address
}

// command issues a state-changing gateway command. Success is a 2xx response;
// the body is ignored.
func (c *Client) command(ctx context.Context, params url.Values) error {
	resp, err := c.doRequest(ctx, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("cfos command returned non-success",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return ErrHTTPStatus
	}
	return nil
}

// get issues a read command and returns the raw body of a 2xx response.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	resp, err := c.doRequest(ctx, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("cfos response body read failed", zap.Error(err))
		return nil, ErrNetwork
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("cfos request returned non-success",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, ErrHTTPStatus
	}
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, params url.Values) (*http.Response, error) {
	reqURL := *c.baseURL
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		c.logger.Error("cfos request construction failed", zap.Error(err))
		return nil, ErrNetwork
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("cfos request failed", zap.Error(err))
		return nil, ErrNetwork
	}
	return resp, nil
}
