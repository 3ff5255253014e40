package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Object keys are "<prefix>$$<subkey>", mirroring the original store layout so
// existing databases keep working.
const objectKeySeparator = "$$"

const (
	settingsKeyPrefix = "CobotSpaceSettings"
	tokenKeyPrefix    = "CobotSpaceAccessToken"
)

// SpaceSettings is the per-tenant configuration: membership backend
// credentials plus the charger-to-resource mapping and tariff.
type SpaceSettings struct {
	AccessToken     string            `json:"accessToken"`
	SpaceID         string            `json:"spaceId"`
	SpaceSubdomain  string            `json:"spaceSubdomain"`
	ResourceMapping map[string]string `json:"resourceMapping"`
	PricePerKWh     float64           `json:"pricePerKWh"`
}

// Validate checks the invariants enforced on every read and write.
func (s *SpaceSettings) Validate() error {
	if s.SpaceID == "" {
		return errors.New("spaceId missing")
	}
	if s.SpaceSubdomain == "" {
		return errors.New("spaceSubdomain missing")
	}
	if s.AccessToken == "" {
		return errors.New("accessToken missing")
	}
	if s.PricePerKWh < 0 {
		return fmt.Errorf("pricePerKWh must not be negative, got %v", s.PricePerKWh)
	}
	return nil
}

// ResourceFor returns the resource mapped to a charger, if any. Unmapped
// chargers are a normal condition the caller must handle.
func (s *SpaceSettings) ResourceFor(chargerID string) (string, bool) {
	resourceID, ok := s.ResourceMapping[chargerID]
	return resourceID, ok && resourceID != ""
}

// SpaceAccessToken is the OAuth space token stored during install.
type SpaceAccessToken struct {
	SpaceID        string `json:"spaceId"`
	SpaceSubdomain string `json:"spaceSubdomain"`
	AccessToken    string `json:"accessToken"`
}

func (t *SpaceAccessToken) Validate() error {
	if t.SpaceID == "" || t.AccessToken == "" {
		return errors.New("spaceId or accessToken missing")
	}
	return nil
}

// SettingsStore is the typed store for per-space settings.
type SettingsStore struct {
	kv KeyValue
}

// NewSettingsStore builds the store on a KV engine.
func NewSettingsStore(kv KeyValue) *SettingsStore {
	return &SettingsStore{kv: kv}
}

func settingsKey(spaceID string) string {
	return settingsKeyPrefix + objectKeySeparator + spaceID
}

// Get returns the settings for a space, or nil when none are stored.
func (s *SettingsStore) Get(ctx context.Context, spaceID string) (*SpaceSettings, error) {
	raw, ok, err := s.kv.Get(ctx, settingsKey(spaceID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var settings SpaceSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("storage: settings for space %s corrupt: %w", spaceID, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("storage: settings for space %s invalid: %w", spaceID, err)
	}
	return &settings, nil
}

// Set validates and persists the settings keyed by their space id.
func (s *SettingsStore) Set(ctx context.Context, settings *SpaceSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("storage: refusing to store invalid settings: %w", err)
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, settingsKey(settings.SpaceID), raw)
}

// All returns the settings of every known space. Corrupt entries fail the
// whole call; a tenant silently dropped from the sweep would never have its
// sessions reconciled again.
func (s *SettingsStore) All(ctx context.Context) ([]SpaceSettings, error) {
	entries, err := s.kv.List(ctx, settingsKeyPrefix+objectKeySeparator)
	if err != nil {
		return nil, err
	}
	result := make([]SpaceSettings, 0, len(entries))
	for key, raw := range entries {
		var settings SpaceSettings
		if err := json.Unmarshal(raw, &settings); err != nil {
			return nil, fmt.Errorf("storage: settings entry %s corrupt: %w", key, err)
		}
		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("storage: settings entry %s invalid: %w", key, err)
		}
		result = append(result, settings)
	}
	return result, nil
}

// TokenStore is the typed store for space access tokens.
type TokenStore struct {
	kv KeyValue
}

// NewTokenStore builds the store on a KV engine.
func NewTokenStore(kv KeyValue) *TokenStore {
	return &TokenStore{kv: kv}
}

func tokenKey(spaceID string) string {
	return tokenKeyPrefix + objectKeySeparator + spaceID
}

// Get returns the token record for a space, or nil when none is stored.
func (s *TokenStore) Get(ctx context.Context, spaceID string) (*SpaceAccessToken, error) {
	raw, ok, err := s.kv.Get(ctx, tokenKey(spaceID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var token SpaceAccessToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("storage: token for space %s corrupt: %w", spaceID, err)
	}
	if err := token.Validate(); err != nil {
		return nil, fmt.Errorf("storage: token for space %s invalid: %w", spaceID, err)
	}
	return &token, nil
}

// Set validates and persists a token record.
func (s *TokenStore) Set(ctx context.Context, token *SpaceAccessToken) error {
	if err := token.Validate(); err != nil {
		return fmt.Errorf("storage: refusing to store invalid token: %w", err)
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, tokenKey(token.SpaceID), raw)
}

// Delete removes the token record for a space.
func (s *TokenStore) Delete(ctx context.Context, spaceID string) error {
	return s.kv.Delete(ctx, tokenKey(spaceID))
}
