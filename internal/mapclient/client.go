// Package mapclient talks to the map API: the startup snapshot of tracked
// systems and user characters, plus static wormhole info for display
// enrichment.
package mapclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"go-wanderer/internal/tracking"
	"go-wanderer/pkg/config"
	"go-wanderer/pkg/evegateway"
)

// Config carries the map API coordinates.
type Config struct {
	BaseURL string
	Slug    string
	Token   string
}

// Client is a bearer-authenticated map API client with retry on transient
// failures.
type Client struct {
	cfg   Config
	retry *evegateway.RetryClient
}

// NewClient creates a map API client.
func NewClient(cfg Config) *Client {
	transport := http.DefaultTransport
	if config.GetBoolEnv("ENABLE_TELEMETRY", true) {
		transport = otelhttp.NewTransport(transport)
	}
	httpClient := &http.Client{Timeout: 15 * time.Second, Transport: transport}
	return &Client{
		cfg:   cfg,
		retry: evegateway.NewRetryClient(httpClient, evegateway.DefaultRetryConfig()),
	}
}

// systemRecord is the wire shape of a map system.
type systemRecord struct {
	SolarSystemID int64    `json:"solar_system_id"`
	Name          string   `json:"name"`
	CustomName    string   `json:"custom_name"`
	ClassTitle    string   `json:"class_title"`
	Statics       []string `json:"statics"`
	RegionName    string   `json:"region_name"`
}

// characterRecord is the wire shape of a map user character.
type characterRecord struct {
	EveID         int64  `json:"eve_id"`
	Name          string `json:"name"`
	CorporationID *int64 `json:"corporation_id"`
	AllianceID    *int64 `json:"alliance_id"`
	ShipTypeID    *int64 `json:"ship_type_id"`
	Online        *bool  `json:"online"`
}

// StaticInfo describes a wormhole system's fixed properties.
type StaticInfo struct {
	SolarSystemID int64    `json:"solar_system_id"`
	SystemName    string   `json:"solar_system_name"`
	ClassTitle    string   `json:"class_title"`
	Statics       []string `json:"statics"`
	RegionName    string   `json:"region_name"`
	Effect        string   `json:"effect_name,omitempty"`
}

// Systems fetches the current tracked-system snapshot.
func (c *Client) Systems(ctx context.Context) ([]tracking.TrackedSystem, error) {
	u := fmt.Sprintf("%s/api/maps/%s/systems", c.cfg.BaseURL, url.PathEscape(c.cfg.Slug))

	var resp struct {
		Systems []systemRecord `json:"systems"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetching map systems: %w", err)
	}

	systems := make([]tracking.TrackedSystem, 0, len(resp.Systems))
	for _, rec := range resp.Systems {
		if !tracking.ValidSystemID(rec.SolarSystemID) {
			slog.WarnContext(ctx, "Skipping system with out-of-range ID", "solar_system_id", rec.SolarSystemID)
			continue
		}
		systems = append(systems, tracking.TrackedSystem{
			SolarSystemID: rec.SolarSystemID,
			Name:          rec.Name,
			CustomName:    rec.CustomName,
			ClassTitle:    rec.ClassTitle,
			Statics:       rec.Statics,
			RegionName:    rec.RegionName,
		})
	}
	return systems, nil
}

// UserCharacters fetches the current tracked-character snapshot.
func (c *Client) UserCharacters(ctx context.Context) ([]tracking.TrackedCharacter, error) {
	u := fmt.Sprintf("%s/api/map/user_characters?slug=%s", c.cfg.BaseURL, url.QueryEscape(c.cfg.Slug))

	var resp struct {
		Data []struct {
			Characters []characterRecord `json:"characters"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetching user characters: %w", err)
	}

	var chars []tracking.TrackedCharacter
	for _, group := range resp.Data {
		for _, rec := range group.Characters {
			if !tracking.ValidCharacterID(rec.EveID) {
				slog.WarnContext(ctx, "Skipping character with out-of-range ID", "eve_id", rec.EveID)
				continue
			}
			chars = append(chars, tracking.TrackedCharacter{
				EveID:         rec.EveID,
				Name:          rec.Name,
				CorporationID: rec.CorporationID,
				AllianceID:    rec.AllianceID,
				ShipTypeID:    rec.ShipTypeID,
				Online:        rec.Online,
			})
		}
	}
	return chars, nil
}

// SystemStaticInfo fetches fixed wormhole properties for one system.
func (c *Client) SystemStaticInfo(ctx context.Context, systemID int64) (*StaticInfo, error) {
	u := fmt.Sprintf("%s/api/common/system-static-info?id=%s", c.cfg.BaseURL, strconv.FormatInt(systemID, 10))

	var resp struct {
		Data StaticInfo `json:"data"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetching static info for %d: %w", systemID, err)
	}
	return &resp.Data, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.retry.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return evegateway.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &evegateway.HTTPError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(body, out)
}
