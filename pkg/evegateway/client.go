package evegateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-wanderer/pkg/cache"
	"go-wanderer/pkg/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	resultTTL   = 24 * time.Hour
	notFoundTTL = 5 * time.Minute
	requestTTL  = 15 * time.Second
)

// notFoundMarker is the cached value for negative 404 results.
type notFoundMarker struct{}

// Client is the game-catalog (ESI) adapter. Every public call is memoised in
// the shared cache under esi:<resource>:<id>; requests flow through rate
// limiter, circuit breaker and retry middleware in that order. Errors are
// never cached; 404s are cached briefly as negative results.
type Client struct {
	httpClient *http.Client
	retry      *RetryClient
	limiter    *RateLimiter
	breakers   *BreakerSet
	cache      *cache.Cache
	baseURL    string
	host       string
	userAgent  string
	telemetry  RequestTelemetry
}

// ClientConfig assembles the adapter configuration.
type ClientConfig struct {
	BaseURL   string
	UserAgent string
	Retry     RetryConfig
	RateLimit RateLimiterConfig
	Breaker   BreakerConfig
}

// NewClient creates an ESI adapter backed by the shared cache.
func NewClient(cfg ClientConfig, store *cache.Cache) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if config.GetBoolEnv("ENABLE_TELEMETRY", true) {
		transport = otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Host)
			}),
		)
	}

	httpClient := &http.Client{
		Timeout:   requestTTL,
		Transport: transport,
	}

	host := cfg.BaseURL
	if u, err := url.Parse(cfg.BaseURL); err == nil {
		host = u.Host
	}

	return &Client{
		httpClient: httpClient,
		retry:      NewRetryClient(httpClient, cfg.Retry),
		limiter:    NewRateLimiter(cfg.RateLimit),
		breakers:   NewBreakerSet(cfg.Breaker),
		cache:      store,
		baseURL:    cfg.BaseURL,
		host:       host,
		userAgent:  cfg.UserAgent,
	}
}

// Telemetry returns a snapshot of the request counters.
func (c *Client) Telemetry() TelemetrySnapshot {
	return c.telemetry.Snapshot()
}

// BreakerState reports the circuit state for the ESI host.
func (c *Client) BreakerState() string {
	return c.breakers.State(c.host)
}

// ErrorLimits returns the last observed upstream error-limit headers.
func (c *Client) ErrorLimits() ESIErrorLimits {
	return c.retry.ErrorLimits()
}

// Character is the ESI character record.
type Character struct {
	Name           string  `json:"name"`
	CorporationID  int64   `json:"corporation_id"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	SecurityStatus float64 `json:"security_status"`
	Birthday       string  `json:"birthday"`
}

// Corporation is the ESI corporation record.
type Corporation struct {
	Name       string `json:"name"`
	Ticker     string `json:"ticker"`
	AllianceID *int64 `json:"alliance_id,omitempty"`
	MemberCnt  int    `json:"member_count"`
}

// Alliance is the ESI alliance record.
type Alliance struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

// SolarSystem is the ESI universe system record.
type SolarSystem struct {
	SystemID        int64   `json:"system_id"`
	Name            string  `json:"name"`
	ConstellationID int64   `json:"constellation_id"`
	SecurityStatus  float64 `json:"security_status"`
}

// InventoryType is the ESI universe type record.
type InventoryType struct {
	TypeID  int64  `json:"type_id"`
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

// Killmail is the full ESI killmail body.
type Killmail struct {
	KillmailID    int64      `json:"killmail_id"`
	KillmailTime  time.Time  `json:"killmail_time"`
	SolarSystemID int64      `json:"solar_system_id"`
	MoonID        *int64     `json:"moon_id,omitempty"`
	WarID         *int64     `json:"war_id,omitempty"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
}

// Victim is the victim block of a killmail.
type Victim struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    int64  `json:"ship_type_id"`
	DamageTaken   int64  `json:"damage_taken"`
}

// Attacker is one attacker block of a killmail.
type Attacker struct {
	CharacterID    *int64  `json:"character_id,omitempty"`
	CorporationID  *int64  `json:"corporation_id,omitempty"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	ShipTypeID     *int64  `json:"ship_type_id,omitempty"`
	WeaponTypeID   *int64  `json:"weapon_type_id,omitempty"`
	DamageDone     int64   `json:"damage_done"`
	FinalBlow      bool    `json:"final_blow"`
	SecurityStatus float64 `json:"security_status"`
}

// SearchResult is the inventory-type search response.
type SearchResult struct {
	InventoryType []int64 `json:"inventory_type"`
}

// GetCharacter retrieves a character by ID.
func (c *Client) GetCharacter(ctx context.Context, characterID int64) (*Character, error) {
	var out Character
	path := fmt.Sprintf("/latest/characters/%d/", characterID)
	if err := c.getJSON(ctx, "character", strconv.FormatInt(characterID, 10), path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCorporation retrieves a corporation by ID.
func (c *Client) GetCorporation(ctx context.Context, corporationID int64) (*Corporation, error) {
	var out Corporation
	path := fmt.Sprintf("/latest/corporations/%d/", corporationID)
	if err := c.getJSON(ctx, "corporation", strconv.FormatInt(corporationID, 10), path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAlliance retrieves an alliance by ID.
func (c *Client) GetAlliance(ctx context.Context, allianceID int64) (*Alliance, error) {
	var out Alliance
	path := fmt.Sprintf("/latest/alliances/%d/", allianceID)
	if err := c.getJSON(ctx, "alliance", strconv.FormatInt(allianceID, 10), path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSystem retrieves a solar system by ID. A 404 is reported as a
// SystemNotFoundError carrying the offending ID.
func (c *Client) GetSystem(ctx context.Context, systemID int64) (*SolarSystem, error) {
	var out SolarSystem
	path := fmt.Sprintf("/latest/universe/systems/%d/", systemID)
	err := c.getJSON(ctx, "system", strconv.FormatInt(systemID, 10), path, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, &SystemNotFoundError{SystemID: systemID}
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetType retrieves an inventory type by ID.
func (c *Client) GetType(ctx context.Context, typeID int64) (*InventoryType, error) {
	var out InventoryType
	path := fmt.Sprintf("/latest/universe/types/%d/", typeID)
	if err := c.getJSON(ctx, "type", strconv.FormatInt(typeID, 10), path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetKillmail retrieves a full killmail body; the hash is required by ESI.
func (c *Client) GetKillmail(ctx context.Context, killmailID int64, hash string) (*Killmail, error) {
	var out Killmail
	path := fmt.Sprintf("/latest/killmails/%d/%s/", killmailID, hash)
	key := fmt.Sprintf("%d:%s", killmailID, hash)
	if err := c.getJSON(ctx, "killmail", key, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchInventoryType searches the inventory_type category.
func (c *Client) SearchInventoryType(ctx context.Context, query string, strict bool) (*SearchResult, error) {
	var out SearchResult
	path := fmt.Sprintf("/latest/search/?categories=inventory_type&search=%s&strict=%t",
		url.QueryEscape(query), strict)
	key := fmt.Sprintf("%s:%t", query, strict)
	if err := c.getJSON(ctx, "search", key, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON is the shared fetch path: cache check, rate limit, circuit breaker,
// retried request, negative caching, decode.
func (c *Client) getJSON(ctx context.Context, resource, id, path string, out any) error {
	cacheKey := cache.ESIKey(resource, id)

	var span trace.Span
	if config.GetBoolEnv("ENABLE_TELEMETRY", true) {
		tracer := otel.Tracer("go-wanderer/evegateway")
		ctx, span = tracer.Start(ctx, "evegateway.get_"+resource)
		defer span.End()
		span.SetAttributes(
			attribute.String("esi.resource", resource),
			attribute.String("esi.id", id),
		)
	}

	if cached, ok := c.cache.Get(cacheKey); ok {
		if _, neg := cached.(notFoundMarker); neg {
			c.telemetry.NotFound.Add(1)
			return ErrNotFound
		}
		if raw, isRaw := cached.([]byte); isRaw {
			if err := json.Unmarshal(raw, out); err == nil {
				if span != nil {
					span.SetAttributes(attribute.Bool("cache.hit", true))
				}
				return nil
			}
		}
	}

	if err := c.limiter.Allow(c.host); err != nil {
		c.telemetry.RateHits.Add(1)
		return err
	}

	reqID := c.telemetry.requestStart(ctx, http.MethodGet, c.baseURL+path)
	start := time.Now()

	result, err := c.breakers.Execute(c.host, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.retry.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			// Legitimate negative result; must not count as a breaker failure.
			return notFoundMarker{}, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &HTTPError{StatusCode: resp.StatusCode}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return body, nil
	})
	if err != nil {
		c.telemetry.requestError(ctx, reqID, err, time.Since(start))
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "request failed")
		}
		return err
	}

	if _, neg := result.(notFoundMarker); neg {
		// Negative result; cache it briefly so repeat lookups stay local.
		c.cache.Set(cacheKey, notFoundMarker{}, notFoundTTL)
		c.telemetry.NotFound.Add(1)
		if span != nil {
			span.SetStatus(codes.Ok, "not found")
		}
		slog.DebugContext(ctx, "ESI resource not found",
			"request_id", reqID, "resource", resource, "id", id)
		return ErrNotFound
	}

	body := result.([]byte)
	c.cache.Set(cacheKey, body, resultTTL)
	c.telemetry.requestFinish(ctx, reqID, http.StatusOK, time.Since(start))
	if span != nil {
		span.SetAttributes(attribute.Int("http.response_size", len(body)))
		span.SetStatus(codes.Ok, "ok")
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", resource, err)
	}
	return nil
}
