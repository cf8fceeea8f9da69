package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Fetcher performs one round trip to Home Assistant and returns the
// desired entity values. Retry policy belongs to the caller.
type Fetcher interface {
	FetchStates(ctx context.Context) (DesiredState, error)
}

// Reporter pushes an applied value back into Home Assistant so the
// control plane converges on reality between polls.
type Reporter interface {
	PostState(ctx context.Context, entityID string, value int) error
}

const defaultRequestTimeout = 10 * time.Second

// Client talks to the Home Assistant REST API.
type Client struct {
	baseURL  string
	token    string
	entities map[string]bool
	http     *http.Client
	logger   *zap.Logger
}

// NewClient creates a REST client scoped to the given entity IDs.
// States for entities outside the set are ignored on fetch.
func NewClient(baseURL, token string, entities []string, logger *zap.Logger) *Client {
	set := make(map[string]bool, len(entities))
	for _, e := range entities {
		set[e] = true
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		entities: set,
		http:     &http.Client{Timeout: defaultRequestTimeout},
		logger:   logger,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// FetchStates performs one GET /api/states round trip and maps the
// bound entities to their numeric values. Entities whose state is not
// numeric (e.g. "unavailable") are skipped; they are not an error.
func (c *Client) FetchStates(ctx context.Context) (DesiredState, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, fetchErrorf(CauseNetwork, "failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fetchErrorf(CauseNetwork, "request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fetchErrorf(CauseAuth, "home assistant rejected token: %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fetchErrorf(CauseNetwork, "unexpected status: %s", resp.Status)
	}

	var states []State
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, fetchErrorf(CauseFormat, "failed to decode states: %w", err)
	}

	desired := make(DesiredState)
	for _, s := range states {
		if !c.entities[s.EntityID] {
			continue
		}
		value, ok := parseEntityValue(s.State)
		if !ok {
			c.logger.Debug("Skipping non-numeric entity state",
				zap.String("entity_id", s.EntityID),
				zap.String("state", s.State))
			continue
		}
		desired[s.EntityID] = value
	}

	return desired, nil
}

// PostState writes an entity state via POST /api/states/<entity>.
// Used after a successful device apply; failures degrade to a log
// line, the device already holds the value.
func (c *Client) PostState(ctx context.Context, entityID string, value int) error {
	body, err := json.Marshal(map[string]string{"state": strconv.Itoa(value)})
	if err != nil {
		return fmt.Errorf("failed to encode state body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/states/"+entityID, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status posting %s: %s", entityID, resp.Status)
	}

	c.logger.Debug("Reported state to Home Assistant",
		zap.String("entity_id", entityID),
		zap.Int("value", value))
	return nil
}

// CheckAPI verifies the configured URL and token by hitting GET /api/.
// Called once at startup.
func (c *Client) CheckAPI(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("home assistant unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("home assistant returned %s", resp.Status)
	}
	return nil
}

// parseEntityValue converts an HA state string to an int. HA renders
// number entities as "57" or "57.0" depending on the step setting.
func parseEntityValue(s string) (int, bool) {
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(math.Round(f)), true
	}
	return 0, false
}
