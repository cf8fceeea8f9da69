package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ValueHandler receives an entity's new numeric value pushed from Home
// Assistant between polls.
type ValueHandler func(entityID string, value int)

// PushListener subscribes to state_changed events over the HA
// WebSocket API and forwards value changes for bound entities. It is
// an accelerator for the poll loop, not a replacement: a missed event
// is picked up by the next tick.
type PushListener struct {
	url      string
	token    string
	entities map[string]bool
	handler  ValueHandler
	logger   *zap.Logger
	msgID    int
}

const (
	pushInitialBackoff = time.Second
	pushMaxBackoff     = 30 * time.Second
	pushReadTimeout    = 10 * time.Second
)

// NewPushListener builds a listener for the given entity set. baseURL
// is the HTTP base URL of Home Assistant; the ws scheme is derived.
func NewPushListener(baseURL, token string, entities []string, handler ValueHandler, logger *zap.Logger) *PushListener {
	set := make(map[string]bool, len(entities))
	for _, e := range entities {
		set[e] = true
	}

	wsURL := strings.TrimRight(baseURL, "/")
	wsURL = strings.Replace(wsURL, "http", "ws", 1) + "/api/websocket"

	return &PushListener{
		url:      wsURL,
		token:    token,
		entities: set,
		handler:  handler,
		logger:   logger,
	}
}

// Run connects and listens until ctx is cancelled, reconnecting with
// exponential backoff on connection loss.
func (p *PushListener) Run(ctx context.Context) {
	backoff := pushInitialBackoff
	for {
		err := p.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		p.logger.Warn("Push connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > pushMaxBackoff {
			backoff = pushMaxBackoff
		}
		if err == nil {
			backoff = pushInitialBackoff
		}
	}
}

// listenOnce dials, authenticates, subscribes and pumps events until
// the connection drops or ctx is cancelled.
func (p *PushListener) listenOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: pushReadTimeout}
	conn, _, err := dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	defer conn.Close()

	// Close the socket when ctx is cancelled so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := p.authenticate(conn); err != nil {
		return err
	}

	p.msgID++
	sub := SubscribeEventsRequest{ID: p.msgID, Type: "subscribe_events", EventType: "state_changed"}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	p.logger.Info("Push listener connected", zap.String("url", p.url))

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		if msg.Type != "event" || msg.Event == nil || msg.Event.EventType != "state_changed" {
			continue
		}
		p.handleStateChanged(msg.Event.Data)
	}
}

// authenticate performs the auth_required / auth / auth_ok handshake.
func (p *PushListener) authenticate(conn *websocket.Conn) error {
	var required Message
	if err := conn.ReadJSON(&required); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if required.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", required.Type)
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: p.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var resp Message
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.Type != "auth_ok" {
		return fmt.Errorf("authentication failed: %s", resp.Type)
	}
	return nil
}

func (p *PushListener) handleStateChanged(data json.RawMessage) {
	var event StateChangedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		p.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}
	if event.NewState == nil || !p.entities[event.EntityID] {
		return
	}

	value, ok := parseEntityValue(event.NewState.State)
	if !ok {
		p.logger.Debug("Ignoring non-numeric pushed state",
			zap.String("entity_id", event.EntityID),
			zap.String("state", event.NewState.State))
		return
	}

	p.logger.Debug("State pushed from Home Assistant",
		zap.String("entity_id", event.EntityID),
		zap.Int("value", value))
	p.handler(event.EntityID, value)
}
