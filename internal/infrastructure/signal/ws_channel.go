package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"meetmesh/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenFunc mints a relay token for the meeting/participant pair.
type TokenFunc func(meetingID domain.MeetingID, id domain.ParticipantID) (string, error)

// WSChannel is the client side of the relay: a SignalingChannel that speaks
// the relay's WebSocket protocol. Subscribe dials the relay; Publish reuses
// the same connection, so Subscribe must happen first.
type WSChannel struct {
	relayURL     string
	tokenFn      TokenFunc
	writeTimeout time.Duration
	logger       *zap.SugaredLogger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSChannel(relayURL string, tokenFn TokenFunc, logger *zap.SugaredLogger) *WSChannel {
	return &WSChannel{
		relayURL:     relayURL,
		tokenFn:      tokenFn,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

func (c *WSChannel) Publish(ctx context.Context, meetingID domain.MeetingID, msg domain.SignalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteJSON(&msg); err != nil {
		return fmt.Errorf("failed to write signaling message: %w", err)
	}
	return nil
}

func (c *WSChannel) Subscribe(ctx context.Context, meetingID domain.MeetingID, selfID domain.ParticipantID, onMessage func(domain.SignalMessage)) (func(), error) {
	token, err := c.tokenFn(meetingID, selfID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint relay token: %w", err)
	}

	u, err := url.Parse(c.relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(c.writeTimeout))
	})

	go func() {
		for {
			var msg domain.SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Infow("relay connection closed", "error", err)
				}
				return
			}
			if msg.To != "" && msg.To != selfID {
				c.logger.Debugw("dropping misaddressed message", "to", msg.To)
				continue
			}
			onMessage(msg)
		}
	}()

	c.logger.Infow("subscribed to relay",
		"meeting_id", meetingID, "participant_id", selfID, "relay", c.relayURL)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn == conn {
			c.conn = nil
		}
		conn.Close()
	}, nil
}
