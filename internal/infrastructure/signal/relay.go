package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"meetmesh/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type connKey struct {
	meeting domain.MeetingID
	id      domain.ParticipantID
}

// RelayConfig carries the tunables of the relay server.
type RelayConfig struct {
	JWTSecret         string
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	Burst             int
}

// Relay is a stateless WebSocket forwarder for SDP and ICE payloads. It
// holds no negotiation state: every message carries an addressee and is
// forwarded to that participant's connection if one exists. Delivery is
// best-effort; a message for an absent participant is dropped with a log
// line.
type Relay struct {
	cfg RelayConfig

	connections map[connKey]*websocket.Conn
	writeMu     map[connKey]*sync.Mutex
	mu          sync.RWMutex

	logger *zap.SugaredLogger
}

type relayClaims struct {
	MeetingID     string `json:"meeting_id"`
	ParticipantID string `json:"participant_id"`
	jwt.RegisteredClaims
}

func NewRelay(cfg RelayConfig, logger *zap.SugaredLogger) *Relay {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MessagesPerSecond == 0 {
		cfg.MessagesPerSecond = 50
	}
	if cfg.Burst == 0 {
		cfg.Burst = 100
	}
	return &Relay{
		cfg:         cfg,
		connections: make(map[connKey]*websocket.Conn),
		writeMu:     make(map[connKey]*sync.Mutex),
		logger:      logger,
	}
}

// IssueToken mints a connection token for a participant. Session nodes use
// the same secret to authenticate against the relay.
func IssueToken(secret string, meetingID domain.MeetingID, id domain.ParticipantID, ttl time.Duration) (string, error) {
	claims := relayClaims{
		MeetingID:     string(meetingID),
		ParticipantID: string(id),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (s *Relay) IssueToken(meetingID domain.MeetingID, id domain.ParticipantID, ttl time.Duration) (string, error) {
	return IssueToken(s.cfg.JWTSecret, meetingID, id, ttl)
}

func (s *Relay) authenticate(r *http.Request) (domain.MeetingID, domain.ParticipantID, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return "", "", fmt.Errorf("missing token")
	}

	var claims relayClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.MeetingID == "" || claims.ParticipantID == "" {
		return "", "", fmt.Errorf("invalid token claims")
	}
	return domain.MeetingID(claims.MeetingID), domain.ParticipantID(claims.ParticipantID), nil
}

func (s *Relay) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	meetingID, participantID, err := s.authenticate(r)
	if err != nil {
		s.logger.Warnw("websocket auth failed", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	key := connKey{meeting: meetingID, id: participantID}

	s.mu.Lock()
	if old, ok := s.connections[key]; ok && old != nil {
		old.Close()
		s.logger.Infow("closing old connection for reconnecting participant",
			"meeting_id", meetingID, "participant_id", participantID)
	}
	s.connections[key] = conn
	s.writeMu[key] = &sync.Mutex{}
	s.mu.Unlock()

	s.logger.Infow("participant connected to relay",
		"meeting_id", meetingID, "participant_id", participantID)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)

	messageChan := make(chan domain.SignalMessage, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg domain.SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if !limiter.Allow() {
				s.logger.Warnw("rate limit exceeded, dropping message",
					"meeting_id", meetingID, "participant_id", participantID, "type", msg.Type)
				s.sendError(key, "rate limit exceeded")
				continue
			}
			if err := s.forward(meetingID, participantID, msg); err != nil {
				s.logger.Infow("message not forwarded",
					"meeting_id", meetingID, "from", participantID, "to", msg.To, "error", err)
				s.sendError(key, err.Error())
			}

		case <-pingTicker.C:
			s.mu.RLock()
			wmu := s.writeMu[key]
			s.mu.RUnlock()
			if wmu == nil {
				goto cleanup
			}
			wmu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			wmu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping",
					"meeting_id", meetingID, "participant_id", participantID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading from participant",
					"meeting_id", meetingID, "participant_id", participantID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	if s.connections[key] == conn {
		delete(s.connections, key)
		delete(s.writeMu, key)
	}
	s.mu.Unlock()

	s.logger.Infow("participant disconnected from relay",
		"meeting_id", meetingID, "participant_id", participantID)
}

// forward validates the envelope and writes it to the addressee's
// connection.
func (s *Relay) forward(meetingID domain.MeetingID, from domain.ParticipantID, msg domain.SignalMessage) error {
	switch msg.Type {
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate:
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
	if msg.To == "" {
		return fmt.Errorf("recipient is required")
	}
	if msg.From != "" && msg.From != from {
		return fmt.Errorf("sender mismatch: expected %s, got %s", from, msg.From)
	}
	msg.From = from

	if err := s.send(connKey{meeting: meetingID, id: msg.To}, msg); err != nil {
		return err
	}

	s.logger.Debugw("routed signaling message",
		"meeting_id", meetingID,
		"type", msg.Type,
		"from", from,
		"to", msg.To,
	)
	return nil
}

func (s *Relay) send(key connKey, data interface{}) error {
	s.mu.RLock()
	conn, exists := s.connections[key]
	wmu := s.writeMu[key]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("participant %s not connected", key.id)
	}

	wmu.Lock()
	defer wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(data)
}

func (s *Relay) sendError(key connKey, message string) {
	errorMsg := map[string]interface{}{
		"type":    "error",
		"message": message,
	}
	if err := s.send(key, errorMsg); err != nil {
		s.logger.Debugw("error reply not delivered", "participant_id", key.id, "error", err)
	}
}

func (s *Relay) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connectionCount := len(s.connections)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ConnectedParticipants lists the participants currently attached for one
// meeting.
func (s *Relay) ConnectedParticipants(meetingID domain.MeetingID) []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ParticipantID
	for key := range s.connections {
		if key.meeting == meetingID {
			out = append(out, key.id)
		}
	}
	return out
}

// Shutdown closes every live connection.
func (s *Relay) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, conn := range s.connections {
		conn.Close()
		delete(s.connections, key)
		delete(s.writeMu, key)
	}
}
