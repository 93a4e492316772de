package services

import (
	"sync"
	"time"

	"meetmesh/internal/core/domain"

	"go.uber.org/zap"
)

const toastHistory = 50

// ToastCenter collects user-facing notifications. Delivery never blocks the
// caller; consumers poll Recent or register a listener.
type ToastCenter struct {
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	history  []domain.Notification
	listener func(domain.Notification)
}

func NewToastCenter(logger *zap.SugaredLogger) *ToastCenter {
	return &ToastCenter{logger: logger}
}

func (t *ToastCenter) Notify(n domain.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.history = append(t.history, n)
	if len(t.history) > toastHistory {
		t.history = t.history[len(t.history)-toastHistory:]
	}
	listener := t.listener
	t.mu.Unlock()

	t.logger.Infow("notification",
		"level", n.Level,
		"code", n.Code,
		"message", n.Message,
		"participant_id", n.ParticipantID,
	)

	if listener != nil {
		listener(n)
	}
}

// OnNotification registers a single listener for live delivery.
func (t *ToastCenter) OnNotification(fn func(domain.Notification)) {
	t.mu.Lock()
	t.listener = fn
	t.mu.Unlock()
}

// Recent returns the retained notifications, oldest first.
func (t *ToastCenter) Recent() []domain.Notification {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Notification, len(t.history))
	copy(out, t.history)
	return out
}
