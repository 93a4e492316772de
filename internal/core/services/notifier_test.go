package services

import (
	"fmt"
	"testing"

	"meetmesh/internal/core/domain"
	"meetmesh/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToastCenterHistory(t *testing.T) {
	tc := NewToastCenter(logger.Nop())

	tc.Notify(domain.Notification{Level: domain.NotifyInfo, Code: domain.NotifyConnected, Message: "hi"})
	tc.Notify(domain.Notification{Level: domain.NotifyWarning, Code: domain.NotifyConnectionLost, Message: "bye"})

	recent := tc.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, domain.NotifyConnected, recent[0].Code)
	assert.Equal(t, domain.NotifyConnectionLost, recent[1].Code)
	assert.False(t, recent[0].Timestamp.IsZero())
}

func TestToastCenterHistoryIsBounded(t *testing.T) {
	tc := NewToastCenter(logger.Nop())

	for i := 0; i < toastHistory+10; i++ {
		tc.Notify(domain.Notification{Message: fmt.Sprintf("n%d", i)})
	}

	recent := tc.Recent()
	require.Len(t, recent, toastHistory)
	assert.Equal(t, fmt.Sprintf("n%d", 10), recent[0].Message)
}

func TestToastCenterListener(t *testing.T) {
	tc := NewToastCenter(logger.Nop())

	var seen []domain.NotificationCode
	tc.OnNotification(func(n domain.Notification) {
		seen = append(seen, n.Code)
	})

	tc.Notify(domain.Notification{Code: domain.NotifyPlaybackBlocked})
	assert.Equal(t, []domain.NotificationCode{domain.NotifyPlaybackBlocked}, seen)
}
