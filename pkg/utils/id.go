package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateParticipantID returns a fresh participant id.
func GenerateParticipantID() string {
	return fmt.Sprintf("prt_%s", uuid.NewString())
}

// GenerateStreamID returns a fresh media stream id.
func GenerateStreamID() string {
	return fmt.Sprintf("stm_%s", uuid.NewString())
}

// GenerateSessionID returns a fresh session id.
func GenerateSessionID() string {
	return fmt.Sprintf("ses_%s", uuid.NewString())
}
