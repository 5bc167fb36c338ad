package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const idTimeLayout = "20060102_150405"

// NewSessionID builds a readable, unique session id from the candidate's
// email, the mock interview and the start time.
func NewSessionID(email, mockID string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return email + "_" + mockID + "_" + at.Format(idTimeLayout) + "_" + suffix
}
