package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a new globally unique identifier as string. It is implemented
// as a thin wrapper so tests can stub it.

var NewFunc = func() string { return uuid.New().String() }

func New() string { return NewFunc() }

// Correlation returns a correlation id shared by every audit entry of one
// task journey.
func Correlation() string { return "corr-" + New() }

// TaskID derives a stable task identifier from an upstream source id so that
// a watcher re-emitting the same item maps onto the same task.
func TaskID(source, sourceID string) string {
	if sourceID == "" {
		return source + "-" + New()
	}
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, sourceID)
	return source + "-" + sanitized
}
