package plugin

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDSource generates plugin identifiers.
type IDSource interface {
	NewID(m Manifest) string
}

// ulidSource issues {name}-{version}-{ULID}. ULIDs from one source are
// strictly increasing, even within a millisecond.
type ulidSource struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULIDSource returns an IDSource backed by entropy. A nil entropy uses
// crypto/rand.
func NewULIDSource(entropy io.Reader, now func() time.Time) IDSource {
	if entropy == nil {
		entropy = rand.Reader
	}
	if now == nil {
		now = time.Now
	}
	return &ulidSource{entropy: ulid.Monotonic(entropy, 0), now: now}
}

func (s *ulidSource) NewID(m Manifest) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)
	return m.Name + "-" + m.Version + "-" + id.String()
}
