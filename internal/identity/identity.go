// Package identity provides the anonymous per-conversation identity pair.
package identity

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
)

const (
	// TokenLength is the length of generated user and session tokens.
	TokenLength = 8
	alphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Pair identifies a conversation with the remote agent.
type Pair struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Generator produces identity pairs. Implementations must be safe for
// concurrent use.
type Generator interface {
	Generate() Pair
}

// Random generates short base36 tokens. Collisions are unlikely but not
// prevented, and the tokens are not suitable as secrets.
type Random struct{}

// Generate returns a fresh pair of random tokens.
func (Random) Generate() Pair {
	return Pair{UserID: randomToken(), SessionID: randomToken()}
}

func randomToken() string {
	var b strings.Builder
	b.Grow(TokenLength)
	for range TokenLength {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}

// Sequence is a deterministic Generator for tests: it yields
// {prefix}-u{n} / {prefix}-s{n} pairs with n counting from 1.
type Sequence struct {
	Prefix string

	mu sync.Mutex
	n  int
}

// Generate returns the next pair in the sequence.
func (s *Sequence) Generate() Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "seq"
	}
	return Pair{
		UserID:    fmt.Sprintf("%s-u%d", prefix, s.n),
		SessionID: fmt.Sprintf("%s-s%d", prefix, s.n),
	}
}

// Fixed always returns the same pair.
type Fixed Pair

// Generate returns the fixed pair.
func (f Fixed) Generate() Pair { return Pair(f) }

// ValidToken reports whether id is acceptable as a path segment for the
// remote agent's session URL.
func ValidToken(id string) bool {
	return tokenPattern.MatchString(id)
}

// IPFromRequest returns a normalized remote IP for rate limiting and logs.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
