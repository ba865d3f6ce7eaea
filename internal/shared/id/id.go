// Package id provides centralized ID generation for the lobby shell.
//
// Hosted instances are identified by prefixed ULIDs:
//   - Lexicographic sortability: instance listings come out in open order
//   - Prefixed types: lobby_*, client_*, req_* are readable in logs
//   - Type safety: separate types keep instance IDs and client IDs apart
//
// The partition key used for storage isolation is derived 1:1 from the
// instance ID (see PartitionKey).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InstanceID identifies a hosted page instance
type InstanceID string

// ClientID identifies a connected event-stream client
type ClientID string

// RequestID identifies an API request
type RequestID string

const (
	InstancePrefix = "lobby"
	ClientPrefix   = "client"
	RequestPrefix  = "req"

	// PartitionPrefix marks a persistent storage partition, mirroring the
	// "persist:" convention used by embedded browser partitions.
	PartitionPrefix = "persist:"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator backed by crypto/rand, made
// monotonic so IDs minted within the same millisecond still sort in order.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for tests that want deterministic IDs.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewInstanceID generates a new hosted instance ID
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateWithPrefix(InstancePrefix))
}

// NewClientID generates a new stream client ID
func NewClientID() ClientID {
	return ClientID(Default().GenerateWithPrefix(ClientPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id InstanceID) String() string { return string(id) }
func (id ClientID) String() string   { return string(id) }
func (id RequestID) String() string  { return string(id) }

// PartitionKey returns the storage partition bound to this instance.
func (id InstanceID) PartitionKey() string {
	return PartitionPrefix + string(id)
}

// FromPartitionKey recovers the instance ID from a partition key.
func FromPartitionKey(key string) (InstanceID, bool) {
	if !strings.HasPrefix(key, PartitionPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, PartitionPrefix)
	if rest == "" {
		return "", false
	}
	return InstanceID(rest), true
}

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// IsInstanceID checks for the lobby_<ulid> shape
func IsInstanceID(s string) bool {
	prefix, rest, ok := strings.Cut(s, "_")
	return ok && prefix == InstancePrefix && IsValid(rest)
}

// Timestamp extracts the creation time from a prefixed or bare ULID
func Timestamp(s string) (time.Time, error) {
	if _, rest, ok := strings.Cut(s, "_"); ok {
		s = rest
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
