// Package record generates the payloads written by a fill run.
package record

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ChunkSize is the length of every generated payload body: 1 MiB.
const ChunkSize = 1 << 20

// Alphabet is the character set sampled by Random.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces one record value per call.
type Generator interface {
	Generate() ([]byte, error)
	Kind() string
}

// Fixed repeats a single character Size times.
type Fixed struct {
	Char byte // defaults to 'X'
	Size int  // defaults to ChunkSize
}

// Kind returns "fixed".
func (Fixed) Kind() string { return KindFixed }

// Generate returns Size copies of Char.
func (f Fixed) Generate() ([]byte, error) {
	c, n := f.Char, f.Size
	if c == 0 {
		c = 'X'
	}
	if n <= 0 {
		n = ChunkSize
	}
	return bytes.Repeat([]byte{c}, n), nil
}

// Payload is the JSON document written by Random.
type Payload struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// Random samples Size characters uniformly from Alphabet and wraps them
// with a millisecond timestamp.
type Random struct {
	Size int              // defaults to ChunkSize
	Now  func() time.Time // defaults to time.Now
	Rand *rand.Rand       // defaults to the global source
}

// Kind returns "random".
func (Random) Kind() string { return KindRandom }

// Generate builds and encodes one Payload.
func (r Random) Generate() ([]byte, error) {
	n := r.Size
	if n <= 0 {
		n = ChunkSize
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	intN := rand.IntN
	if r.Rand != nil {
		intN = r.Rand.IntN
	}

	var sb strings.Builder
	sb.Grow(n)
	for range n {
		sb.WriteByte(Alphabet[intN(len(Alphabet))])
	}

	out, err := json.Marshal(Payload{Data: sb.String(), Timestamp: now().UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("encode random record: %w", err)
	}
	return out, nil
}

// Generator kinds accepted by New.
const (
	KindFixed  = "fixed"
	KindRandom = "random"
)

// New returns the generator registered under kind.
func New(kind string) (Generator, error) {
	switch strings.ToLower(kind) {
	case KindFixed, "":
		return Fixed{}, nil
	case KindRandom:
		return Random{}, nil
	default:
		return nil, fmt.Errorf("unknown record generator %q (available: %s, %s)", kind, KindFixed, KindRandom)
	}
}
