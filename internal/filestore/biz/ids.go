package biz

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Logical id formats
const (
	IDFormatUUID     = "uuid"
	IDFormatObjectID = "objectid"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// ValidateID rejects ids that cannot be used as a key suffix and path segment
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// IDGenerator issues logical file ids
type IDGenerator interface {
	NewID() string
}

// NewIDGenerator returns the generator for format
func NewIDGenerator(format string) (IDGenerator, error) {
	switch format {
	case IDFormatUUID, "":
		return uuidGenerator{}, nil
	case IDFormatObjectID:
		return newObjectIDGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported id format %q", format)
	}
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string {
	return uuid.NewString()
}

// objectIDGenerator produces 12-byte, 24-hex ids: 4-byte unix seconds,
// 5 random bytes fixed per process, 3-byte counter.
type objectIDGenerator struct {
	process [5]byte
	counter atomic.Uint32
	now     func() time.Time
}

func newObjectIDGenerator() *objectIDGenerator {
	g := &objectIDGenerator{now: time.Now}
	var seed [4]byte
	_, _ = rand.Read(g.process[:])
	_, _ = rand.Read(seed[:])
	g.counter.Store(binary.BigEndian.Uint32(seed[:]))
	return g
}

func (g *objectIDGenerator) NewID() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(g.now().Unix()))
	copy(b[4:9], g.process[:])
	c := g.counter.Add(1)
	b[9], b[10], b[11] = byte(c>>16), byte(c>>8), byte(c)
	return hex.EncodeToString(b[:])
}
