package mirror

import (
	"sort"
	"strings"
	"time"
)

// Optional holds a value that the upstream feed may leave unknown.
type Optional[T any] struct {
	value T
	known bool
}

// Some returns a known Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, known: true}
}

// None returns an unknown Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is known.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.known
}

// Known reports whether the value is present.
func (o Optional[T]) Known() bool {
	return o.known
}

// Protocol is a transport a mirror can be reached over.
type Protocol string

const (
	ProtocolAny   Protocol = "any"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolRsync Protocol = "rsync"
)

// ParseProtocol normalizes a protocol name. Unknown names return false.
func ParseProtocol(s string) (Protocol, bool) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolRsync:
		return p, true
	case "", ProtocolAny:
		return ProtocolAny, true
	default:
		return "", false
	}
}

// ProtocolSet is the set of protocols a mirror supports.
type ProtocolSet map[Protocol]struct{}

// NewProtocolSet builds a set from the given protocols, ignoring "any".
func NewProtocolSet(protos ...Protocol) ProtocolSet {
	s := make(ProtocolSet, len(protos))
	for _, p := range protos {
		if p == ProtocolAny || p == "" {
			continue
		}
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set.
func (s ProtocolSet) Has(p Protocol) bool {
	_, ok := s[p]
	return ok
}

// List returns the protocols in sorted order.
func (s ProtocolSet) List() []Protocol {
	out := make([]Protocol, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s ProtocolSet) String() string {
	names := make([]string, 0, len(s))
	for _, p := range s.List() {
		names = append(names, string(p))
	}
	return strings.Join(names, ",")
}

// Record is one mirror entry from the status feed.
type Record struct {
	URL         string
	Country     string
	CountryCode Optional[string]
	Protocols   ProtocolSet

	LastSync      Optional[time.Time]
	Score         Optional[float64]
	CompletionPct float64
	Delay         Optional[int64]

	DurationAvg    Optional[float64]
	DurationStddev Optional[float64]
	IPv4           bool
	IPv6           bool
	Active         bool
	ISOs           bool

	// Index is the record's position in the upstream feed.
	Index int
}

// Feed is the parsed status document.
type Feed struct {
	Records   []Record
	Skipped   []SkippedRecord
	LastCheck Optional[time.Time]
	Cutoff    int64
	Version   int
}
