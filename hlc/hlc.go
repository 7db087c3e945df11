// Package hlc implements the hybrid logical clock used to timestamp every
// envelope (spec.md §3 "HLC timestamp").
package hlc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/wallclock"
)

type (
	// HybridLogicalClock combines a physical and logical clock to preserve
	// causal order of timestamps across a distributed system.
	HybridLogicalClock struct {
		timestamp time.Time
		counter   uint64
		nodeID    string
	}

	// Global provides a shared, mutex-guarded HLC instance. Exactly one of
	// these should be created per application (see Application in the root
	// package), matching Design Note 9's "explicitly owned, not a package
	// singleton" guidance.
	Global struct {
		mu            sync.Mutex
		hlc           HybridLogicalClock
		maxClockDrift time.Duration
	}
)

// New creates a new shared HLC instance with the given bound on acceptable
// clock drift. A zero maxClockDrift defaults to one minute.
func New(maxClockDrift time.Duration) *Global {
	if maxClockDrift == 0 {
		maxClockDrift = time.Minute
	}
	return &Global{
		hlc: HybridLogicalClock{
			timestamp: now(),
			nodeID:    uuid.Must(uuid.NewV7()).String(),
		},
		maxClockDrift: maxClockDrift,
	}
}

// Get advances the shared HLC instance to the current wall time and
// returns it. Every outgoing message calls this to stamp its timestamp
// header.
func (g *Global) Get() (HybridLogicalClock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	g.hlc, err = g.hlc.merge(HybridLogicalClock{}, g.maxClockDrift)
	if err != nil {
		return HybridLogicalClock{}, err
	}
	return g.hlc, nil
}

// Merge advances the shared HLC instance using a timestamp observed on an
// incoming message.
func (g *Global) Merge(observed HybridLogicalClock) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	g.hlc, err = g.hlc.merge(observed, g.maxClockDrift)
	return err
}

// UTC returns the physical clock component in UTC.
func (hlc HybridLogicalClock) UTC() time.Time {
	return hlc.timestamp
}

// IsZero reports whether this HLC matches its zero value.
func (hlc HybridLogicalClock) IsZero() bool {
	return hlc.timestamp.IsZero()
}

// Compare returns -1, 0, or 1 according to whether hlc orders before, at,
// or after other.
func (hlc HybridLogicalClock) Compare(other HybridLogicalClock) int {
	if hlc.timestamp.Equal(other.timestamp) {
		switch {
		case hlc.counter > other.counter:
			return 1
		case hlc.counter < other.counter:
			return -1
		default:
			return strings.Compare(hlc.nodeID, other.nodeID)
		}
	}
	return hlc.timestamp.Compare(other.timestamp)
}

// String renders the lexicographically-ordered wire form: wall-clock
// milliseconds, logical counter, node id.
func (hlc HybridLogicalClock) String() string {
	return fmt.Sprintf("%015d:%05d:%s", hlc.timestamp.UnixMilli(), hlc.counter, hlc.nodeID)
}

// merge combines hlc with other (the zero value stands in for "just the
// wall clock") per the rule in spec.md §3: the new timestamp is
// max(wall, hlc.timestamp, other.timestamp); the counter resets to 0 if the
// wall clock alone wins, otherwise increments past whichever of hlc/other
// is being carried forward.
func (hlc HybridLogicalClock) merge(
	other HybridLogicalClock,
	maxClockDrift time.Duration,
) (HybridLogicalClock, error) {
	wall := now()

	if err := hlc.validate(wall, maxClockDrift); err != nil {
		return HybridLogicalClock{}, err
	}
	if err := other.validate(wall, maxClockDrift); err != nil {
		return HybridLogicalClock{}, err
	}

	updated := HybridLogicalClock{nodeID: hlc.nodeID}
	switch {
	case wall.After(hlc.timestamp) && wall.After(other.timestamp):
		updated.timestamp = wall
		updated.counter = 0

	case hlc.timestamp.Equal(other.timestamp):
		updated.timestamp = hlc.timestamp
		updated.counter = max(hlc.counter, other.counter) + 1

	case hlc.timestamp.After(other.timestamp):
		updated.timestamp = hlc.timestamp
		updated.counter = hlc.counter + 1

	default:
		updated.timestamp = other.timestamp
		updated.counter = other.counter + 1
	}

	return updated, nil
}

func (hlc HybridLogicalClock) validate(wall time.Time, maxClockDrift time.Duration) error {
	switch {
	case hlc.counter == math.MaxUint64:
		return &errors.Error{
			Message:      "integer overflow in HLC counter",
			Kind:         errors.InternalLogicError,
			PropertyName: "Counter",
		}

	case hlc.timestamp.Sub(wall) > maxClockDrift:
		return &errors.Error{
			Message:      "clock drift exceeds maximum",
			Kind:         errors.StateInvalid,
			PropertyName: "MaxClockDrift",
		}

	default:
		return nil
	}
}

// now returns the current time in UTC truncated to millisecond precision,
// matching the resolution of the wire form.
func now() time.Time {
	return wallclock.Instance.Now().UTC().Truncate(time.Millisecond)
}

// Parse decodes the wire form of an HLC timestamp, e.g. from a received
// __ts header.
func Parse(name, value string) (HybridLogicalClock, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return HybridLogicalClock{}, &errors.Error{
			Message:     "timestamp must contain three segments separated by ':'",
			Kind:        errors.HeaderInvalid,
			HeaderName:  name,
			HeaderValue: value,
		}
	}

	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return HybridLogicalClock{}, &errors.Error{
			Message:     "timestamp wall-clock segment is not a valid integer",
			Kind:        errors.HeaderInvalid,
			HeaderName:  name,
			HeaderValue: value,
		}
	}

	counter, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return HybridLogicalClock{}, &errors.Error{
			Message:     "timestamp counter segment is not a valid integer",
			Kind:        errors.HeaderInvalid,
			HeaderName:  name,
			HeaderValue: value,
		}
	}

	return HybridLogicalClock{
		timestamp: time.UnixMilli(millis).UTC(),
		counter:   counter,
		nodeID:    parts[2],
	}, nil
}
