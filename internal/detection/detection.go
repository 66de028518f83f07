// Package detection provides the rule options evaluated against inspected
// packets, their deduplication, and the rule sets built from them.
package detection

import (
	"errors"
	"time"

	"github.com/wiretap/dnp3ips/internal/model"
)

// ErrInvalidOption is wrapped by every option configuration error.
var ErrInvalidOption = errors.New("invalid rule option")

// Verdict is the result of evaluating an option against a packet.
type Verdict uint8

// Verdicts.
const (
	NoMatch Verdict = iota
	Match
)

// String returns the verdict name.
func (v Verdict) String() string {
	if v == Match {
		return "match"
	}
	return "no_match"
}

// Option is a single immutable rule predicate.
//
// Options must be safe for concurrent Eval calls against different flows;
// Eval must not modify the packet or any flow state.
type Option interface {
	// Name returns the option kind, e.g. "dnp3_obj".
	Name() string
	// Hash is a structural hash of the option's identity.
	Hash() uint64
	// Equal reports whether other is the same kind with the same arguments.
	Equal(other Option) bool
	// Eval tests the option against pkt.
	Eval(pkt *model.Packet) Verdict
	// String renders the option in rule syntax.
	String() string
}

// Profiler observes option evaluations.
type Profiler interface {
	Observe(option string, elapsed time.Duration, v Verdict)
}

// NopProfiler discards observations.
type NopProfiler struct{}

// Observe implements Profiler.
func (NopProfiler) Observe(string, time.Duration, Verdict) {}
