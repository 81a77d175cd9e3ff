// Package errs provides the structured error envelope shared across the
// trading engine's components.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Code identifies a broad error category, independent of venue.
type Code string

const (
	// CodeConfig indicates a configuration or metadata error, fatal at startup.
	CodeConfig Code = "config"
	// CodeTransient indicates a fetch failure that should skip the current cycle.
	CodeTransient Code = "transient"
	// CodeSequence indicates an account-sequence related failure.
	CodeSequence Code = "sequence"
	// CodeBroadcast indicates a non-sequence broadcast rejection.
	CodeBroadcast Code = "broadcast"
	// CodePlan indicates a plan violated a tick/notional constraint.
	CodePlan Code = "plan"
	// CodeInvariant indicates an internal invariant violation — always a bug.
	CodeInvariant Code = "invariant"
)

// CanonicalCode captures the retry classification from spec §4.4/§7.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalSequenceMismatch is a "sequence mismatch"/"account sequence" venue rejection.
	CanonicalSequenceMismatch CanonicalCode = "sequence_mismatch"
	// CanonicalTimeoutHeight is a "timeout height" venue rejection.
	CanonicalTimeoutHeight CanonicalCode = "timeout_height"
	// CanonicalBroadcastRejected is any other broadcast rejection.
	CanonicalBroadcastRejected CanonicalCode = "broadcast_rejected"
	// CanonicalUnknownMarket indicates a catalog lookup miss.
	CanonicalUnknownMarket CanonicalCode = "unknown_market"
	// CanonicalInvariant indicates a mutual-exclusion or ordering bug.
	CanonicalInvariant CanonicalCode = "invariant_violation"
	// CanonicalNothingToDo indicates a plan with zero creates and zero
	// cancels after filtering — the cycle completes without a broadcast.
	CanonicalNothingToDo CanonicalCode = "nothing_to_do"
)

// E captures structured error information produced across the engine.
type E struct {
	Venue         string
	Code          Code
	Canonical     CanonicalCode
	RawMsg        string
	Message       string
	VenueMetadata map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given venue and code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue:     strings.TrimSpace(venue),
		Code:      code,
		Canonical: CanonicalUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithRawMessage captures the raw venue error message used for §4.4 classification.
func WithRawMessage(msg string) Option {
	return func(e *E) { e.RawMsg = msg }
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// WithCanonicalCode sets the canonical retry classification.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithVenueField appends a single venue metadata key/value pair.
func WithVenueField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.VenueMetadata == nil {
			e.VenueMetadata = make(map[string]string, 1)
		}
		e.VenueMetadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.VenueMetadata) > 0 {
		keys := make([]string, 0, len(e.VenueMetadata))
		for k := range e.VenueMetadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.VenueMetadata[k]))
		}
		parts = append(parts, "venue_meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// ClassifyBroadcastError inspects a raw venue rejection message and returns
// the canonical classification per spec §4.4. This is the one boundary that
// must string-match, because the message originates from ChainClient as raw text.
func ClassifyBroadcastError(venue string, rawMsg string) *E {
	lower := strings.ToLower(rawMsg)
	switch {
	case strings.Contains(lower, "sequence mismatch"), strings.Contains(lower, "account sequence"):
		return New(venue, CodeSequence, WithCanonicalCode(CanonicalSequenceMismatch), WithRawMessage(rawMsg))
	case strings.Contains(lower, "timeout height"):
		return New(venue, CodeSequence, WithCanonicalCode(CanonicalTimeoutHeight), WithRawMessage(rawMsg))
	default:
		return New(venue, CodeBroadcast, WithCanonicalCode(CanonicalBroadcastRejected), WithRawMessage(rawMsg))
	}
}

// UnknownMarket returns a standardized error for a catalog lookup miss.
func UnknownMarket(symbol string) *E {
	return New("", CodeConfig,
		WithMessage("unknown market "+strconv.Quote(symbol)),
		WithCanonicalCode(CanonicalUnknownMarket))
}

// Invariant returns a standardized fatal internal-invariant error.
func Invariant(msg string) *E {
	return New("", CodeInvariant, WithMessage(msg), WithCanonicalCode(CanonicalInvariant))
}

// NothingToDo returns the sentinel error TxBuilder raises when a plan
// has zero creates and zero cancels after filtering (spec §4.5).
func NothingToDo() *E {
	return New("", CodePlan, WithMessage("plan has no creates or cancels after filtering"), WithCanonicalCode(CanonicalNothingToDo))
}
