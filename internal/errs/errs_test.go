package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesCanonicalAndVenue(t *testing.T) {
	err := New(
		"injective-testnet",
		CodeSequence,
		WithMessage("broadcast failed"),
		WithRawMessage("account sequence mismatch, expected 5, got 4"),
		WithCanonicalCode(CanonicalSequenceMismatch),
		WithVenueField("wallet", "wallet-1"),
		WithCause(errors.New("rpc error")),
	)

	out := err.Error()
	if !strings.Contains(out, "venue=injective-testnet") {
		t.Fatalf("expected venue marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=sequence") {
		t.Fatalf("expected code marker in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=sequence_mismatch") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	if !strings.Contains(out, `venue_meta=wallet="wallet-1"`) {
		t.Fatalf("expected venue metadata in error string: %s", out)
	}
	if !strings.Contains(out, `cause="rpc error"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithCanonicalCodeEmptyDefaultsToUnknown(t *testing.T) {
	err := New("injective-testnet", CodeBroadcast, WithCanonicalCode("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestClassifyBroadcastError(t *testing.T) {
	cases := []struct {
		raw  string
		want CanonicalCode
	}{
		{"account sequence mismatch, expected 5, got 4", CanonicalSequenceMismatch},
		{"rpc error: sequence mismatch", CanonicalSequenceMismatch},
		{"tx timeout height reached for tx", CanonicalTimeoutHeight},
		{"insufficient funds for fees", CanonicalBroadcastRejected},
	}
	for _, tc := range cases {
		got := ClassifyBroadcastError("injective-testnet", tc.raw)
		if got.Canonical != tc.want {
			t.Fatalf("ClassifyBroadcastError(%q) = %q, want %q", tc.raw, got.Canonical, tc.want)
		}
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := New("injective-testnet", CodeBroadcast, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}
