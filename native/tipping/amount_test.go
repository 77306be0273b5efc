package tipping

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	value, err := ParseAmount(" 50000000000000000000000 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.String() != "50000000000000000000000" {
		t.Fatalf("unexpected value %s", value)
	}
	max := "340282366920938463463374607431768211455"
	if _, err := ParseAmount(max); err != nil {
		t.Fatalf("max u128 rejected: %v", err)
	}
	for _, raw := range []string{"", "abc", "-1", "1.5", "340282366920938463463374607431768211456"} {
		if _, err := ParseAmount(raw); !errors.Is(err, ErrParse) {
			t.Fatalf("expected parse error for %q, got %v", raw, err)
		}
	}
}

func TestParseTrackID(t *testing.T) {
	id, err := ParseTrackID("4294967295")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 4294967295 {
		t.Fatalf("unexpected id %d", id)
	}
	for _, raw := range []string{"", "x1", "-3", "4294967296"} {
		if _, err := ParseTrackID(raw); !errors.Is(err, ErrParse) {
			t.Fatalf("expected parse error for %q, got %v", raw, err)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	err := newError(CodeNoOwner, "track 9 has no registered owner")
	if !errors.Is(err, ErrNoOwner) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if errors.Is(err, ErrMinTip) {
		t.Fatalf("codes must not cross-match")
	}
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatalf("uncoded errors should report INTERNAL")
	}
	if !IsRejection(err) || IsRejection(ErrUnauthorized) {
		t.Fatalf("unexpected rejection classification")
	}
}
