package authorizer

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadACL(t *testing.T) {
	acl, err := LoadACL("testdata/acl.yaml")
	if err != nil {
		t.Fatalf("LoadACL() error = %v", err)
	}
	if acl.Levels() != 2 || acl.Badges() != 3 {
		t.Errorf("levels=%d badges=%d, want 2 and 3", acl.Levels(), acl.Badges())
	}
}

func TestACL_Check(t *testing.T) {
	acl, err := LoadACL("testdata/acl.yaml")
	if err != nil {
		t.Fatalf("LoadACL() error = %v", err)
	}

	tests := []struct {
		name     string
		identity string
		hour     int
		want     Decision
	}{
		{"member at night", "0001234567", 3, Decision{true, "member", ReasonGranted}},
		{"daytime at start", "0007654321", 9, Decision{true, "daytime", ReasonGranted}},
		{"daytime last hour", "0007654321", 20, Decision{true, "daytime", ReasonGranted}},
		{"daytime at end hour", "0007654321", 21, Decision{false, "daytime", ReasonOutsideHours}},
		{"daytime before start", "0007654321", 8, Decision{false, "daytime", ReasonOutsideHours}},
		{"unquoted id", "42", 12, Decision{true, "daytime", ReasonGranted}},
		{"unknown", "9999999999", 12, Decision{false, "", ReasonUnknownIdentity}},
		{"empty", "", 12, Decision{false, "", ReasonMissingIdentity}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := acl.Check(tt.identity, tt.hour); got != tt.want {
				t.Errorf("Check(%q, %d) = %+v, want %+v", tt.identity, tt.hour, got, tt.want)
			}
		})
	}
}

func TestParseACL_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"not yaml", "levels: [", ""},
		{"bad hours", "levels:\n  x:\n    hours: [10, 5]\n", "out of range"},
		{"hours arity", "levels:\n  x:\n    hours: [10]\n", "[start, end]"},
		{"unknown level", "levels:\n  x:\n    hours: [0, 24]\nrfids:\n  s:\n    - id: \"1\"\n      level: y\n", "unknown level"},
		{"duplicate", "levels:\n  x:\n    hours: [0, 24]\nrfids:\n  s:\n    - id: \"1\"\n      level: x\n    - id: \"1\"\n      level: x\n", "listed twice"},
		{"missing id", "levels:\n  x:\n    hours: [0, 24]\nrfids:\n  s:\n    - level: x\n", "without id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseACL([]byte(tt.yaml))
			if !errors.Is(err, ErrInvalidACL) {
				t.Fatalf("ParseACL() error = %v, want ErrInvalidACL", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadACL_Missing(t *testing.T) {
	if _, err := LoadACL("testdata/nope.yaml"); err == nil {
		t.Fatal("LoadACL() of a missing file succeeded")
	}
}
