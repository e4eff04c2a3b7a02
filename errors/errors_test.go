package errors

import "testing"

func TestFromWire(t *testing.T) {
	cases := []struct {
		wire string
		want Kind
	}{
		{"ValidationError", Validation},
		{"NotFoundError", NotFound},
		{"NotSynchronizedError", NotSynchronized},
		{"TimeoutError", Timeout},
		{"NotAuthenticatedError", NotConnected},
		{"TradeError", Trade},
		{"UnauthorizedError", Unauthorized},
		{"SomethingElse", Internal},
		{"", Internal},
	}
	for _, c := range cases {
		got := FromWire(WireDescriptor{Error: c.wire, Message: "m"})
		if got.Kind != c.want {
			t.Errorf("FromWire(%q).Kind = %v, want %v", c.wire, got.Kind, c.want)
		}
	}
}

func TestNewTimeoutNamesRequestType(t *testing.T) {
	err := NewTimeout("getAccountInformation")
	if err.Kind != Timeout {
		t.Fatalf("expected Timeout kind, got %v", err.Kind)
	}
	if !contains(err.Error(), "getAccountInformation") {
		t.Errorf("expected error message to name the request type, got %q", err.Error())
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
