package tokeninfo

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("irrelevant-the-sdk-never-verifies"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestInspectJWT(t *testing.T) {
	exp := time.Now().Add(2 * time.Minute)
	info := Inspect(signed(t, exp))
	if !info.Valid {
		t.Fatalf("expected a valid JWT to be recognized")
	}
	if !info.NearExpiry(time.Now()) {
		t.Errorf("expected token expiring in 2m to be near expiry")
	}
}

func TestInspectOpaqueToken(t *testing.T) {
	info := Inspect("not-a-jwt-just-an-opaque-provisioning-token")
	if info.Valid {
		t.Errorf("expected an opaque token to report Valid=false")
	}
	if info.NearExpiry(time.Now()) || info.Expired(time.Now()) {
		t.Errorf("an invalid Info should never report near-expiry or expired")
	}
}

func TestInspectFarFromExpiry(t *testing.T) {
	info := Inspect(signed(t, time.Now().Add(48*time.Hour)))
	if info.NearExpiry(time.Now()) {
		t.Errorf("token expiring in 48h should not be near expiry")
	}
}
