package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestExpiryFromToken_Success(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(time.Hour).Add(-time.Second)
	tok, err := GenerateToken("client-1", []byte("any"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	exp, err := ExpiryFromToken(tok)
	if err != nil {
		t.Fatalf("ExpiryFromToken error: %v", err)
	}
	if exp.Before(before) || exp.After(time.Now().Add(time.Hour+time.Second)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
}

func TestExpiryFromToken_ExpiredStillParses(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("client-1", []byte("any"), -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	exp, err := ExpiryFromToken(tok)
	if err != nil {
		t.Fatalf("expired tokens must still yield their expiry, got %v", err)
	}
	if !exp.Before(time.Now()) {
		t.Fatalf("expected past expiry, got %v", exp)
	}
}

func TestExpiryFromToken_NoExp(t *testing.T) {
	t.Parallel()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ExpiryFromToken(tok); !errors.Is(err, ErrNoExpiry) {
		t.Fatalf("want ErrNoExpiry, got %v", err)
	}
}

func TestExpiryFromToken_Opaque(t *testing.T) {
	t.Parallel()

	if _, err := ExpiryFromToken("not-a-jwt"); err == nil {
		t.Fatal("expected error for opaque token")
	}
}
