package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"CragProject/tools/errs"
)

func TestGenerateAndResolve(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	token, exp, err := Generate(opts, "user-a")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}

	id := NewJWTIdentity(opts)
	user, err := id.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user != "user-a" {
		t.Fatalf("user=%q", user)
	}
}

func TestResolveRejects(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	other, _, err := Generate(DefaultOptions([]byte("other-secret")), "user-a")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	expiredOpts := opts
	expiredOpts.TTL = time.Nanosecond
	expired, _, err := Generate(expiredOpts, "user-a")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	id := NewJWTIdentity(opts)
	for name, cred := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong secret": other,
		"expired":      expired,
	} {
		if _, err := id.Resolve(context.Background(), cred); !errors.Is(err, errs.ErrUnauthorized) {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}
}

func TestUnsupportedAlg(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.Alg = "RS256"
	if _, _, err := Generate(opts, "u"); err == nil {
		t.Fatalf("expected error for RS256")
	}
}
