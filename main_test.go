package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"CragProject/global/config"
	toolsec "CragProject/tools/security"
)

func TestTokenCommandMintsResolvableToken(t *testing.T) {
	t.Setenv("CRAG_AUTH_SECRET", "cli-secret")
	t.Setenv("CRAG_AUTH_ISSUER", "crag-test")

	cmd := buildTokenCmd()
	cmd.Flags().String("config", "", "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--user", "u42", "--ttl", "5m"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}

	opts := toolsec.DefaultOptions([]byte("cli-secret"))
	opts.Issuer = "crag-test"
	uid, err := toolsec.NewJWTIdentity(opts).Resolve(context.Background(), strings.TrimSpace(out.String()))
	if err != nil || uid != "u42" {
		t.Fatalf("resolve: uid=%q err=%v", uid, err)
	}
}

func TestJWTOptionsFromConfig(t *testing.T) {
	o := jwtOptions(config.AuthConfig{Secret: "s", TTL: time.Minute})
	if o.Alg != "HS256" || o.TTL != time.Minute || string(o.Secret) != "s" {
		t.Fatalf("opts=%+v", o)
	}
}
