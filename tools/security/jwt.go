package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"CragProject/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Identity resolves an authenticated user id from a session credential.
type Identity interface {
	Resolve(ctx context.Context, credential string) (userID string, err error)
}

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC secret (ENV/KMS in production)
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token lifetime (default 2h)
	Issuer string        // optional; enforced when set
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate signs a session token whose subject is userID.
func Generate(opts Options, userID string) (token string, expireAt time.Time, err error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errs.ErrValidation.WrapMsg("user id required")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.RegisteredClaims{
		Subject:   userID,
		Issuer:    opts.Issuer,
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(exp),
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses token and returns its subject.
func Verify(opts Options, token string) (string, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return "", err
	}
	parserOpts := []jwtlib.ParserOption{jwtlib.WithExpirationRequired()}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(opts.Issuer))
	}
	claims := &jwtlib.RegisteredClaims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		// HMAC family only
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, parserOpts...)
	if err != nil {
		return "", errs.ErrUnauthorized.WrapMsg(err.Error())
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errs.ErrUnauthorized.WrapMsg("invalid token")
	}
	return claims.Subject, nil
}

// JWTIdentity is the Identity backed by HMAC-signed session tokens.
type JWTIdentity struct {
	opts Options
}

func NewJWTIdentity(opts Options) *JWTIdentity {
	return &JWTIdentity{opts: opts}
}

func (j *JWTIdentity) Resolve(_ context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", errs.ErrUnauthorized.WrapMsg("missing credential")
	}
	if len(j.opts.Secret) == 0 {
		return "", errs.ErrUnauthorized.WrapMsg("auth secret not configured")
	}
	return Verify(j.opts, credential)
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
