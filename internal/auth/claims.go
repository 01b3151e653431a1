package auth

import (
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// claimsPolicy checks the registered claims of a client token whose signature
// has already been verified.
type claimsPolicy struct {
	issuer   string
	audience string
	skew     time.Duration
}

func (p claimsPolicy) check(tok jwt.Token, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	if tok.Subject() == "" {
		return errors.New("auth: token has no client subject")
	}
	if tok.Expiration().IsZero() {
		return errors.New("auth: token has no expiry")
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(p.skew),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	return jwt.Validate(tok, opts...)
}
