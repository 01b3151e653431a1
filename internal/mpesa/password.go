package mpesa

import (
	"encoding/base64"
	"time"
)

// TimestampLayout is the YYYYMMDDHHMMSS layout Daraja expects.
const TimestampLayout = "20060102150405"

// DefaultTimezone is the zone STK timestamps are rendered in.
const DefaultTimezone = "Africa/Nairobi"

// LoadLocation resolves name, falling back to a fixed UTC+3 zone when the
// tz database is unavailable.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("EAT", 3*60*60)
}

// Credential is a timestamp and the password derived from it.
type Credential struct {
	Password  string
	Timestamp string
}

// Signer derives per-request STK credentials for a shortcode.
type Signer struct {
	ShortCode string
	PassKey   string
	Location  *time.Location
	Now       func() time.Time
}

// Sign renders the current time and computes
// base64(shortCode + passKey + timestamp).
func (s Signer) Sign() Credential {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = LoadLocation(DefaultTimezone)
	}
	ts := now().In(loc).Format(TimestampLayout)
	return Credential{
		Password:  base64.StdEncoding.EncodeToString([]byte(s.ShortCode + s.PassKey + ts)),
		Timestamp: ts,
	}
}
