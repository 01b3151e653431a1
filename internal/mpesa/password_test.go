package mpesa_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/stk-gateway/internal/mpesa"
)

func TestSignerSign(t *testing.T) {
	fixed := time.Date(2024, 3, 5, 6, 7, 8, 0, time.UTC)
	signer := mpesa.Signer{
		ShortCode: "174379",
		PassKey:   "passkey",
		Location:  mpesa.LoadLocation("Africa/Nairobi"),
		Now:       func() time.Time { return fixed },
	}

	cred := signer.Sign()
	require.Equal(t, "20240305090708", cred.Timestamp, "timestamps render in East Africa Time")
	require.Regexp(t, `^\d{14}$`, cred.Timestamp)

	decoded, err := base64.StdEncoding.DecodeString(cred.Password)
	require.NoError(t, err)
	require.Equal(t, "174379passkey20240305090708", string(decoded))
}

func TestSignerUsesCurrentTime(t *testing.T) {
	cred := mpesa.Signer{ShortCode: "600000", PassKey: "k"}.Sign()
	require.Regexp(t, `^\d{14}$`, cred.Timestamp)

	ts, err := time.ParseInLocation(mpesa.TimestampLayout, cred.Timestamp, mpesa.LoadLocation(""))
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestLoadLocationFallback(t *testing.T) {
	loc := mpesa.LoadLocation("Not/AZone")
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	require.Equal(t, 3*60*60, offset)
}
