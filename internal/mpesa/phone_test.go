package mpesa_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/stk-gateway/internal/mpesa"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0712345678", "254712345678"},
		{"254712345678", "254712345678"},
		{"712345678", "254712345678"},
		{"+254 712-345-678", "254712345678"},
		{"(0712) 345 678", "254712345678"},
		{"0110345678", "254110345678"},
	}
	for _, tc := range cases {
		got, err := mpesa.NormalizePhone(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizePhoneRejects(t *testing.T) {
	for _, in := range []string{"", "12345", "071234567", "25571234567", "1712345678", "2547123456789", "phone"} {
		_, err := mpesa.NormalizePhone(in)
		require.ErrorIs(t, err, mpesa.ErrInvalidPhoneFormat, in)
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	for _, in := range []string{"0712345678", "712345678", "254799000111"} {
		once, err := mpesa.NormalizePhone(in)
		require.NoError(t, err)
		twice, err := mpesa.NormalizePhone(once)
		require.NoError(t, err)
		require.Equal(t, once, twice)
		require.Regexp(t, `^254\d{9}$`, once)
	}
}
