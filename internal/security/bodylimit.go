package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/stk-gateway/internal/common"
)

// BodyLimit buffers request bodies up to Max bytes. STK requests and Daraja
// callbacks are small JSON documents, so buffering them whole is fine.
type BodyLimit struct {
	Max int64
}

// Middleware answers 413 when the declared or actual body exceeds Max and
// hands the handler a fully buffered body otherwise. GET and HEAD pass through.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			tooLarge(w, b.Max)
			return
		}

		buf, err := io.ReadAll(io.LimitReader(r.Body, b.Max+1))
		_ = r.Body.Close()
		switch {
		case err != nil && !errors.Is(err, io.EOF):
			common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
			return
		case int64(len(buf)) > b.Max:
			tooLarge(w, b.Max)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func tooLarge(w http.ResponseWriter, max int64) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", map[string]any{"max_bytes": max})
}
