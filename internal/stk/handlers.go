package stk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/stk-gateway/internal/common"
	"github.com/noah-isme/stk-gateway/internal/mpesa"
)

// Handler exposes the STK endpoints over HTTP.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// TestToken returns the current Daraja access token.
func (h *Handler) TestToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.Svc.Token(r.Context())
	if err != nil {
		h.writeFailure(w, "test_token", err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"message": "Token generated successfully",
		"token":   token,
	})
}

// Push initiates an STK push to the customer's phone.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	var in PushInput
	if err := decodeBody(r, &in); err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON payload."})
		return
	}

	// The push is not abandoned if the client disconnects; the transport timeout bounds it.
	res, err := h.Svc.InitiatePayment(context.WithoutCancel(r.Context()), in)
	switch {
	case err == nil:
		common.JSON(w, http.StatusOK, map[string]any{
			"message":             "STK push request sent successfully.",
			"checkoutRequestID":   res.CheckoutRequestID,
			"merchantRequestID":   res.MerchantRequestID,
			"responseDescription": res.ResponseDescription,
		})
	case errors.Is(err, ErrMissingPaymentFields):
		common.JSON(w, http.StatusBadRequest, map[string]any{"error": "Phone number and amount are required fields."})
	case errors.Is(err, ErrInvalidPhone):
		common.JSON(w, http.StatusBadRequest, map[string]any{
			"error": "Invalid phone number format. Expected formats: 07XXXXXXXX, 2547XXXXXXXX, or XXXXXXXXX (9 digits)",
		})
	default:
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			common.JSON(w, http.StatusBadRequest, map[string]any{
				"error":               "Failed to initiate STK push.",
				"responseDescription": rejected.ResponseDescription,
			})
			return
		}
		h.writeFailure(w, "stk_push", err)
	}
}

// Callback receives Daraja's asynchronous payment result.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid callback data"})
		return
	}

	tx, err := h.Svc.HandleCallback(r.Context(), payload)
	var failed *CallbackFailedError
	switch {
	case err == nil:
		common.JSON(w, http.StatusOK, map[string]any{
			"message":     "Callback processed successfully.",
			"transaction": tx,
		})
	case errors.Is(err, ErrInvalidCallback):
		common.JSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid callback data"})
	case errors.Is(err, ErrInvalidMetadata):
		common.JSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid callback metadata"})
	case errors.As(err, &failed):
		body := map[string]any{}
		if len(failed.ResultCode) > 0 {
			body["ResultCode"] = failed.ResultCode
		}
		if len(failed.ResultDesc) > 0 {
			body["ResultDesc"] = failed.ResultDesc
		}
		common.JSON(w, http.StatusBadRequest, body)
	default:
		h.Logger.Error().Err(err).Msg("stk_callback_error")
		common.JSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "An error occurred while processing the callback.",
			"details": err.Error(),
		})
	}
}

// Query reports the status of a checkout request.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var in QueryInput
	if err := decodeBody(r, &in); err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON payload."})
		return
	}

	status, err := h.Svc.QueryStatus(context.WithoutCancel(r.Context()), in)
	switch {
	case err == nil && status.Success:
		common.JSON(w, http.StatusOK, map[string]any{
			"status":  "Success",
			"message": "Payment successful",
			"data":    status.Data,
		})
	case err == nil:
		body := map[string]any{
			"status": "Failure",
			"data":   status.Data,
		}
		if len(status.ResultDesc) > 0 {
			body["message"] = status.ResultDesc
		}
		common.JSON(w, http.StatusBadRequest, body)
	case errors.Is(err, ErrMissingCheckoutID):
		common.JSON(w, http.StatusBadRequest, map[string]any{"error": "CheckoutRequestID is required"})
	default:
		h.writeFailure(w, "stk_query", err)
	}
}

// writeFailure mirrors provider errors with the provider's status and maps
// everything else to 500.
func (h *Handler) writeFailure(w http.ResponseWriter, op string, err error) {
	var providerErr *mpesa.ProviderError
	if errors.As(err, &providerErr) {
		h.Logger.Warn().Err(err).Str("operation", op).Int("provider_status", providerErr.Status).Msg("provider_error")
		common.JSON(w, providerErr.Status, map[string]any{
			"error":   "Safaricom API Error",
			"message": providerErr.Message(),
		})
		return
	}
	h.Logger.Error().Err(err).Str("operation", op).Msg("internal_error")
	common.JSON(w, http.StatusInternalServerError, map[string]any{
		"error":   "Internal Server Error",
		"message": err.Error(),
	})
}

// decodeBody reads a JSON object into dst. An empty body leaves dst untouched
// so that field validation reports what is missing.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
