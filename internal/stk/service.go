package stk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/stk-gateway/internal/mpesa"
	"github.com/noah-isme/stk-gateway/internal/obs"
)

// Gateway performs Daraja STK calls. *mpesa.Client satisfies it.
type Gateway interface {
	StkPush(ctx context.Context, token string, req mpesa.PushRequest) (mpesa.PushAck, error)
	StkQuery(ctx context.Context, token string, req mpesa.QueryRequest) (mpesa.QueryResult, error)
}

// Config carries the merchant settings used to build outbound requests.
type Config struct {
	ShortCode        string
	PassKey          string
	CallbackURL      string
	TransactionType  string
	AccountReference string
	TransactionDesc  string
	Location         *time.Location
}

// Service implements STK push initiation, callback processing and status queries.
type Service struct {
	cfg      Config
	gateway  Gateway
	tokens   mpesa.TokenSource
	signer   mpesa.Signer
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewService wires a Service.
func NewService(cfg Config, gateway Gateway, tokens mpesa.TokenSource, logger zerolog.Logger) *Service {
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	if cfg.AccountReference == "" {
		cfg.AccountReference = "PaymentRef"
	}
	if cfg.TransactionDesc == "" {
		cfg.TransactionDesc = "Payment for goods/services"
	}
	if cfg.Location == nil {
		cfg.Location = mpesa.LoadLocation(mpesa.DefaultTimezone)
	}
	return &Service{
		cfg:      cfg,
		gateway:  gateway,
		tokens:   tokens,
		signer:   mpesa.Signer{ShortCode: cfg.ShortCode, PassKey: cfg.PassKey, Location: cfg.Location},
		validate: newValidator(),
		logger:   logger,
	}
}

// WithClock overrides the clock used for credential timestamps.
func (s *Service) WithClock(now func() time.Time) {
	s.signer.Now = now
}

// PushInput is the client payload for initiating a payment. Both fields are
// kept as raw JSON: the phone number may arrive as a string or a number and
// the amount is forwarded to Daraja untouched.
type PushInput struct {
	PhoneNumber json.RawMessage `json:"phoneNumber" validate:"present"`
	Amount      json.RawMessage `json:"amount" validate:"present"`
}

// PushResult is an accepted STK push.
type PushResult struct {
	CheckoutRequestID   string `json:"checkoutRequestID"`
	MerchantRequestID   string `json:"merchantRequestID"`
	ResponseDescription string `json:"responseDescription"`
}

// QueryInput is the client payload for a status query.
type QueryInput struct {
	CheckoutRequestID json.RawMessage `json:"checkoutRequestID" validate:"present"`
}

// QueryStatus is the classified outcome of a status query. Data is the
// complete Daraja response.
type QueryStatus struct {
	Success    bool
	ResultDesc json.RawMessage
	Data       json.RawMessage
}

// Transaction summarises a paid callback. Values are passed through as sent
// and are JSON null when the corresponding item is missing.
type Transaction struct {
	Amount    json.RawMessage `json:"amount"`
	MpesaCode json.RawMessage `json:"mpesaCode"`
	Phone     json.RawMessage `json:"phone"`
	Date      json.RawMessage `json:"date"`
}

// Token returns the current Daraja access token.
func (s *Service) Token(ctx context.Context) (string, error) {
	if s.tokens == nil {
		return "", errors.New("stk: token source not configured")
	}
	return s.tokens.Token(ctx)
}

// InitiatePayment validates the input, normalizes the phone number and sends
// an STK push. No token is fetched and no call is made for invalid input.
func (s *Service) InitiatePayment(ctx context.Context, in PushInput) (res PushResult, err error) {
	ctx, span := otel.Tracer("stk.Service").Start(ctx, "StkService.InitiatePayment")
	result := "error"
	defer func() {
		obs.StkPushTotal.WithLabelValues(result).Inc()
		span.SetAttributes(attribute.String("stk.result", result))
		if err != nil && result == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := s.validate.Struct(in); err != nil {
		result = "invalid"
		return PushResult{}, ErrMissingPaymentFields
	}
	phone, err := mpesa.NormalizePhone(scalarText(in.PhoneNumber))
	if err != nil {
		result = "invalid"
		return PushResult{}, ErrInvalidPhone
	}

	token, err := s.Token(ctx)
	if err != nil {
		result = outcomeOf(err)
		return PushResult{}, fmt.Errorf("stk: access token: %w", err)
	}

	cred := s.signer.Sign()
	ack, err := s.gateway.StkPush(ctx, token, mpesa.PushRequest{
		BusinessShortCode: s.cfg.ShortCode,
		Password:          cred.Password,
		Timestamp:         cred.Timestamp,
		TransactionType:   s.cfg.TransactionType,
		Amount:            in.Amount,
		PartyA:            phone,
		PartyB:            s.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       s.cfg.CallbackURL,
		AccountReference:  s.cfg.AccountReference,
		TransactionDesc:   s.cfg.TransactionDesc,
	})
	if err != nil {
		result = outcomeOf(err)
		s.logger.Error().Err(err).Str("phone", maskPhone(phone)).Msg("stk_push_failed")
		return PushResult{}, err
	}
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", ack.CheckoutRequestID))

	if !ack.Accepted() {
		result = "rejected"
		s.logger.Warn().
			RawJSON("response_code", orNull(ack.ResponseCode)).
			Str("description", ack.ResponseDescription).
			Msg("stk_push_rejected")
		return PushResult{}, &RejectedError{ResponseCode: ack.ResponseCode, ResponseDescription: ack.ResponseDescription}
	}

	result = "success"
	s.logger.Info().
		Str("checkout_request_id", ack.CheckoutRequestID).
		Str("merchant_request_id", ack.MerchantRequestID).
		Str("phone", maskPhone(phone)).
		Msg("stk_push_sent")
	return PushResult{
		CheckoutRequestID:   ack.CheckoutRequestID,
		MerchantRequestID:   ack.MerchantRequestID,
		ResponseDescription: ack.ResponseDescription,
	}, nil
}

// HandleCallback interprets a Daraja result notification.
func (s *Service) HandleCallback(ctx context.Context, payload []byte) (tx Transaction, err error) {
	_, span := otel.Tracer("stk.Service").Start(ctx, "StkService.HandleCallback")
	result := "error"
	defer func() {
		obs.StkCallbackTotal.WithLabelValues(result).Inc()
		span.SetAttributes(attribute.String("stk.result", result))
		span.End()
	}()

	var cb mpesa.Callback
	if err := json.Unmarshal(payload, &cb); err != nil || cb.Body == nil || cb.Body.StkCallback == nil {
		result = "invalid"
		s.logger.Warn().Err(err).Msg("stk_callback_invalid")
		return Transaction{}, ErrInvalidCallback
	}
	callback := cb.Body.StkCallback
	checkoutID := callback.CheckoutID()
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", checkoutID))

	if !callback.Paid() {
		result = "failed"
		s.logger.Info().
			Str("checkout_request_id", checkoutID).
			RawJSON("result_code", orNull(callback.ResultCode)).
			RawJSON("result_desc", orNull(callback.ResultDesc)).
			Msg("stk_callback_failed")
		return Transaction{}, &CallbackFailedError{ResultCode: callback.ResultCode, ResultDesc: callback.ResultDesc}
	}
	meta, err := callback.Metadata()
	if err != nil || meta == nil || meta.Item == nil {
		result = "invalid"
		s.logger.Warn().Err(err).Str("checkout_request_id", checkoutID).Msg("stk_callback_metadata_invalid")
		return Transaction{}, ErrInvalidMetadata
	}

	tx = Transaction{
		Amount:    meta.Value(mpesa.ItemAmount),
		MpesaCode: meta.Value(mpesa.ItemMpesaReceiptNumber),
		Phone:     meta.Value(mpesa.ItemPhoneNumber),
		Date:      meta.Value(mpesa.ItemTransactionDate),
	}
	result = "success"
	s.logger.Info().
		Str("checkout_request_id", checkoutID).
		Str("merchant_request_id", callback.MerchantID()).
		RawJSON("receipt", tx.MpesaCode).
		RawJSON("amount", tx.Amount).
		Msg("stk_callback_paid")
	return tx, nil
}

// QueryStatus asks Daraja for the state of a checkout request.
func (s *Service) QueryStatus(ctx context.Context, in QueryInput) (status QueryStatus, err error) {
	ctx, span := otel.Tracer("stk.Service").Start(ctx, "StkService.QueryStatus")
	result := "error"
	defer func() {
		obs.StkQueryTotal.WithLabelValues(result).Inc()
		span.SetAttributes(attribute.String("stk.result", result))
		if err != nil && result == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := s.validate.Struct(in); err != nil {
		result = "invalid"
		return QueryStatus{}, ErrMissingCheckoutID
	}
	checkoutID := scalarText(in.CheckoutRequestID)
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", checkoutID))

	token, err := s.Token(ctx)
	if err != nil {
		result = outcomeOf(err)
		return QueryStatus{}, fmt.Errorf("stk: access token: %w", err)
	}

	cred := s.signer.Sign()
	res, err := s.gateway.StkQuery(ctx, token, mpesa.QueryRequest{
		BusinessShortCode: s.cfg.ShortCode,
		Password:          cred.Password,
		Timestamp:         cred.Timestamp,
		CheckoutRequestID: checkoutID,
	})
	if err != nil {
		result = outcomeOf(err)
		s.logger.Warn().Err(err).Str("checkout_request_id", checkoutID).Msg("stk_query_failed")
		return QueryStatus{}, err
	}

	status = QueryStatus{Success: res.Succeeded(), ResultDesc: res.ResultDesc, Data: res.Raw}
	result = "failure"
	if status.Success {
		result = "success"
	}
	s.logger.Info().
		Str("checkout_request_id", checkoutID).
		RawJSON("result_code", orNull(res.ResultCode)).
		Msg("stk_query_completed")
	return status, nil
}

func outcomeOf(err error) string {
	var providerErr *mpesa.ProviderError
	if errors.As(err, &providerErr) {
		return "provider_error"
	}
	return "error"
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return mpesa.Null
	}
	return raw
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:4] + "*****" + phone[len(phone)-3:]
}
