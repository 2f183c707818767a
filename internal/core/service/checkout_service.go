package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"relief/internal/metrics"
	"relief/model"
)

const (
	successPath = "/success.html?session_id={CHECKOUT_SESSION_ID}"
	cancelPath  = "/donate.html"
)

type CheckoutService struct {
	gateway     Gateway
	policy      model.CheckoutPolicy
	frontendURL string
	logger      *slog.Logger
}

func NewCheckoutService(gateway Gateway, policy model.CheckoutPolicy, frontendURL string, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		gateway:     gateway,
		policy:      policy,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// StartCheckout opens a checkout session and returns the URL the donor is
// redirected to. Nothing is written to the registry.
func (s *CheckoutService) StartCheckout(ctx context.Context, req model.CheckoutRequest) (string, error) {
	amount := req.AmountMinorUnits
	if s.policy.FixedAmount {
		if req.AmountSet && req.AmountMinorUnits <= 0 {
			metrics.CheckoutSessionsTotal.WithLabelValues("invalid").Inc()
			return "", fmt.Errorf("%w: amount must be positive", model.ErrValidation)
		}
		amount = s.policy.FixedAmountMinorUnits
	}
	if amount <= 0 {
		metrics.CheckoutSessionsTotal.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}

	email := strings.TrimSpace(req.Email)
	if email == "" && s.policy.RequireEmail {
		metrics.CheckoutSessionsTotal.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: email is required", model.ErrValidation)
	}
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			metrics.CheckoutSessionsTotal.WithLabelValues("invalid").Inc()
			return "", fmt.Errorf("%w: malformed email", model.ErrValidation)
		}
		email = addr.Address
	}

	handle, err := s.gateway.CreateCheckoutSession(ctx, model.CheckoutParams{
		AmountMinorUnits: amount,
		Email:            email,
		SuccessURL:       s.frontendURL + successPath,
		CancelURL:        s.frontendURL + cancelPath,
		Currency:         s.policy.Currency,
		ProductName:      s.policy.ProductName,
	})
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("gateway_error").Inc()
		return "", err
	}

	metrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	s.logger.Info("checkout started", "sessionId", handle.ID, "amount", amount)
	return handle.URL, nil
}
