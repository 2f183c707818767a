package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"relief/internal/infra/circuitbreaker"
	"relief/internal/metrics"
	"relief/internal/sentinel"
	"relief/model"
)

const paymentStatusPaid = "paid"

type StripeGatewayConfig struct {
	SecretKey  string
	APIURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// StripeGateway talks to Stripe Checkout. Every call is bounded by Timeout and
// gated by the circuit breaker; failures come back wrapped in model.ErrGateway.
type StripeGateway struct {
	api     *client.API
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger
}

func NewStripeGateway(cfg StripeGatewayConfig, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *StripeGateway {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout + time.Second}
	}

	backendConfig := func(url string) *stripe.BackendConfig {
		bc := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     newStripeLogger(logger),
		}
		if url != "" {
			bc.URL = stripe.String(url)
		}
		return bc
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig(cfg.APIURL)),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig("")),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig("")),
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	logger.Info("stripe gateway ready", "apiUrl", cfg.APIURL, "timeout", cfg.Timeout)
	return &StripeGateway{
		api:     api,
		breaker: breaker,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p model.CheckoutParams) (model.SessionHandle, error) {
	var session *stripe.CheckoutSession

	err := g.call(ctx, "create_session", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{
			Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
			PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{
					PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
						Currency: stripe.String(p.Currency),
						ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
							Name: stripe.String(p.ProductName),
						},
						UnitAmount: stripe.Int64(p.AmountMinorUnits),
					},
					Quantity: stripe.Int64(1),
				},
			},
			SuccessURL: stripe.String(p.SuccessURL),
			CancelURL:  stripe.String(p.CancelURL),
		}
		if p.Email != "" {
			params.CustomerEmail = stripe.String(p.Email)
		}
		params.Context = ctx

		s, err := g.api.CheckoutSessions.New(params)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return model.SessionHandle{}, err
	}

	g.logger.Info("checkout session created", "sessionId", session.ID, "amount", p.AmountMinorUnits)
	return model.SessionHandle{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	var session *stripe.CheckoutSession

	err := g.call(ctx, "retrieve_session", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx

		s, err := g.api.CheckoutSessions.Get(sessionID, params)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return model.SessionStatus{}, err
	}

	status := model.SessionStatus{
		ID:               session.ID,
		PaymentStatus:    string(session.PaymentStatus),
		Paid:             string(session.PaymentStatus) == paymentStatusPaid,
		AmountMinorUnits: session.AmountTotal,
		Email:            payerEmail(session),
	}
	g.logger.Debug("checkout session retrieved", "sessionId", sessionID, "paymentStatus", status.PaymentStatus)
	return status, nil
}

func (g *StripeGateway) BreakerState() string {
	return g.breaker.GetState().String()
}

func (g *StripeGateway) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if !g.breaker.CanExecute() {
		metrics.GatewayRequestDuration.WithLabelValues(op, "rejected").Observe(0)
		return fmt.Errorf("%w: %s: circuit open", model.ErrGateway, op)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := classify(op, fn(ctx))
	outcome := "ok"

	switch {
	case err == nil:
		g.breaker.OnSuccess()
	case sentinel.IsDismissible(err):
		g.breaker.OnSuccess()
		outcome = "rejected"
	default:
		g.breaker.OnFailure()
		outcome = "error"
	}
	metrics.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		g.logger.Warn("payment gateway call failed", "op", op, "err", err, "breaker", g.breaker.GetState().String())
		return fmt.Errorf("%w: %w", model.ErrGateway, err)
	}
	return nil
}

// classify marks request errors the gateway answered deliberately as
// dismissible. Transport failures, timeouts, rate limits, rejected credentials
// and 5xx answers count against the breaker.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		dismissible := stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests &&
			stripeErr.HTTPStatusCode != http.StatusUnauthorized &&
			stripeErr.HTTPStatusCode != http.StatusForbidden
		return sentinel.NewGuardian(dismissible, op, err)
	}
	return sentinel.NewGuardian(false, op, err)
}

func payerEmail(s *stripe.CheckoutSession) string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	if s.CustomerEmail != "" {
		return s.CustomerEmail
	}
	return model.UnknownEmail
}
