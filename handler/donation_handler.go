package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"

	"relief/internal/auth"
	"relief/internal/infra/health"
	"relief/model"
)

// Largest accepted decimal amount; keeps the minor-unit conversion exact.
const maxDecimalAmount = 1e12

type CheckoutStarter interface {
	StartCheckout(ctx context.Context, req model.CheckoutRequest) (string, error)
}

type DonationReconciler interface {
	VerifyAndRecord(ctx context.Context, sessionID, soulmark string) (model.Verification, error)
	LookupSoulmark(ctx context.Context, sessionID string) (model.SoulmarkLookup, error)
	ListDonations(ctx context.Context) (model.DonationListResponse, error)
}

type HealthReporter interface {
	Check(ctx context.Context) model.HealthResponse
}

type DonationHandler struct {
	checkout    CheckoutStarter
	reconciler  DonationReconciler
	probes      HealthReporter
	adminSecret []byte
	logger      *slog.Logger
	now         func() time.Time
}

func NewDonationHandler(checkout CheckoutStarter, reconciler DonationReconciler, probes HealthReporter, adminSecret string, logger *slog.Logger) *DonationHandler {
	return &DonationHandler{
		checkout:    checkout,
		reconciler:  reconciler,
		probes:      probes,
		adminSecret: []byte(adminSecret),
		logger:      logger,
		now:         time.Now,
	}
}

func (h *DonationHandler) Register(r fiber.Router) {
	r.Post("/create-checkout-session", h.CreateCheckoutSession)
	r.Get("/verify-donation/:sessionId", h.VerifyDonation)
	r.Get("/lookup-soulmark/:sessionId", h.LookupSoulmark)
	r.Post("/verify-soulmark", h.VerifySoulmark)
	r.Get("/test", h.Test)
	r.Get("/health", h.Health)
	r.Get("/admin/donations", h.requireOperator, h.ListDonations)
}

func (h *DonationHandler) CreateCheckoutSession(c *fiber.Ctx) error {
	var req model.CheckoutSessionRequest
	if body := c.Body(); len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			return h.fail(c, "create checkout session", fmt.Errorf("%w: %v", model.ErrValidation, err))
		}
	}

	checkoutReq := model.CheckoutRequest{Email: req.Email}
	if req.Amount != nil {
		amount, err := toMinorUnits(*req.Amount)
		if err != nil {
			return h.fail(c, "create checkout session", err)
		}
		checkoutReq.AmountMinorUnits, checkoutReq.AmountSet = amount, true
	}

	url, err := h.checkout.StartCheckout(c.UserContext(), checkoutReq)
	if err != nil {
		return h.fail(c, "create checkout session", err)
	}
	return c.JSON(model.CheckoutSessionResponse{URL: url})
}

func (h *DonationHandler) VerifyDonation(c *fiber.Ctx) error {
	return h.verify(c, c.Params("sessionId"), "")
}

func (h *DonationHandler) VerifySoulmark(c *fiber.Ctx) error {
	var req model.VerifySoulmarkRequest
	if err := sonic.Unmarshal(c.Body(), &req); err != nil {
		return h.fail(c, "verify soulmark", fmt.Errorf("%w: %v", model.ErrValidation, err))
	}
	return h.verify(c, req.SessionID, req.Soulmark)
}

func (h *DonationHandler) LookupSoulmark(c *fiber.Ctx) error {
	lookup, err := h.reconciler.LookupSoulmark(c.UserContext(), c.Params("sessionId"))
	if err != nil {
		return h.fail(c, "lookup soulmark", err)
	}
	return c.JSON(model.SoulmarkResponse{
		Email:    lookup.Email,
		Amount:   lookup.AmountMinorUnits,
		Soulmark: lookup.Soulmark,
	})
}

func (h *DonationHandler) Test(c *fiber.Ctx) error {
	return c.JSON(model.TestResponse{Working: true, Time: h.now().UTC().Format(time.RFC3339)})
}

func (h *DonationHandler) Health(c *fiber.Ctx) error {
	report := h.probes.Check(c.UserContext())
	if report.Status != health.StatusOK {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}

func (h *DonationHandler) ListDonations(c *fiber.Ctx) error {
	list, err := h.reconciler.ListDonations(c.UserContext())
	if err != nil {
		return h.fail(c, "list donations", err)
	}
	return c.JSON(list)
}

func (h *DonationHandler) requireOperator(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return h.fail(c, "operator auth", fmt.Errorf("%w: missing bearer token", model.ErrUnauthorized))
	}
	if err := auth.VerifyOperatorToken(token, h.adminSecret); err != nil {
		return h.fail(c, "operator auth", err)
	}
	return c.Next()
}

func (h *DonationHandler) verify(c *fiber.Ctx, sessionID, soulmark string) error {
	v, err := h.reconciler.VerifyAndRecord(c.UserContext(), sessionID, soulmark)
	if errors.Is(err, model.ErrPaymentNotVerified) {
		h.logger.Info("verification refused", "sessionId", sessionID, "requestId", c.Locals("requestid"), "err", err)
		return c.Status(fiber.StatusBadRequest).JSON(model.VerifyDonationResponse{Verified: false})
	}
	if err != nil {
		return h.fail(c, "verify donation", err)
	}

	entry := v.Record
	return c.JSON(model.VerifyDonationResponse{Verified: true, Entry: &entry})
}

// fail maps a domain error to a status code and a generic message. Details
// only go to the log.
func (h *DonationHandler) fail(c *fiber.Ctx, op string, err error) error {
	status, msg := fiber.StatusInternalServerError, "internal error"

	switch {
	case errors.Is(err, model.ErrValidation):
		status, msg = fiber.StatusBadRequest, "invalid request"
	case errors.Is(err, model.ErrPaymentNotVerified):
		status, msg = fiber.StatusBadRequest, "payment not verified"
	case errors.Is(err, model.ErrUnauthorized):
		status, msg = fiber.StatusUnauthorized, "unauthorized"
	case errors.Is(err, model.ErrVerificationInProgress):
		status, msg = fiber.StatusConflict, "verification already in progress"
	case errors.Is(err, model.ErrSoulmarkConflict):
		status, msg = fiber.StatusConflict, "soulmark already recorded for this donation"
	case errors.Is(err, model.ErrGateway):
		status, msg = fiber.StatusBadGateway, "payment provider unavailable"
	}

	attrs := []any{"op", op, "status", status, "requestId", c.Locals("requestid"), "err", err}
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("request failed", attrs...)
	} else {
		h.logger.Warn("request rejected", attrs...)
	}
	return c.Status(status).JSON(model.ErrorResponse{Error: msg})
}

func toMinorUnits(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 || amount > maxDecimalAmount {
		return 0, fmt.Errorf("%w: amount out of range", model.ErrValidation)
	}
	return int64(math.Round(amount * 100)), nil
}
