package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"relief/internal/metrics"
	"relief/model"
)

const maxSoulmarkLength = 280

// Reconciler is the only writer of donation records. A record is appended
// only after the gateway reports its session as paid, and always carries the
// gateway's id, amount and payer email.
type Reconciler struct {
	registry  Registry
	gateway   Gateway
	claims    Claimer
	snapshots Snapshotter
	logger    *slog.Logger
}

func NewReconciler(registry Registry, gateway Gateway, claims Claimer, snapshots Snapshotter, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		registry:  registry,
		gateway:   gateway,
		claims:    claims,
		snapshots: snapshots,
		logger:    logger,
	}
}

func (r *Reconciler) VerifyAndRecord(ctx context.Context, sessionID, soulmark string) (model.Verification, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return model.Verification{}, fmt.Errorf("%w: session id is required", model.ErrValidation)
	}
	soulmark = strings.TrimSpace(soulmark)
	if len([]rune(soulmark)) > maxSoulmarkLength {
		return model.Verification{}, fmt.Errorf("%w: soulmark longer than %d characters", model.ErrValidation, maxSoulmarkLength)
	}

	token, claimed, err := r.claims.Claim(ctx, sessionID)
	if err != nil {
		return model.Verification{}, fmt.Errorf("%w: claim: %v", model.ErrStorageUnavailable, err)
	}
	if !claimed {
		metrics.VerificationsTotal.WithLabelValues("in_progress").Inc()
		return model.Verification{}, fmt.Errorf("%w: %s", model.ErrVerificationInProgress, sessionID)
	}
	defer r.claims.Release(context.WithoutCancel(ctx), sessionID, token)

	status, err := r.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("gateway_error").Inc()
		return model.Verification{}, err
	}
	if !status.Paid {
		metrics.VerificationsTotal.WithLabelValues("not_paid").Inc()
		r.logger.Info("session not paid", "sessionId", sessionID, "paymentStatus", status.PaymentStatus)
		return model.Verification{}, fmt.Errorf("%w: session %s is %q", model.ErrPaymentNotVerified, sessionID, status.PaymentStatus)
	}

	existing, err := r.registry.FindByID(ctx, status.ID)
	if err == nil {
		return r.alreadyRecorded(existing, soulmark)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Verification{}, err
	}

	record := model.DonationRecord{
		ID:               status.ID,
		AmountMinorUnits: status.AmountMinorUnits,
		Email:            payerEmail(status),
		Soulmark:         soulmark,
	}

	updated, err := r.registry.Append(ctx, record)
	if errors.Is(err, model.ErrDuplicateDonation) {
		existing, ferr := r.registry.FindByID(ctx, status.ID)
		if ferr != nil {
			return model.Verification{}, ferr
		}
		return r.alreadyRecorded(existing, soulmark)
	}
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("storage_error").Inc()
		return model.Verification{}, err
	}

	stored := record
	for i := len(updated) - 1; i >= 0; i-- {
		if updated[i].ID == record.ID {
			stored = updated[i]
			break
		}
	}

	metrics.VerificationsTotal.WithLabelValues("recorded").Inc()
	metrics.DonationsRecordedTotal.Inc()
	metrics.DonatedMinorUnitsTotal.Add(float64(stored.AmountMinorUnits))
	r.logger.Info("donation recorded", "sessionId", stored.ID, "amount", stored.AmountMinorUnits, "count", len(updated))

	r.snapshot(ctx, updated)
	return model.Verification{Record: stored, Created: true}, nil
}

// alreadyRecorded answers a repeat verification. Records are never rewritten;
// a non-empty soulmark that differs from the stored one is a conflict.
func (r *Reconciler) alreadyRecorded(existing model.DonationRecord, soulmark string) (model.Verification, error) {
	if soulmark != "" && soulmark != existing.Soulmark {
		metrics.VerificationsTotal.WithLabelValues("soulmark_conflict").Inc()
		r.logger.Warn("soulmark differs from recorded donation", "sessionId", existing.ID)
		return model.Verification{}, fmt.Errorf("%w: %s", model.ErrSoulmarkConflict, existing.ID)
	}
	metrics.VerificationsTotal.WithLabelValues("already_recorded").Inc()
	return model.Verification{Record: existing}, nil
}

// LookupSoulmark resolves the soulmark stored for a paid session by matching
// the session's payer email and amount against the registry.
func (r *Reconciler) LookupSoulmark(ctx context.Context, sessionID string) (model.SoulmarkLookup, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return model.SoulmarkLookup{}, fmt.Errorf("%w: session id is required", model.ErrValidation)
	}

	status, err := r.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return model.SoulmarkLookup{}, err
	}
	if !status.Paid {
		return model.SoulmarkLookup{}, fmt.Errorf("%w: session %s is %q", model.ErrPaymentNotVerified, sessionID, status.PaymentStatus)
	}

	lookup := model.SoulmarkLookup{
		Email:            payerEmail(status),
		AmountMinorUnits: status.AmountMinorUnits,
		Soulmark:         model.UnverifiedSoulmark,
	}

	match, err := r.registry.FindByEmailAndAmount(ctx, lookup.Email, lookup.AmountMinorUnits)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return lookup, nil
	case err != nil:
		return model.SoulmarkLookup{}, err
	}

	if match.Soulmark != "" {
		lookup.Soulmark = match.Soulmark
	}
	return lookup, nil
}

func (r *Reconciler) ListDonations(ctx context.Context) (model.DonationListResponse, error) {
	donations, err := r.registry.Load(ctx)
	if err != nil {
		return model.DonationListResponse{}, err
	}

	var total int64
	for _, d := range donations {
		total += d.AmountMinorUnits
	}
	return model.DonationListResponse{
		Donations:       donations,
		Count:           len(donations),
		TotalMinorUnits: total,
	}, nil
}

func (r *Reconciler) snapshot(ctx context.Context, donations []model.DonationRecord) {
	if r.snapshots == nil {
		return
	}
	if err := r.snapshots.Snapshot(context.WithoutCancel(ctx), donations); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("registry snapshot failed", "err", err)
		return
	}
	metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
}

func payerEmail(status model.SessionStatus) string {
	if status.Email == "" {
		return model.UnknownEmail
	}
	return status.Email
}
