package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"relief/model"
)

var errFakeGateway = errors.New("fake gateway: no behaviour configured")

type fakeGateway struct {
	CreateCheckoutSessionFunc func(ctx context.Context, params model.CheckoutParams) (model.SessionHandle, error)
	RetrieveSessionFunc       func(ctx context.Context, sessionID string) (model.SessionStatus, error)

	createCalls   atomic.Int32
	retrieveCalls atomic.Int32
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, params model.CheckoutParams) (model.SessionHandle, error) {
	f.createCalls.Add(1)
	if f.CreateCheckoutSessionFunc != nil {
		return f.CreateCheckoutSessionFunc(ctx, params)
	}
	return model.SessionHandle{}, errFakeGateway
}

func (f *fakeGateway) RetrieveSession(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	f.retrieveCalls.Add(1)
	if f.RetrieveSessionFunc != nil {
		return f.RetrieveSessionFunc(ctx, sessionID)
	}
	return model.SessionStatus{}, errFakeGateway
}

// sessions answers RetrieveSession from a fixed table; unknown ids are a gateway error.
func sessions(table map[string]model.SessionStatus) func(context.Context, string) (model.SessionStatus, error) {
	return func(_ context.Context, id string) (model.SessionStatus, error) {
		s, ok := table[id]
		if !ok {
			return model.SessionStatus{}, model.ErrGateway
		}
		return s, nil
	}
}

type fakeRegistry struct {
	InitializeFunc           func(ctx context.Context) error
	LoadFunc                 func(ctx context.Context) ([]model.DonationRecord, error)
	AppendFunc               func(ctx context.Context, record model.DonationRecord) ([]model.DonationRecord, error)
	FindByIDFunc             func(ctx context.Context, id string) (model.DonationRecord, error)
	FindByEmailAndAmountFunc func(ctx context.Context, email string, amount int64) (model.DonationRecord, error)
}

func (f *fakeRegistry) Initialize(ctx context.Context) error {
	if f.InitializeFunc != nil {
		return f.InitializeFunc(ctx)
	}
	return nil
}

func (f *fakeRegistry) Load(ctx context.Context) ([]model.DonationRecord, error) {
	if f.LoadFunc != nil {
		return f.LoadFunc(ctx)
	}
	return []model.DonationRecord{}, nil
}

func (f *fakeRegistry) Append(ctx context.Context, record model.DonationRecord) ([]model.DonationRecord, error) {
	if f.AppendFunc != nil {
		return f.AppendFunc(ctx, record)
	}
	return []model.DonationRecord{record}, nil
}

func (f *fakeRegistry) FindByID(ctx context.Context, id string) (model.DonationRecord, error) {
	if f.FindByIDFunc != nil {
		return f.FindByIDFunc(ctx, id)
	}
	return model.DonationRecord{}, model.ErrNotFound
}

func (f *fakeRegistry) FindByEmailAndAmount(ctx context.Context, email string, amount int64) (model.DonationRecord, error) {
	if f.FindByEmailAndAmountFunc != nil {
		return f.FindByEmailAndAmountFunc(ctx, email, amount)
	}
	return model.DonationRecord{}, model.ErrNotFound
}

type fakeClaimer struct {
	ClaimFunc func(ctx context.Context, sessionID string) (string, bool, error)
	released  []string
}

func (f *fakeClaimer) Claim(ctx context.Context, sessionID string) (string, bool, error) {
	if f.ClaimFunc != nil {
		return f.ClaimFunc(ctx, sessionID)
	}
	return "token-" + sessionID, true, nil
}

func (f *fakeClaimer) Release(_ context.Context, sessionID, token string) {
	f.released = append(f.released, sessionID+"/"+token)
}

type fakeSnapshotter struct {
	SnapshotFunc func(ctx context.Context, donations []model.DonationRecord) error
	calls        atomic.Int32
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, donations []model.DonationRecord) error {
	f.calls.Add(1)
	if f.SnapshotFunc != nil {
		return f.SnapshotFunc(ctx, donations)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
