package service

import (
	"context"

	"relief/model"
)

type Registry interface {
	Initialize(ctx context.Context) error
	Load(ctx context.Context) ([]model.DonationRecord, error)
	Append(ctx context.Context, record model.DonationRecord) ([]model.DonationRecord, error)
	FindByID(ctx context.Context, id string) (model.DonationRecord, error)
	FindByEmailAndAmount(ctx context.Context, email string, amountMinorUnits int64) (model.DonationRecord, error)
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params model.CheckoutParams) (model.SessionHandle, error)
	RetrieveSession(ctx context.Context, sessionID string) (model.SessionStatus, error)
}

// Claimer hands out short-lived exclusive claims on a session id. Release
// only drops the claim identified by token.
type Claimer interface {
	Claim(ctx context.Context, sessionID string) (token string, ok bool, err error)
	Release(ctx context.Context, sessionID, token string)
}

type Snapshotter interface {
	Snapshot(ctx context.Context, donations []model.DonationRecord) error
}
