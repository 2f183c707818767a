package model

import (
	"errors"
	"time"
)

// UnknownEmail is stored when the gateway has no payer address on record.
const UnknownEmail = "unknown"

// UnverifiedSoulmark is reported by soulmark lookups that find no matching donation.
const UnverifiedSoulmark = "unverified"

type DonationRecord struct {
	ID               string    `json:"id"`
	AmountMinorUnits int64     `json:"amount"`
	Email            string    `json:"email"`
	Soulmark         string    `json:"soulmark,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type Registry struct {
	Donations []DonationRecord `json:"donations"`
}

// CheckoutRequest is a donor's checkout intent. AmountSet is false when the
// client sent no amount at all.
type CheckoutRequest struct {
	AmountMinorUnits int64
	AmountSet        bool
	Email            string
}

type CheckoutParams struct {
	AmountMinorUnits int64
	Email            string
	SuccessURL       string
	CancelURL        string
	Currency         string
	ProductName      string
}

type SessionHandle struct {
	ID  string
	URL string
}

type SessionStatus struct {
	ID               string
	Paid             bool
	PaymentStatus    string
	AmountMinorUnits int64
	Email            string
}

type CheckoutPolicy struct {
	FixedAmount           bool
	FixedAmountMinorUnits int64
	RequireEmail          bool
	Currency              string
	ProductName           string
}

type Verification struct {
	Record  DonationRecord
	Created bool
}

type SoulmarkLookup struct {
	Email            string
	AmountMinorUnits int64
	Soulmark         string
}

type CheckoutSessionRequest struct {
	Amount *float64 `json:"amount"`
	Email  string   `json:"email"`
}

type CheckoutSessionResponse struct {
	URL string `json:"url"`
}

type VerifySoulmarkRequest struct {
	SessionID string `json:"sessionId"`
	Soulmark  string `json:"soulmark"`
}

type VerifyDonationResponse struct {
	Verified bool            `json:"verified"`
	Entry    *DonationRecord `json:"entry,omitempty"`
}

type SoulmarkResponse struct {
	Email    string `json:"email"`
	Amount   int64  `json:"amount"`
	Soulmark string `json:"soulmark"`
}

type TestResponse struct {
	Working bool   `json:"working"`
	Time    string `json:"time"`
}

type DonationListResponse struct {
	Donations       []DonationRecord `json:"donations"`
	Count           int              `json:"count"`
	TotalMinorUnits int64            `json:"totalMinorUnits"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var (
	ErrValidation             = errors.New("validation error")
	ErrGateway                = errors.New("payment gateway error")
	ErrPaymentNotVerified     = errors.New("payment not verified")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrStorageCorrupt         = errors.New("storage corrupt")
	ErrDuplicateDonation      = errors.New("donation already recorded")
	ErrNotFound               = errors.New("not found")
	ErrVerificationInProgress = errors.New("verification already in progress")
	ErrSoulmarkConflict       = errors.New("donation already recorded with a different soulmark")
	ErrUnauthorized           = errors.New("unauthorized")
)

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
