package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief/internal/infra/sessionlock"
	"relief/internal/infra/storage"
	"relief/model"
)

var testSessions = map[string]model.SessionStatus{
	"cs_1": {ID: "cs_1", Paid: true, PaymentStatus: "paid", AmountMinorUnits: 500, Email: "a@b.com"},
	"cs_2": {ID: "cs_2", Paid: false, PaymentStatus: "unpaid", AmountMinorUnits: 100, Email: "a@b.com"},
	"cs_3": {ID: "cs_3", Paid: true, PaymentStatus: "paid", AmountMinorUnits: 1000, Email: "x@y.com"},
	"cs_4": {ID: "cs_4", Paid: true, PaymentStatus: "paid", AmountMinorUnits: 700},
}

type reconcilerFixture struct {
	reconciler *Reconciler
	registry   *storage.MemoryRegistry
	gateway    *fakeGateway
	claims     *fakeClaimer
	snapshots  *fakeSnapshotter
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		registry:  storage.NewMemoryRegistry(),
		gateway:   &fakeGateway{RetrieveSessionFunc: sessions(testSessions)},
		claims:    &fakeClaimer{},
		snapshots: &fakeSnapshotter{},
	}
	f.reconciler = NewReconciler(f.registry, f.gateway, f.claims, f.snapshots, discardLogger())
	return f
}

func TestVerifyAndRecord_PaidSessionIsRecorded(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	v, err := f.reconciler.VerifyAndRecord(ctx, "cs_3", " northern star ")
	require.NoError(t, err)
	assert.True(t, v.Created)
	assert.Equal(t, "cs_3", v.Record.ID)
	assert.Equal(t, int64(1000), v.Record.AmountMinorUnits)
	assert.Equal(t, "x@y.com", v.Record.Email)
	assert.Equal(t, "northern star", v.Record.Soulmark)
	assert.False(t, v.Record.Timestamp.IsZero())

	donations, err := f.registry.Load(ctx)
	require.NoError(t, err)
	require.Len(t, donations, 1)
	assert.Equal(t, v.Record, donations[0])

	assert.Equal(t, int32(1), f.snapshots.calls.Load())
	assert.Equal(t, []string{"cs_3/token-cs_3"}, f.claims.released)
}

func TestVerifyAndRecord_MissingEmailIsUnknown(t *testing.T) {
	f := newReconcilerFixture()

	v, err := f.reconciler.VerifyAndRecord(context.Background(), "cs_4", "")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownEmail, v.Record.Email)
	assert.Empty(t, v.Record.Soulmark)
}

func TestVerifyAndRecord_UnpaidSessionIsNotRecorded(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	_, err := f.reconciler.VerifyAndRecord(ctx, "cs_2", "")
	require.ErrorIs(t, err, model.ErrPaymentNotVerified)

	donations, err := f.registry.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, donations)
	assert.Zero(t, f.snapshots.calls.Load())
	assert.Equal(t, []string{"cs_2/token-cs_2"}, f.claims.released)
}

func TestVerifyAndRecord_NeverAppendsForNonPaidStatuses(t *testing.T) {
	for _, status := range []string{"unpaid", "no_payment_required", "", "processing"} {
		t.Run(status, func(t *testing.T) {
			appended := false
			reg := &fakeRegistry{
				AppendFunc: func(context.Context, model.DonationRecord) ([]model.DonationRecord, error) {
					appended = true
					return nil, nil
				},
			}
			gw := &fakeGateway{
				RetrieveSessionFunc: func(_ context.Context, id string) (model.SessionStatus, error) {
					return model.SessionStatus{ID: id, PaymentStatus: status, AmountMinorUnits: 100}, nil
				},
			}
			r := NewReconciler(reg, gw, &fakeClaimer{}, nil, discardLogger())

			_, err := r.VerifyAndRecord(context.Background(), "cs_x", "mark")
			require.ErrorIs(t, err, model.ErrPaymentNotVerified)
			assert.False(t, appended)
		})
	}
}

func TestVerifyAndRecord_ReverificationReturnsExistingRecord(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	first, err := f.reconciler.VerifyAndRecord(ctx, "cs_3", "first")
	require.NoError(t, err)

	second, err := f.reconciler.VerifyAndRecord(ctx, "cs_3", "first")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Record, second.Record)

	third, err := f.reconciler.VerifyAndRecord(ctx, "cs_3", "")
	require.NoError(t, err)
	assert.False(t, third.Created)
	assert.Equal(t, first.Record, third.Record)

	donations, err := f.registry.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, donations, 1)
	assert.Equal(t, int32(1), f.snapshots.calls.Load())
}

func TestVerifyAndRecord_LateSoulmarkConflicts(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	first, err := f.reconciler.VerifyAndRecord(ctx, "cs_3", "")
	require.NoError(t, err)
	require.True(t, first.Created)

	_, err = f.reconciler.VerifyAndRecord(ctx, "cs_3", "northern star")
	require.ErrorIs(t, err, model.ErrSoulmarkConflict)

	donations, err := f.registry.Load(ctx)
	require.NoError(t, err)
	require.Len(t, donations, 1)
	assert.Empty(t, donations[0].Soulmark)

	lookup, err := f.reconciler.LookupSoulmark(ctx, "cs_3")
	require.NoError(t, err)
	assert.Equal(t, model.UnverifiedSoulmark, lookup.Soulmark)
}

func TestVerifyAndRecord_DifferentSoulmarkConflicts(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	_, err := f.reconciler.VerifyAndRecord(ctx, "cs_3", "aurora")
	require.NoError(t, err)

	_, err = f.reconciler.VerifyAndRecord(ctx, "cs_3", "borealis")
	require.ErrorIs(t, err, model.ErrSoulmarkConflict)
}

func TestVerifyAndRecord_DuplicateOnAppendReturnsExisting(t *testing.T) {
	stored := model.DonationRecord{ID: "cs_3", AmountMinorUnits: 1000, Email: "x@y.com", Timestamp: time.Now()}
	lookups := 0
	reg := &fakeRegistry{
		FindByIDFunc: func(context.Context, string) (model.DonationRecord, error) {
			lookups++
			if lookups == 1 {
				return model.DonationRecord{}, model.ErrNotFound
			}
			return stored, nil
		},
		AppendFunc: func(context.Context, model.DonationRecord) ([]model.DonationRecord, error) {
			return nil, fmt.Errorf("%w: cs_3", model.ErrDuplicateDonation)
		},
	}
	r := NewReconciler(reg, &fakeGateway{RetrieveSessionFunc: sessions(testSessions)}, &fakeClaimer{}, nil, discardLogger())

	v, err := r.VerifyAndRecord(context.Background(), "cs_3", "")
	require.NoError(t, err)
	assert.False(t, v.Created)
	assert.Equal(t, stored, v.Record)

	lookups = 0
	_, err = r.VerifyAndRecord(context.Background(), "cs_3", "late mark")
	require.ErrorIs(t, err, model.ErrSoulmarkConflict)
}

func TestVerifyAndRecord_Failures(t *testing.T) {
	storageErr := fmt.Errorf("%w: disk full", model.ErrStorageUnavailable)

	tests := []struct {
		name     string
		session  string
		soulmark string
		gateway  *fakeGateway
		registry *fakeRegistry
		claimer  *fakeClaimer
		wantErr  error
	}{
		{
			name:    "empty session id",
			session: "  ",
			wantErr: model.ErrValidation,
		},
		{
			name:     "soulmark too long",
			session:  "cs_3",
			soulmark: strings.Repeat("*", maxSoulmarkLength+1),
			wantErr:  model.ErrValidation,
		},
		{
			name:    "gateway failure",
			session: "cs_unknown",
			wantErr: model.ErrGateway,
		},
		{
			name:    "claim held elsewhere",
			session: "cs_3",
			claimer: &fakeClaimer{ClaimFunc: func(context.Context, string) (string, bool, error) { return "", false, nil }},
			wantErr: model.ErrVerificationInProgress,
		},
		{
			name:    "claim error",
			session: "cs_3",
			claimer: &fakeClaimer{ClaimFunc: func(context.Context, string) (string, bool, error) { return "", false, errors.New("boom") }},
			wantErr: model.ErrStorageUnavailable,
		},
		{
			name:    "append failure",
			session: "cs_3",
			registry: &fakeRegistry{AppendFunc: func(context.Context, model.DonationRecord) ([]model.DonationRecord, error) {
				return nil, storageErr
			}},
			wantErr: model.ErrStorageUnavailable,
		},
		{
			name:    "corrupt registry",
			session: "cs_3",
			registry: &fakeRegistry{FindByIDFunc: func(context.Context, string) (model.DonationRecord, error) {
				return model.DonationRecord{}, model.ErrStorageCorrupt
			}},
			wantErr: model.ErrStorageCorrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := tt.gateway
			if gw == nil {
				gw = &fakeGateway{RetrieveSessionFunc: sessions(testSessions)}
			}
			reg := tt.registry
			if reg == nil {
				reg = &fakeRegistry{}
			}
			claimer := tt.claimer
			if claimer == nil {
				claimer = &fakeClaimer{}
			}
			r := NewReconciler(reg, gw, claimer, nil, discardLogger())

			_, err := r.VerifyAndRecord(context.Background(), tt.session, tt.soulmark)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyAndRecord_ClaimHeldSkipsGateway(t *testing.T) {
	gw := &fakeGateway{RetrieveSessionFunc: sessions(testSessions)}
	claimer := &fakeClaimer{ClaimFunc: func(context.Context, string) (string, bool, error) { return "", false, nil }}
	r := NewReconciler(&fakeRegistry{}, gw, claimer, nil, discardLogger())

	_, err := r.VerifyAndRecord(context.Background(), "cs_3", "")
	require.ErrorIs(t, err, model.ErrVerificationInProgress)
	assert.Zero(t, gw.retrieveCalls.Load())
	assert.Empty(t, claimer.released)
}

func TestVerifyAndRecord_SnapshotFailureDoesNotFailRequest(t *testing.T) {
	f := newReconcilerFixture()
	f.snapshots.SnapshotFunc = func(context.Context, []model.DonationRecord) error {
		return errors.New("bucket unreachable")
	}

	v, err := f.reconciler.VerifyAndRecord(context.Background(), "cs_1", "")
	require.NoError(t, err)
	assert.True(t, v.Created)
	assert.Equal(t, int32(1), f.snapshots.calls.Load())
}

func TestVerifyAndRecord_ConcurrentRequestsRecordOnce(t *testing.T) {
	reg := storage.NewMemoryRegistry()
	gw := &fakeGateway{RetrieveSessionFunc: func(ctx context.Context, id string) (model.SessionStatus, error) {
		time.Sleep(5 * time.Millisecond)
		return sessions(testSessions)(ctx, id)
	}}
	r := NewReconciler(reg, gw, sessionlock.NewMemoryClaimer(time.Minute), nil, discardLogger())

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.VerifyAndRecord(context.Background(), "cs_3", "")
			if err != nil {
				assert.ErrorIs(t, err, model.ErrVerificationInProgress)
				return
			}
			if v.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	donations, err := reg.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, donations, 1)
	assert.Equal(t, 1, created)
}

func TestLookupSoulmark(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	_, err := f.registry.Append(ctx, model.DonationRecord{ID: "cs_old", AmountMinorUnits: 1000, Email: "x@y.com", Soulmark: "aurora"})
	require.NoError(t, err)
	_, err = f.registry.Append(ctx, model.DonationRecord{ID: "cs_1", AmountMinorUnits: 500, Email: "a@b.com"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		session string
		want    model.SoulmarkLookup
		wantErr error
	}{
		{name: "matching record", session: "cs_3", want: model.SoulmarkLookup{Email: "x@y.com", AmountMinorUnits: 1000, Soulmark: "aurora"}},
		{name: "record without soulmark", session: "cs_1", want: model.SoulmarkLookup{Email: "a@b.com", AmountMinorUnits: 500, Soulmark: model.UnverifiedSoulmark}},
		{name: "no record", session: "cs_4", want: model.SoulmarkLookup{Email: model.UnknownEmail, AmountMinorUnits: 700, Soulmark: model.UnverifiedSoulmark}},
		{name: "unpaid", session: "cs_2", wantErr: model.ErrPaymentNotVerified},
		{name: "gateway failure", session: "cs_unknown", wantErr: model.ErrGateway},
		{name: "blank id", session: "", wantErr: model.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.reconciler.LookupSoulmark(ctx, tt.session)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	donations, err := f.registry.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, donations, 2)
}

func TestListDonations(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	for _, id := range []string{"cs_1", "cs_3"} {
		_, err := f.reconciler.VerifyAndRecord(ctx, id, "")
		require.NoError(t, err)
	}

	list, err := f.reconciler.ListDonations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, int64(1500), list.TotalMinorUnits)
	assert.Equal(t, "cs_1", list.Donations[0].ID)
	assert.Equal(t, "cs_3", list.Donations[1].ID)
}

func TestListDonations_StorageError(t *testing.T) {
	reg := &fakeRegistry{LoadFunc: func(context.Context) ([]model.DonationRecord, error) {
		return nil, model.ErrStorageCorrupt
	}}
	r := NewReconciler(reg, &fakeGateway{}, &fakeClaimer{}, nil, discardLogger())

	_, err := r.ListDonations(context.Background())
	require.ErrorIs(t, err, model.ErrStorageCorrupt)
}
