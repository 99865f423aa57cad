package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/catalog"
	"github.com/noah-isme/backend-klinik/internal/commission"
	"github.com/noah-isme/backend-klinik/internal/events"
	"github.com/noah-isme/backend-klinik/internal/pricing"
	"github.com/noah-isme/backend-klinik/internal/voucher"
)

type fakeCatalog struct {
	practitioners map[uuid.UUID]catalog.Practitioner
	procedures    map[uuid.UUID]catalog.Procedure
	medications   map[uuid.UUID]catalog.Medication
}

func (f *fakeCatalog) GetPractitioner(_ context.Context, id uuid.UUID) (catalog.Practitioner, error) {
	p, ok := f.practitioners[id]
	if !ok {
		return catalog.Practitioner{}, catalog.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) GetProcedure(_ context.Context, id uuid.UUID) (catalog.Procedure, error) {
	p, ok := f.procedures[id]
	if !ok {
		return catalog.Procedure{}, catalog.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) GetMedication(_ context.Context, id uuid.UUID) (catalog.Medication, error) {
	m, ok := f.medications[id]
	if !ok {
		return catalog.Medication{}, catalog.ErrNotFound
	}
	return m, nil
}

type fakeRules struct {
	rules []commission.Rule
}

func (f *fakeRules) ActiveRules(context.Context) ([]commission.Rule, error) {
	return append([]commission.Rule(nil), f.rules...), nil
}

type fakeOrders struct {
	saved map[uuid.UUID]billing.FinalizedOrder
}

func (f *fakeOrders) SaveOrder(_ context.Context, order billing.FinalizedOrder) error {
	if f.saved == nil {
		f.saved = make(map[uuid.UUID]billing.FinalizedOrder)
	}
	f.saved[order.ID] = order
	return nil
}

func (f *fakeOrders) GetOrder(_ context.Context, id uuid.UUID) (billing.FinalizedOrder, error) {
	order, ok := f.saved[id]
	if !ok {
		return billing.FinalizedOrder{}, billing.ErrOrderNotFound
	}
	return order, nil
}

type stubValidator struct {
	result voucher.Result
	err    error
	calls  int
	during func()
}

func (s *stubValidator) Validate(context.Context, voucher.Request) (voucher.Result, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	return s.result, s.err
}

type memoryEventStore struct {
	events []events.Event
}

func (m *memoryEventStore) InsertDomainEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	ev := events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now(),
	}
	m.events = append(m.events, ev)
	return ev, nil
}

type fixture struct {
	svc          *billing.Service
	validator    *stubValidator
	orders       *fakeOrders
	eventStore   *memoryEventStore
	practitioner catalog.Practitioner
	scaling      catalog.Procedure
	paracetamol  catalog.Medication
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	prac := catalog.Practitioner{ID: uuid.New(), Name: "drg. Sari", Category: "dental"}
	scaling := catalog.Procedure{ID: uuid.New(), Name: "Scaling", Price: 200_000, Category: "dental"}
	paracetamol := catalog.Medication{ID: uuid.New(), Name: "Paracetamol", Price: 5_000, Stock: 10}
	validator := &stubValidator{}
	orders := &fakeOrders{}
	eventStore := &memoryEventStore{}
	svc := &billing.Service{
		Sessions: billing.NewSessionStore(),
		Catalog: &fakeCatalog{
			practitioners: map[uuid.UUID]catalog.Practitioner{prac.ID: prac},
			procedures:    map[uuid.UUID]catalog.Procedure{scaling.ID: scaling},
			medications:   map[uuid.UUID]catalog.Medication{paracetamol.ID: paracetamol},
		},
		Rules: &fakeRules{rules: []commission.Rule{{
			ID:              uuid.New(),
			PractitionerIDs: []uuid.UUID{prac.ID},
			ProcedureNames:  []string{"Scaling"},
			PercentBps:      1500,
			Description:     "dedicated scaling rate",
		}}},
		Vouchers:        validator,
		Orders:          orders,
		Bus:             &events.Bus{Store: eventStore},
		DefaultAdminFee: 20_000,
		Log:             zerolog.Nop(),
	}
	return &fixture{
		svc:          svc,
		validator:    validator,
		orders:       orders,
		eventStore:   eventStore,
		practitioner: prac,
		scaling:      scaling,
		paracetamol:  paracetamol,
	}
}

// composeOrder builds the reference order: Scaling x2 at 10% off plus three
// Paracetamol under the default administrative fee.
func composeOrder(t *testing.T, f *fixture) billing.Snapshot {
	t.Helper()
	ctx := context.Background()
	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)
	snap, err = f.svc.SetPractitioner(ctx, snap.ID, f.practitioner.ID)
	require.NoError(t, err)
	snap, err = f.svc.AddProcedure(ctx, snap.ID, f.scaling.ID, 2)
	require.NoError(t, err)
	kind := pricing.DiscountPercentage
	value := int64(1000)
	snap, err = f.svc.UpdateProcedureLine(ctx, snap.ID, snap.Procedures[0].ID, billing.UpdateProcedureLineInput{
		DiscountKind:  &kind,
		DiscountValue: &value,
	})
	require.NoError(t, err)
	snap, err = f.svc.AddMedication(ctx, snap.ID, f.paracetamol.ID, 3)
	require.NoError(t, err)
	return snap
}

func TestComposeAndTotals(t *testing.T) {
	f := newFixture(t)
	snap := composeOrder(t, f)

	require.Equal(t, int64(400_000), snap.Totals.Subtotal)
	require.Equal(t, int64(40_000), snap.Totals.TotalDiscount)
	require.Equal(t, int64(360_000), snap.Totals.NetProcedureAmount)
	require.Equal(t, int64(15_000), snap.Totals.MedicationCost)
	require.Equal(t, int64(20_000), snap.Totals.AdministrativeFee)
	require.Equal(t, int64(395_000), snap.Totals.GrandTotal)

	require.Equal(t, commission.ScorePractitionerProcedure, snap.Commission.Score)
	require.Equal(t, commission.MatchPractitionerProcedure, snap.Commission.MatchType)
	require.NotNil(t, snap.Commission.PercentBps)
	require.Equal(t, int64(1500), *snap.Commission.PercentBps)
	require.Equal(t, int64(54_000), snap.Commission.Amount)
}

func TestVoucherReplacesGrandTotalNotCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)
	snap, err = f.svc.SetPractitioner(ctx, snap.ID, f.practitioner.ID)
	require.NoError(t, err)
	snap, err = f.svc.AddProcedure(ctx, snap.ID, f.scaling.ID, 2)
	require.NoError(t, err)
	snap, err = f.svc.AddMedication(ctx, snap.ID, f.paracetamol.ID, 3)
	require.NoError(t, err)
	require.Equal(t, int64(435_000), snap.Totals.GrandTotal)

	f.validator.result = voucher.Result{Valid: true, DiscountAmount: 40_000, FinalAmount: 395_000}
	snap, err = f.svc.ApplyVoucher(ctx, snap.ID, "SAVE10")
	require.NoError(t, err)
	require.NotNil(t, snap.Voucher)
	require.Equal(t, "SAVE10", snap.Voucher.Code)
	require.Equal(t, int64(395_000), snap.Totals.GrandTotal)
	require.Equal(t, int64(40_000), snap.Totals.VoucherDiscount)
	// the commission base is untouched by the voucher
	require.Equal(t, int64(400_000), snap.Totals.NetProcedureAmount)
	require.Equal(t, int64(60_000), snap.Commission.Amount)

	// discount edits are refused while the voucher holds
	kind := pricing.DiscountFixedAmount
	value := int64(5_000)
	_, err = f.svc.UpdateProcedureLine(ctx, snap.ID, snap.Procedures[0].ID, billing.UpdateProcedureLineInput{
		DiscountKind:  &kind,
		DiscountValue: &value,
	})
	require.ErrorIs(t, err, billing.ErrDiscountVoucherConflict)

	snap, err = f.svc.RemoveVoucher(ctx, snap.ID)
	require.NoError(t, err)
	require.Nil(t, snap.Voucher)
	require.Equal(t, int64(435_000), snap.Totals.GrandTotal)
}

func TestVoucherRefusedOverManualDiscount(t *testing.T) {
	f := newFixture(t)
	snap := composeOrder(t, f)

	_, err := f.svc.ApplyVoucher(context.Background(), snap.ID, "SAVE10")
	require.ErrorIs(t, err, voucher.ErrManualDiscountConflict)
	require.Zero(t, f.validator.calls)
}

func TestVoucherRefusedWhenDiscountLandsMidValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)
	snap, err = f.svc.SetPractitioner(ctx, snap.ID, f.practitioner.ID)
	require.NoError(t, err)
	snap, err = f.svc.AddProcedure(ctx, snap.ID, f.scaling.ID, 2)
	require.NoError(t, err)
	sessionID := snap.ID
	lineID := snap.Procedures[0].ID

	// The discount edit lands while the validation call is in flight. The
	// voucher passed its pre-check, but the commit re-check must refuse it.
	f.validator.result = voucher.Result{Valid: true, DiscountAmount: 40_000, FinalAmount: 380_000}
	f.validator.during = func() {
		kind := pricing.DiscountPercentage
		value := int64(1000)
		_, err := f.svc.UpdateProcedureLine(ctx, sessionID, lineID, billing.UpdateProcedureLineInput{
			DiscountKind:  &kind,
			DiscountValue: &value,
		})
		require.NoError(t, err)
	}

	_, err = f.svc.ApplyVoucher(ctx, sessionID, "SAVE10")
	require.ErrorIs(t, err, voucher.ErrManualDiscountConflict)
	require.Equal(t, 1, f.validator.calls)

	snap, err = f.svc.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Nil(t, snap.Voucher)
	require.Equal(t, int64(40_000), snap.Totals.TotalDiscount)
	require.Equal(t, int64(380_000), snap.Totals.GrandTotal)
}

func TestVoucherFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)
	snap, err = f.svc.AddProcedure(ctx, snap.ID, f.scaling.ID, 1)
	require.NoError(t, err)

	f.validator.err = voucher.ErrServiceUnavailable
	_, err = f.svc.ApplyVoucher(ctx, snap.ID, "SAVE10")
	require.ErrorIs(t, err, voucher.ErrServiceUnavailable)

	snap, err = f.svc.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.Nil(t, snap.Voucher)
	require.Equal(t, int64(220_000), snap.Totals.GrandTotal)
}

func TestManualCommissionClearedOnSelectionChange(t *testing.T) {
	f := newFixture(t)
	snap := composeOrder(t, f)
	ctx := context.Background()

	manual := int64(2000)
	snap, err := f.svc.SetCommission(ctx, snap.ID, billing.SetCommissionInput{ManualPercentBps: &manual})
	require.NoError(t, err)
	require.True(t, snap.Commission.Manual)
	require.Equal(t, int64(72_000), snap.Commission.Amount)

	// a quantity change keeps the manual percentage and recomputes
	qty := 1
	snap, err = f.svc.UpdateProcedureLine(ctx, snap.ID, snap.Procedures[0].ID, billing.UpdateProcedureLineInput{Qty: &qty})
	require.NoError(t, err)
	require.True(t, snap.Commission.Manual)
	require.Equal(t, int64(180_000), snap.Totals.NetProcedureAmount)
	require.Equal(t, int64(36_000), snap.Commission.Amount)

	// adding a procedure returns to rule resolution
	snap, err = f.svc.AddProcedure(ctx, snap.ID, f.scaling.ID, 1)
	require.NoError(t, err)
	require.False(t, snap.Commission.Manual)
	require.Equal(t, commission.MatchPractitionerProcedure, snap.Commission.MatchType)
}

func TestExternalAmountVerbatim(t *testing.T) {
	f := newFixture(t)
	snap := composeOrder(t, f)

	external := int64(123_456)
	snap, err := f.svc.SetCommission(context.Background(), snap.ID, billing.SetCommissionInput{ExternalAmount: &external})
	require.NoError(t, err)
	require.True(t, snap.Commission.MultiRule)
	require.Equal(t, int64(123_456), snap.Commission.Amount)
	require.Nil(t, snap.Commission.PercentBps)
}

func TestSetCommissionRejectsBothOverrides(t *testing.T) {
	f := newFixture(t)
	snap := composeOrder(t, f)

	manual := int64(1500)
	external := int64(50_000)
	_, err := f.svc.SetCommission(context.Background(), snap.ID, billing.SetCommissionInput{
		ManualPercentBps: &manual,
		ExternalAmount:   &external,
	})
	require.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestMedicationStockIsBlocking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.AddMedication(ctx, snap.ID, f.paracetamol.ID, 11)
	require.ErrorIs(t, err, pricing.ErrInsufficientStock)

	snap, err = f.svc.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.Empty(t, snap.Medications)
}

func TestAdminFeeOverrideAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)
	snap, err = f.svc.AddProcedure(ctx, snap.ID, f.scaling.ID, 1)
	require.NoError(t, err)

	fee := pricing.Money(0)
	snap, err = f.svc.SetAdminFee(ctx, snap.ID, &fee)
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.Totals.AdministrativeFee)
	require.Equal(t, int64(200_000), snap.Totals.GrandTotal)

	snap, err = f.svc.SetAdminFee(ctx, snap.ID, nil)
	require.NoError(t, err)
	require.Equal(t, int64(20_000), snap.Totals.AdministrativeFee)

	negative := pricing.Money(-1)
	_, err = f.svc.SetAdminFee(ctx, snap.ID, &negative)
	require.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestFinalizePersistsAndRemovesSession(t *testing.T) {
	f := newFixture(t)
	snap := composeOrder(t, f)
	ctx := context.Background()

	order, err := f.svc.Finalize(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, snap.ID, order.SessionID)
	require.Equal(t, int64(395_000), order.Totals.GrandTotal)
	require.Equal(t, int64(54_000), order.Commission.Amount)
	require.Len(t, f.orders.saved, 1)

	var topics []string
	for _, ev := range f.eventStore.events {
		topics = append(topics, ev.Topic)
	}
	require.Contains(t, topics, events.TopicOrderFinalized)

	_, err = f.svc.Get(ctx, snap.ID)
	require.ErrorIs(t, err, billing.ErrSessionNotFound)

	stored, err := f.svc.Order(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, stored.ID)
}

func TestFinalizeEmptySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.Finalize(ctx, snap.ID)
	require.ErrorIs(t, err, billing.ErrEmptyOrder)
}

func TestUnknownReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, uuid.New())
	require.ErrorIs(t, err, billing.ErrSessionNotFound)

	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.AddProcedure(ctx, snap.ID, uuid.New(), 1)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = f.svc.RemoveProcedure(ctx, snap.ID, uuid.New())
	require.ErrorIs(t, err, billing.ErrLineNotFound)
}

func TestCommissionEmptyWithoutPractitioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.Create(ctx)
	require.NoError(t, err)
	snap, err = f.svc.AddProcedure(ctx, snap.ID, f.scaling.ID, 1)
	require.NoError(t, err)

	require.Nil(t, snap.Commission.PercentBps)
	require.Zero(t, snap.Commission.Amount)
	require.Empty(t, snap.Commission.MatchType)
}
