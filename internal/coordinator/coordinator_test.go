package coordinator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/campusgate/registrar/internal/adapters/memory"
	"github.com/campusgate/registrar/internal/coordinator"
	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/ledger"
	"github.com/campusgate/registrar/internal/observability"
	"github.com/campusgate/registrar/internal/tracker"
)

type fakeGateway struct {
	calls int
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	g.calls++
	return fmt.Sprintf("order_gw_%d", g.calls), nil
}

type recordedIncident struct {
	kind    string
	orderID uuid.UUID
	reason  string
}

type fakeIncidents struct {
	records []recordedIncident
}

func (f *fakeIncidents) RecordPaidUnseated(ctx context.Context, order domain.PaymentOrder, reason string) error {
	f.records = append(f.records, recordedIncident{kind: "paid_unseated", orderID: order.ID, reason: reason})
	return nil
}

func (f *fakeIncidents) RecordRefundDue(ctx context.Context, order domain.PaymentOrder, reason string) error {
	f.records = append(f.records, recordedIncident{kind: "refund_due", orderID: order.ID, reason: reason})
	return nil
}

type fixture struct {
	store     *memory.Store
	ledger    *ledger.Ledger
	tracker   *tracker.Tracker
	incidents *fakeIncidents
	coord     *coordinator.Coordinator
}

func newFixture() *fixture {
	store := memory.NewStore()
	logger := observability.NewLogger()
	lg := ledger.New(store)
	tr := tracker.New(store, &fakeGateway{}, 15*time.Minute, 200, logger)
	incidents := &fakeIncidents{}
	return &fixture{
		store:     store,
		ledger:    lg,
		tracker:   tr,
		incidents: incidents,
		coord:     coordinator.New(store, lg, tr, incidents, logger),
	}
}

func addEvent(store *memory.Store, capacity *int, price int64) domain.Event {
	ev := domain.Event{
		ID:             uuid.New(),
		OrganisationID: uuid.New(),
		Title:          "Annual Cultural Night",
		Venue:          "Open Grounds",
		Price:          price,
		Capacity:       capacity,
		Deadline:       time.Now().Add(time.Hour),
		CreatedAt:      time.Now().UTC(),
	}
	store.AddEvent(ev)
	return ev
}

func intPtr(v int) *int { return &v }

func TestRegister_FreeEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(2), 0)
	userID := uuid.New()

	outcome, err := f.coord.Register(ctx, ev.ID, userID)
	if err != nil || outcome != domain.Admitted {
		t.Fatalf("expected admitted, got %q, %v", outcome, err)
	}
	outcome, err = f.coord.Register(ctx, ev.ID, userID)
	if err != nil || outcome != domain.AlreadyRegistered {
		t.Fatalf("expected already registered, got %q, %v", outcome, err)
	}
}

func TestRegister_PaidEventRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, nil, 50000)

	_, err := f.coord.Register(ctx, ev.ID, uuid.New())
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for paid event, got %v", err)
	}
}

func TestRegister_UnknownEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	outcome, err := f.coord.Register(ctx, uuid.New(), uuid.New())
	if err != nil || outcome != domain.EventNotFound {
		t.Fatalf("expected event not found, got %q, %v", outcome, err)
	}
}

func TestPaidFlow_Seated(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(10), 50000)
	userID := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := f.coord.ConfirmPayment(ctx, order.ID, "pay_001")
	if err != nil || outcome != domain.Seated {
		t.Fatalf("expected seated, got %q, %v", outcome, err)
	}

	registered, _ := f.ledger.Registered(ctx, ev.ID, userID)
	if !registered {
		t.Fatal("expected user to hold a seat")
	}
	got, _ := f.tracker.Order(ctx, order.ID)
	if got.Status != domain.OrderPaid || !got.Seated {
		t.Fatalf("expected paid and seated order, got %s seated=%v", got.Status, got.Seated)
	}
}

func TestConfirmPayment_DuplicateWebhook(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(10), 50000)
	userID := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if err != nil {
		t.Fatal(err)
	}

	if outcome, _ := f.coord.ConfirmPayment(ctx, order.ID, "pay_dup"); outcome != domain.Seated {
		t.Fatalf("expected seated on first delivery, got %q", outcome)
	}
	outcome, err := f.coord.ConfirmPayment(ctx, order.ID, "pay_dup")
	if err != nil || outcome != domain.AlreadyProcessed {
		t.Fatalf("expected already processed on replay, got %q, %v", outcome, err)
	}

	count, _ := f.store.CountAttendees(ctx, ev.ID)
	if count != 1 {
		t.Fatalf("replayed webhook must not create a second seat, got %d", count)
	}
}

func TestConfirmPayment_PaidUnseated(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(1), 50000)
	payer := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, payer)
	if err != nil {
		t.Fatal(err)
	}

	// The last seat goes to someone else while the payer is at the
	// gateway checkout.
	if outcome, _ := f.ledger.TryAdmit(ctx, ev.ID, uuid.New()); outcome != domain.Admitted {
		t.Fatalf("expected rival admitted, got %q", outcome)
	}

	outcome, err := f.coord.ConfirmPayment(ctx, order.ID, "pay_full")
	if err != nil || outcome != domain.PaidUnseated {
		t.Fatalf("expected paid unseated, got %q, %v", outcome, err)
	}

	got, _ := f.tracker.Order(ctx, order.ID)
	if got.Status != domain.OrderPaid || got.Seated || !got.RefundDue {
		t.Fatalf("expected paid, unseated, refund-due order, got %+v", got)
	}
	if len(f.incidents.records) != 1 || f.incidents.records[0].kind != "paid_unseated" {
		t.Fatalf("expected one paid_unseated incident, got %+v", f.incidents.records)
	}
	if registered, _ := f.ledger.Registered(ctx, ev.ID, payer); registered {
		t.Fatal("payer must not hold a seat")
	}
}

func TestConfirmPayment_ReplayAfterUnseated(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(1), 50000)

	order, err := f.coord.InitiatePayment(ctx, ev.ID, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if outcome, _ := f.ledger.TryAdmit(ctx, ev.ID, uuid.New()); outcome != domain.Admitted {
		t.Fatal("expected rival admitted")
	}
	if outcome, _ := f.coord.ConfirmPayment(ctx, order.ID, "pay_x"); outcome != domain.PaidUnseated {
		t.Fatal("expected paid unseated")
	}

	// The provider retries; the escalation must not repeat.
	outcome, err := f.coord.ConfirmPayment(ctx, order.ID, "pay_x")
	if err != nil || outcome != domain.AlreadyProcessed {
		t.Fatalf("expected already processed, got %q, %v", outcome, err)
	}
	if len(f.incidents.records) != 1 {
		t.Fatalf("expected a single incident, got %d", len(f.incidents.records))
	}
}

func TestConfirmPayment_RecoversUnfinishedSeating(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(5), 50000)
	userID := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a crash after the status flip but before seating.
	if res, _ := f.tracker.MarkPaid(ctx, order.ID, "pay_crash"); res != domain.Confirmed {
		t.Fatal("expected confirmed")
	}

	outcome, err := f.coord.ConfirmPayment(ctx, order.ID, "pay_crash")
	if err != nil || outcome != domain.Seated {
		t.Fatalf("expected replay to finish seating, got %q, %v", outcome, err)
	}
	if registered, _ := f.ledger.Registered(ctx, ev.ID, userID); !registered {
		t.Fatal("expected user seated after recovery")
	}
}

func TestConfirmPayment_ReplayAfterSeatInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(5), 50000)
	userID := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a crash after the seat insert but before the order's seated
	// flag: the seat row exists and carries this order's id.
	if res, _ := f.tracker.MarkPaid(ctx, order.ID, "pay_crash2"); res != domain.Confirmed {
		t.Fatal("expected confirmed")
	}
	if outcome, _ := f.ledger.AdmitPaid(ctx, ev.ID, userID, order.ID, order.Receipt); outcome != domain.Admitted {
		t.Fatal("expected seat insert to succeed")
	}

	outcome, err := f.coord.ConfirmPayment(ctx, order.ID, "pay_crash2")
	if err != nil || outcome != domain.Seated {
		t.Fatalf("expected replay to finish with seated, got %q, %v", outcome, err)
	}

	got, _ := f.tracker.Order(ctx, order.ID)
	if !got.Seated || got.RefundDue {
		t.Fatalf("expected seated order without refund flag, got seated=%v refund=%v", got.Seated, got.RefundDue)
	}
	if len(f.incidents.records) != 0 {
		t.Fatalf("the order owns its seat, no incident expected, got %+v", f.incidents.records)
	}
	count, _ := f.store.CountAttendees(ctx, ev.ID)
	if count != 1 {
		t.Fatalf("expected a single seat, got %d", count)
	}

	if outcome, _ := f.coord.ConfirmPayment(ctx, order.ID, "pay_crash2"); outcome != domain.AlreadyProcessed {
		t.Fatalf("expected already processed on second replay, got %q", outcome)
	}
}

func TestConfirmPayment_PaidAfterLocalFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(5), 50000)
	userID := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if err != nil {
		t.Fatal(err)
	}

	// The order is recorded failed locally, then a verified paid
	// confirmation for it arrives anyway: the money moved, so the order
	// must land in the refund queue, never be silently dropped.
	if res, _ := f.coord.FailPayment(ctx, order.ID); res != domain.Confirmed {
		t.Fatal("expected failure recorded")
	}

	outcome, err := f.coord.ConfirmPayment(ctx, order.ID, "pay_late")
	if err != nil || outcome != domain.PaidUnseated {
		t.Fatalf("expected paid unseated, got %q, %v", outcome, err)
	}

	got, _ := f.tracker.Order(ctx, order.ID)
	if got.Status != domain.OrderFailed || !got.RefundDue {
		t.Fatalf("expected failed order with refund flag, got %+v", got)
	}
	if len(f.incidents.records) != 1 || f.incidents.records[0].kind != "paid_unseated" {
		t.Fatalf("expected one paid_unseated incident, got %+v", f.incidents.records)
	}
	if f.incidents.records[0].reason != "confirmed_after_failed" {
		t.Fatalf("unexpected incident reason %q", f.incidents.records[0].reason)
	}
	if registered, _ := f.ledger.Registered(ctx, ev.ID, userID); registered {
		t.Fatal("user must not hold a seat")
	}

	// The provider retries; the escalation must not repeat.
	if outcome, _ := f.coord.ConfirmPayment(ctx, order.ID, "pay_late"); outcome != domain.AlreadyProcessed {
		t.Fatalf("expected already processed on replay, got %q", outcome)
	}
	if len(f.incidents.records) != 1 {
		t.Fatalf("expected a single incident, got %d", len(f.incidents.records))
	}
}

func TestInitiatePayment_DuplicatePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, nil, 50000)
	userID := uuid.New()

	if _, err := f.coord.InitiatePayment(ctx, ev.ID, userID); err != nil {
		t.Fatal(err)
	}
	_, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if !errors.Is(err, domain.ErrDuplicatePendingOrder) {
		t.Fatalf("expected duplicate pending order, got %v", err)
	}
}

func TestInitiatePayment_AlreadySeated(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, nil, 50000)
	userID := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if err != nil {
		t.Fatal(err)
	}
	if outcome, _ := f.coord.ConfirmPayment(ctx, order.ID, "pay_1"); outcome != domain.Seated {
		t.Fatal("expected seated")
	}

	_, err = f.coord.InitiatePayment(ctx, ev.ID, userID)
	if !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
}

func TestInitiatePayment_FreeEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, nil, 0)

	_, err := f.coord.InitiatePayment(ctx, ev.ID, uuid.New())
	if !errors.Is(err, domain.ErrEventNotPayable) {
		t.Fatalf("expected event not payable, got %v", err)
	}
}

func TestCancelRegistration_PaidRefundLinkage(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, nil, 50000)
	userID := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if err != nil {
		t.Fatal(err)
	}
	if outcome, _ := f.coord.ConfirmPayment(ctx, order.ID, "pay_cancel"); outcome != domain.Seated {
		t.Fatal("expected seated")
	}

	outcome, err := f.coord.CancelRegistration(ctx, ev.ID, userID)
	if err != nil || outcome != domain.Removed {
		t.Fatalf("expected removed, got %q, %v", outcome, err)
	}

	got, _ := f.tracker.Order(ctx, order.ID)
	if !got.RefundDue {
		t.Fatal("expected refund flag on cancelled paid order")
	}
	if len(f.incidents.records) != 1 || f.incidents.records[0].kind != "refund_due" {
		t.Fatalf("expected one refund_due incident, got %+v", f.incidents.records)
	}
}

func TestCancelRegistration_FreeEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, nil, 0)
	userID := uuid.New()

	if _, err := f.coord.Register(ctx, ev.ID, userID); err != nil {
		t.Fatal(err)
	}
	outcome, err := f.coord.CancelRegistration(ctx, ev.ID, userID)
	if err != nil || outcome != domain.Removed {
		t.Fatalf("expected removed, got %q, %v", outcome, err)
	}
	outcome, err = f.coord.CancelRegistration(ctx, ev.ID, userID)
	if err != nil || outcome != domain.NotRegistered {
		t.Fatalf("expected not registered, got %q, %v", outcome, err)
	}
	if len(f.incidents.records) != 0 {
		t.Fatalf("free cancellation must not record incidents, got %+v", f.incidents.records)
	}
}

type failingEventReader struct{}

func (failingEventReader) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	return nil, errors.New("store unavailable")
}

// recordingLogger counts error-level lines so tests can assert a failure was
// surfaced rather than swallowed.
type recordingLogger struct {
	errorLines *int
}

func (l recordingLogger) Info(args ...interface{})  {}
func (l recordingLogger) Debug(args ...interface{}) {}
func (l recordingLogger) Warn(args ...interface{})  {}
func (l recordingLogger) Error(args ...interface{}) { *l.errorLines++ }
func (l recordingLogger) WithField(key string, value interface{}) observability.Logger {
	return l
}
func (l recordingLogger) WithError(err error) observability.Logger { return l }

func TestCancelRegistration_EventLookupFailureLogged(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	errorLines := 0
	logger := recordingLogger{errorLines: &errorLines}
	lg := ledger.New(store)
	tr := tracker.New(store, &fakeGateway{}, 15*time.Minute, 200, logger)
	coord := coordinator.New(failingEventReader{}, lg, tr, &fakeIncidents{}, logger)

	ev := addEvent(store, nil, 0)
	userID := uuid.New()
	if outcome, _ := lg.TryAdmit(ctx, ev.ID, userID); outcome != domain.Admitted {
		t.Fatal("expected seat for setup")
	}

	// The withdrawal itself succeeds; the follow-up event lookup for refund
	// linkage fails and must be logged, not silently dropped.
	outcome, err := coord.CancelRegistration(ctx, ev.ID, userID)
	if err != nil || outcome != domain.Removed {
		t.Fatalf("expected removed, got %q, %v", outcome, err)
	}
	if errorLines == 0 {
		t.Fatal("expected the event lookup failure to be logged")
	}
}

func TestNoFreeRiding(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, intPtr(5), 30000)

	for i := 0; i < 3; i++ {
		userID := uuid.New()
		order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
		if err != nil {
			t.Fatal(err)
		}
		if outcome, _ := f.coord.ConfirmPayment(ctx, order.ID, fmt.Sprintf("pay_%d", i)); outcome != domain.Seated {
			t.Fatalf("expected seated for user %d", i)
		}
	}

	snap, err := f.ledger.Snapshot(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, attendee := range snap.AttendeeIDs {
		order, err := f.tracker.PaidOrder(ctx, ev.ID, attendee)
		if err != nil {
			t.Fatalf("attendee %s has no paid order: %v", attendee, err)
		}
		if order.Status != domain.OrderPaid {
			t.Fatalf("backing order not paid: %s", order.Status)
		}
	}
}

func TestOutboxRecordsWritten(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := addEvent(f.store, nil, 50000)
	userID := uuid.New()

	order, err := f.coord.InitiatePayment(ctx, ev.ID, userID)
	if err != nil {
		t.Fatal(err)
	}
	if outcome, _ := f.coord.ConfirmPayment(ctx, order.ID, "pay_out"); outcome != domain.Seated {
		t.Fatal("expected seated")
	}

	types := map[string]bool{}
	for _, rec := range f.store.Outbox() {
		types[rec.EventType] = true
	}
	if !types["order.paid"] || !types["registration.admitted"] {
		t.Fatalf("expected paid and admitted outbox records, got %v", types)
	}
}
