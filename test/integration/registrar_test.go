package integration_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campusgate/registrar/internal/adapters/memory"
	"github.com/campusgate/registrar/internal/analytics"
	"github.com/campusgate/registrar/internal/config"
	"github.com/campusgate/registrar/internal/coordinator"
	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/gateway"
	httphandler "github.com/campusgate/registrar/internal/http"
	"github.com/campusgate/registrar/internal/ledger"
	"github.com/campusgate/registrar/internal/observability"
	"github.com/campusgate/registrar/internal/tracker"
)

const gatewaySecret = "it_test_secret"

// fakeProvider stands in for the payment gateway: it issues order refs and
// signs confirmations the way the real provider does.
type fakeProvider struct {
	mu     sync.Mutex
	orders int
}

func (p *fakeProvider) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" {
			http.NotFound(w, r)
			return
		}
		p.mu.Lock()
		p.orders++
		ref := fmt.Sprintf("order_it_%d", p.orders)
		p.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": ref})
	})
}

func sign(orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(gatewaySecret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

type recordingIncidents struct {
	mu      sync.Mutex
	records []string
}

func (r *recordingIncidents) RecordPaidUnseated(ctx context.Context, order domain.PaymentOrder, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, "paid_unseated:"+reason)
	return nil
}

func (r *recordingIncidents) RecordRefundDue(ctx context.Context, order domain.PaymentOrder, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, "refund_due:"+reason)
	return nil
}

type env struct {
	store     *memory.Store
	tracker   *tracker.Tracker
	incidents *recordingIncidents
	api       *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()

	provider := &fakeProvider{}
	psp := httptest.NewServer(provider.handler())
	t.Cleanup(psp.Close)

	cfg := &config.Config{
		GatewayBaseURL: psp.URL,
		GatewayKeyID:   "it_test_key",
		GatewaySecret:  gatewaySecret,
		GatewayTimeout: 5 * time.Second,
		OrderTTL:       15 * time.Minute,
		PlatformFeeBps: 200,
	}

	store := memory.NewStore()
	logger := observability.NewLogger()
	psc := gateway.NewClient(cfg)
	lg := ledger.New(store)
	tr := tracker.New(store, psc, cfg.OrderTTL, cfg.PlatformFeeBps, logger)
	incidents := &recordingIncidents{}
	coord := coordinator.New(store, lg, tr, incidents, logger)
	agg := analytics.New(lg, nil, nil, logger)
	h := httphandler.NewHandlers(cfg, coord, lg, agg, store, psc, nil, nil, nil, logger)

	api := httptest.NewServer(httphandler.SetupRouter(h, logger, nil))
	t.Cleanup(api.Close)

	return &env{store: store, tracker: tr, incidents: incidents, api: api}
}

func (e *env) addEvent(capacity *int, price int64) domain.Event {
	ev := domain.Event{
		ID:             uuid.New(),
		OrganisationID: uuid.New(),
		Title:          "Spring Fest",
		Venue:          "Main Grounds",
		Price:          price,
		Capacity:       capacity,
		Deadline:       time.Now().Add(time.Hour),
		CreatedAt:      time.Now().UTC(),
	}
	e.store.AddEvent(ev)
	return ev
}

func (e *env) request(t *testing.T, method, path string, userID uuid.UUID, body interface{}) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.api.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if userID != uuid.Nil {
		req.Header.Set("X-User-ID", userID.String())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp.StatusCode, out.Bytes()
}

func intPtr(v int) *int { return &v }

func TestIntegration_FreeRegistration(t *testing.T) {
	e := newEnv(t)
	ev := e.addEvent(intPtr(2), 0)
	userID := uuid.New()
	path := "/v1/events/" + ev.ID.String() + "/registrations"

	code, body := e.request(t, http.MethodPost, path, userID, nil)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", code, body)
	}
	code, _ = e.request(t, http.MethodPost, path, userID, nil)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", code)
	}

	code, body = e.request(t, http.MethodGet, "/v1/events/"+ev.ID.String()+"/analytics", uuid.Nil, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var snap struct {
		AttendeeCount int `json:"attendee_count"`
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.AttendeeCount != 1 {
		t.Fatalf("expected 1 attendee, got %d", snap.AttendeeCount)
	}
}

func TestIntegration_PaidRegistration(t *testing.T) {
	e := newEnv(t)
	ev := e.addEvent(intPtr(10), 50000)
	userID := uuid.New()

	code, body := e.request(t, http.MethodPost, "/v1/payments/orders", userID, map[string]interface{}{"event_id": ev.ID})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	var order struct {
		OrderID         uuid.UUID `json:"order_id"`
		GatewayOrderRef string    `json:"gateway_order_ref"`
		Amount          int64     `json:"amount"`
	}
	if err := json.Unmarshal(body, &order); err != nil {
		t.Fatal(err)
	}
	if order.Amount != 50000 {
		t.Fatalf("expected amount 50000, got %d", order.Amount)
	}

	callback := map[string]interface{}{
		"order_id":            order.OrderID,
		"gateway_order_ref":   order.GatewayOrderRef,
		"gateway_payment_ref": "pay_it_1",
		"signature":           sign(order.GatewayOrderRef, "pay_it_1"),
		"status":              "paid",
	}
	code, body = e.request(t, http.MethodPost, "/v1/payments/callback", uuid.Nil, callback)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	var result struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.Outcome != string(domain.Seated) {
		t.Fatalf("expected seated, got %q", result.Outcome)
	}

	// Webhook replay: acked, no second seat.
	code, _ = e.request(t, http.MethodPost, "/v1/payments/callback", uuid.Nil, callback)
	if code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", code)
	}
	count, _ := e.store.CountAttendees(context.Background(), ev.ID)
	if count != 1 {
		t.Fatalf("expected one seat, got %d", count)
	}

	// Forged signature: rejected before any state is touched.
	callback["gateway_payment_ref"] = "pay_it_2"
	callback["signature"] = "forged"
	code, _ = e.request(t, http.MethodPost, "/v1/payments/callback", uuid.Nil, callback)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for forged signature, got %d", code)
	}
}

func TestIntegration_PaidUnseatedEscalation(t *testing.T) {
	e := newEnv(t)
	ev := e.addEvent(intPtr(1), 30000)
	payer := uuid.New()

	code, body := e.request(t, http.MethodPost, "/v1/payments/orders", payer, map[string]interface{}{"event_id": ev.ID})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	var order struct {
		OrderID         uuid.UUID `json:"order_id"`
		GatewayOrderRef string    `json:"gateway_order_ref"`
	}
	if err := json.Unmarshal(body, &order); err != nil {
		t.Fatal(err)
	}

	// A rival completes payment for the last seat while the payer is still
	// at checkout.
	rival := uuid.New()
	code, body = e.request(t, http.MethodPost, "/v1/payments/orders", rival, map[string]interface{}{"event_id": ev.ID})
	if code != http.StatusOK {
		t.Fatalf("expected 200 for rival order, got %d: %s", code, body)
	}
	var rivalOrder struct {
		OrderID         uuid.UUID `json:"order_id"`
		GatewayOrderRef string    `json:"gateway_order_ref"`
	}
	if err := json.Unmarshal(body, &rivalOrder); err != nil {
		t.Fatal(err)
	}
	code, _ = e.request(t, http.MethodPost, "/v1/payments/callback", uuid.Nil, map[string]interface{}{
		"order_id":            rivalOrder.OrderID,
		"gateway_order_ref":   rivalOrder.GatewayOrderRef,
		"gateway_payment_ref": "pay_rival",
		"signature":           sign(rivalOrder.GatewayOrderRef, "pay_rival"),
		"status":              "paid",
	})
	if code != http.StatusOK {
		t.Fatalf("expected rival seated, got %d", code)
	}

	// The payer's confirmation lands after the event filled.
	code, body = e.request(t, http.MethodPost, "/v1/payments/callback", uuid.Nil, map[string]interface{}{
		"order_id":            order.OrderID,
		"gateway_order_ref":   order.GatewayOrderRef,
		"gateway_payment_ref": "pay_late",
		"signature":           sign(order.GatewayOrderRef, "pay_late"),
		"status":              "paid",
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", code)
	}
	var result struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.Outcome != string(domain.PaidUnseated) {
		t.Fatalf("expected paid_unseated, got %q", result.Outcome)
	}

	got, err := e.tracker.Order(context.Background(), order.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderPaid || got.Seated || !got.RefundDue {
		t.Fatalf("expected paid refund-due order, got %+v", got)
	}
	if len(e.incidents.records) != 1 {
		t.Fatalf("expected one incident, got %v", e.incidents.records)
	}
}

func TestIntegration_CapacityUnderConcurrentLoad(t *testing.T) {
	e := newEnv(t)
	ev := e.addEvent(intPtr(5), 0)
	path := "/v1/events/" + ev.ID.String() + "/registrations"

	const callers = 25
	codes := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, _ := e.request(t, http.MethodPost, path, uuid.New(), nil)
			codes[i] = code
		}(i)
	}
	wg.Wait()

	created, conflict := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflict++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if created != 5 || conflict != 20 {
		t.Fatalf("expected 5 created and 20 conflicts, got %d and %d", created, conflict)
	}

	count, _ := e.store.CountAttendees(context.Background(), ev.ID)
	if count != 5 {
		t.Fatalf("expected 5 seats, got %d", count)
	}
}
