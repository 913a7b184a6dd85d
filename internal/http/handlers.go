package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	mongoadapter "github.com/campusgate/registrar/internal/adapters/mongo"
	"github.com/campusgate/registrar/internal/analytics"
	"github.com/campusgate/registrar/internal/config"
	"github.com/campusgate/registrar/internal/coordinator"
	"github.com/campusgate/registrar/internal/domain"
	"github.com/campusgate/registrar/internal/ledger"
	"github.com/campusgate/registrar/internal/observability"
)

const paymentRefTTL = 24 * time.Hour

type EventStore interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
}

// Verifier checks the gateway's callback signature before any state is
// touched.
type Verifier interface {
	VerifySignature(orderRef, paymentRef, signature string) bool
}

// RefCache is the webhook fast-path dedupe. A reference is marked only after
// its callback is fully processed; the tracker stays authoritative for
// replays that slip past the cache.
type RefCache interface {
	MarkPaymentRef(ctx context.Context, ref string, ttl time.Duration) (bool, error)
	SeenPaymentRef(ctx context.Context, ref string) (bool, error)
}

type Handlers struct {
	cfg      *config.Config
	coord    *coordinator.Coordinator
	ledger   *ledger.Ledger
	agg      *analytics.Aggregator
	events   EventStore
	verifier Verifier
	refs     RefCache
	opsLog   *mongoadapter.OpsLog
	rosters  *mongoadapter.RosterStore
	validate *validator.Validate
	logger   observability.Logger
}

func NewHandlers(cfg *config.Config, coord *coordinator.Coordinator, lg *ledger.Ledger, agg *analytics.Aggregator, events EventStore, verifier Verifier, refs RefCache, opsLog *mongoadapter.OpsLog, rosters *mongoadapter.RosterStore, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		coord:    coord,
		ledger:   lg,
		agg:      agg,
		events:   events,
		verifier: verifier,
		refs:     refs,
		opsLog:   opsLog,
		rosters:  rosters,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	outcome, err := h.coord.Register(r.Context(), eventID, userID)
	if errors.Is(err, domain.ErrInvalidInput) {
		http.Error(w, "event requires payment, initiate a payment order", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	switch outcome {
	case domain.Admitted:
		writeJSON(w, http.StatusCreated, map[string]interface{}{"outcome": outcome})
	case domain.AlreadyRegistered:
		http.Error(w, "already registered for this event", http.StatusConflict)
	case domain.Full:
		http.Error(w, "registration is full for this event", http.StatusConflict)
	case domain.RegistrationClosed:
		http.Error(w, "registration is closed for this event", http.StatusConflict)
	case domain.EventNotFound:
		http.Error(w, "event not found", http.StatusNotFound)
	}
}

func (h *Handlers) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	outcome, err := h.coord.CancelRegistration(r.Context(), eventID, userID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	switch outcome {
	case domain.Removed:
		writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": outcome})
	case domain.NotRegistered:
		http.Error(w, "not registered for this event", http.StatusBadRequest)
	case domain.WithdrawNotFound:
		http.Error(w, "event not found", http.StatusNotFound)
	}
}

type initiatePaymentRequest struct {
	EventID uuid.UUID `json:"event_id" validate:"required"`
}

func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	order, err := h.coord.InitiatePayment(r.Context(), req.EventID, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "event not found", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrEventNotPayable):
		http.Error(w, "event is free, register directly", http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrDuplicatePendingOrder):
		http.Error(w, "a pending order already exists, complete or abandon it first", http.StatusConflict)
		return
	case errors.Is(err, domain.ErrAlreadyRegistered):
		http.Error(w, "already registered for this event", http.StatusConflict)
		return
	case errors.Is(err, domain.ErrRegistrationClosed):
		http.Error(w, "registration is closed for this event", http.StatusConflict)
		return
	case errors.Is(err, domain.ErrGatewayUnavailable):
		http.Error(w, "payment provider unavailable, try again", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":          order.ID,
		"gateway_order_ref": order.GatewayOrderRef,
		"amount":            order.Amount,
		"currency":          order.Currency,
		"receipt":           order.Receipt,
		"key_id":            h.cfg.GatewayKeyID,
	})
}

type paymentCallbackRequest struct {
	OrderID           uuid.UUID `json:"order_id" validate:"required"`
	GatewayOrderRef   string    `json:"gateway_order_ref" validate:"required"`
	GatewayPaymentRef string    `json:"gateway_payment_ref"`
	Signature         string    `json:"signature"`
	Status            string    `json:"status" validate:"required,oneof=paid failed"`
}

// PaymentCallback handles both provider webhooks and verified client
// confirmations. Every report is signed, failure reports included; nothing
// reaches the coordinator on an unverified payload. Once the payload is
// authentic it always acks 200 so the provider stops retrying processed
// events; the business outcome is logged and published, never turned into a
// retriable error code.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.verifier.VerifySignature(req.GatewayOrderRef, req.GatewayPaymentRef, req.Signature) {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if req.Status == "failed" {
		res, err := h.coord.FailPayment(r.Context(), req.OrderID)
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": res})
		return
	}

	if req.GatewayPaymentRef == "" {
		http.Error(w, "missing payment reference", http.StatusBadRequest)
		return
	}

	if h.refs != nil {
		seen, err := h.refs.SeenPaymentRef(r.Context(), req.GatewayPaymentRef)
		if err != nil {
			h.logger.Warn("payment ref cache lookup failed: ", err)
		} else if seen {
			writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": domain.AlreadyProcessed})
			return
		}
	}

	outcome, err := h.coord.ConfirmPayment(r.Context(), req.OrderID, req.GatewayPaymentRef)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	if h.refs != nil {
		// Marked only after processing completes, so a crash mid-way leaves
		// the replay free to finish the work.
		if _, err := h.refs.MarkPaymentRef(r.Context(), req.GatewayPaymentRef, paymentRefTTL); err != nil {
			h.logger.Warn("failed to mark payment ref: ", err)
		}
	}

	h.logger.WithField("order_id", req.OrderID).WithField("outcome", string(outcome)).Info("payment callback processed")
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcome": outcome})
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	ev, err := h.events.GetEvent(r.Context(), eventID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"event": ev})
}

func (h *Handlers) EventAnalytics(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	snap, err := h.agg.Snapshot(r.Context(), eventID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":       snap.EventID,
		"attendee_count": snap.AttendeeCount,
		"capacity":       snap.Capacity,
		"attendee_ids":   snap.AttendeeIDs,
	})
}

func (h *Handlers) UserRegistrations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUUID(w, r, "userID")
	if !ok {
		return
	}
	seats, err := h.ledger.RegisteredEvents(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"registrations": seats})
}

// OpsIncidents lists unresolved paid-unseated and refund incidents for the
// operations dashboard.
func (h *Handlers) OpsIncidents(w http.ResponseWriter, r *http.Request) {
	if h.opsLog == nil {
		http.Error(w, "incident log not configured", http.StatusServiceUnavailable)
		return
	}
	incidents, err := h.opsLog.Unresolved(r.Context(), 100)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents})
}

// EventRoster serves the organizer-facing roster document maintained by the
// analytics aggregator.
func (h *Handlers) EventRoster(w http.ResponseWriter, r *http.Request) {
	if h.rosters == nil {
		http.Error(w, "rosters not configured", http.StatusServiceUnavailable)
		return
	}
	eventID, ok := h.pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	roster, err := h.rosters.Get(r.Context(), eventID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "roster not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roster": roster})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

// userID reads the authenticated user set by the auth layer in front of this
// service; the core trusts it.
func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		http.Error(w, "missing or invalid X-User-ID", http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithField("path", r.URL.Path).Error(err)
	if errors.Is(err, domain.ErrSerializationFailure) {
		http.Error(w, "conflict, try again", http.StatusConflict)
		return
	}
	http.Error(w, "internal error, try again", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
