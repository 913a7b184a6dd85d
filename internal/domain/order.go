package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderCreated OrderStatus = "CREATED"
	OrderPaid    OrderStatus = "PAID"
	OrderFailed  OrderStatus = "FAILED"
	OrderExpired OrderStatus = "EXPIRED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderFailed || s == OrderExpired
}

// PaymentOrder tracks one external payment attempt. Status only ever moves
// forward: CREATED to exactly one of PAID, FAILED or EXPIRED. Amounts are in
// paise. PlatformFee and OrgShare are fixed at creation time and consumed by
// an external settlement process.
type PaymentOrder struct {
	ID                uuid.UUID
	GatewayOrderRef   string
	GatewayPaymentRef string
	EventID           uuid.UUID
	UserID            uuid.UUID
	OrganisationID    uuid.UUID
	Amount            int64
	Currency          string
	PlatformFee       int64
	OrgShare          int64
	Receipt           string
	Status            OrderStatus
	Seated            bool
	RefundDue         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewPaymentOrder(ev Event, userID uuid.UUID, gatewayOrderRef, receipt string, feeBps int) PaymentOrder {
	fee := ev.Price * int64(feeBps) / 10000
	now := time.Now().UTC()
	return PaymentOrder{
		ID:              uuid.New(),
		GatewayOrderRef: gatewayOrderRef,
		EventID:         ev.ID,
		UserID:          userID,
		OrganisationID:  ev.OrganisationID,
		Amount:          ev.Price,
		Currency:        "INR",
		PlatformFee:     fee,
		OrgShare:        ev.Price - fee,
		Receipt:         receipt,
		Status:          OrderCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewReceipt mints the human-facing booking code used as the idempotency key
// for a single order attempt.
func NewReceipt() string {
	return "REG-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
