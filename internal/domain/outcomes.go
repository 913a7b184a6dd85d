package domain

// Typed outcomes for expected business states. Only infrastructure failures
// travel as errors; these are mapped to transport status codes at the HTTP
// boundary and nowhere else.

type AdmitOutcome string

const (
	Admitted           AdmitOutcome = "admitted"
	AlreadyRegistered  AdmitOutcome = "already_registered"
	Full               AdmitOutcome = "full"
	RegistrationClosed AdmitOutcome = "registration_closed"
	EventNotFound      AdmitOutcome = "event_not_found"
)

type WithdrawOutcome string

const (
	Removed          WithdrawOutcome = "removed"
	NotRegistered    WithdrawOutcome = "not_registered"
	WithdrawNotFound WithdrawOutcome = "event_not_found"
)

type FinalizeOutcome string

const (
	Confirmed        FinalizeOutcome = "confirmed"
	AlreadyFinalized FinalizeOutcome = "already_finalized"
	OrderNotFound    FinalizeOutcome = "order_not_found"
)

// ConfirmOutcome is the internal result of processing a payment
// confirmation. PaidUnseated is terminal but exceptional: the payment
// succeeded and no seat could be granted, so the order is flagged for refund
// and escalated to operators rather than surfaced as a user failure.
type ConfirmOutcome string

const (
	Seated           ConfirmOutcome = "seated"
	PaidUnseated     ConfirmOutcome = "paid_unseated"
	AlreadyProcessed ConfirmOutcome = "already_processed"
	ConfirmNotFound  ConfirmOutcome = "order_not_found"
)
