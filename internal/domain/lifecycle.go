package domain

// Status is a transaction lifecycle state.
type Status string

const (
	StatusCreated                    Status = "CREATED"
	StatusPendingPayment             Status = "PENDING_PAYMENT"
	StatusPaymentReceived            Status = "PAYMENT_RECEIVED"
	StatusPaymentFailed              Status = "PAYMENT_FAILED"
	StatusPayoutInitiated            Status = "PAYOUT_INITIATED"
	StatusPayoutProcessing           Status = "PAYOUT_PROCESSING"
	StatusPayoutSuccess              Status = "PAYOUT_SUCCESS"
	StatusPayoutFailed               Status = "PAYOUT_FAILED"
	StatusRefunded                   Status = "REFUNDED"
	StatusCancelled                  Status = "CANCELLED"
	StatusAuthorizationExpired       Status = "AUTHORIZATION_EXPIRED"
	StatusPayoutCompensationRequired Status = "PAYOUT_COMPENSATION_REQUIRED"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventPaymentAuthorized     Event = "PAYMENT_AUTHORIZED"
	EventPaymentCaptured       Event = "PAYMENT_CAPTURED"
	EventPaymentFailed         Event = "PAYMENT_FAILED"
	EventPayoutInitiated       Event = "PAYOUT_INITIATED"
	EventPayoutConfirmed       Event = "PAYOUT_CONFIRMED"
	EventPayoutFailed          Event = "PAYOUT_FAILED"
	EventRefundRequested       Event = "REFUND_REQUESTED"
	EventCancelRequested       Event = "CANCEL_REQUESTED"
	EventExpireAuth            Event = "EXPIRE_AUTH"
	EventCompensationTriggered Event = "COMPENSATION_TRIGGERED"
)

// Audit-only events. They are recorded in the audit log but never drive a
// transition. Account events are keyed by the account ID.
const (
	EventTransactionCreated Event = "TRANSACTION_CREATED"
	EventChargebackRecorded Event = "CHARGEBACK_RECORDED"
	EventAccountFrozen      Event = "ACCOUNT_FROZEN"
	EventAccountUnfrozen    Event = "ACCOUNT_UNFROZEN"
	EventDisputeOpened      Event = "DISPUTE_OPENED"
	EventDisputeResolved    Event = "DISPUTE_RESOLVED"
)

// Statuses lists every lifecycle state.
var Statuses = []Status{
	StatusCreated,
	StatusPendingPayment,
	StatusPaymentReceived,
	StatusPaymentFailed,
	StatusPayoutInitiated,
	StatusPayoutProcessing,
	StatusPayoutSuccess,
	StatusPayoutFailed,
	StatusRefunded,
	StatusCancelled,
	StatusAuthorizationExpired,
	StatusPayoutCompensationRequired,
}

// Events lists every lifecycle event.
var Events = []Event{
	EventPaymentAuthorized,
	EventPaymentCaptured,
	EventPaymentFailed,
	EventPayoutInitiated,
	EventPayoutConfirmed,
	EventPayoutFailed,
	EventRefundRequested,
	EventCancelRequested,
	EventExpireAuth,
	EventCompensationTriggered,
}

// transitions is the only source of legal lifecycle moves. A missing
// (status, event) pair is a rejection.
var transitions = map[Status]map[Event]Status{
	StatusCreated: {
		EventPaymentAuthorized: StatusPendingPayment,
		EventCancelRequested:   StatusCancelled,
	},
	StatusPendingPayment: {
		EventPaymentCaptured:   StatusPaymentReceived,
		EventPaymentAuthorized: StatusPendingPayment,
		EventExpireAuth:        StatusAuthorizationExpired,
		EventCancelRequested:   StatusCancelled,
		EventPaymentFailed:     StatusPaymentFailed,
	},
	StatusPaymentReceived: {
		EventPayoutInitiated: StatusPayoutInitiated,
		EventRefundRequested: StatusRefunded,
	},
	StatusPayoutInitiated: {
		EventPayoutConfirmed:       StatusPayoutSuccess,
		EventPayoutFailed:          StatusPayoutFailed,
		EventCompensationTriggered: StatusPayoutCompensationRequired,
	},
	StatusPayoutProcessing: {
		EventPayoutConfirmed:       StatusPayoutSuccess,
		EventPayoutFailed:          StatusPayoutFailed,
		EventCompensationTriggered: StatusPayoutCompensationRequired,
	},
	StatusPayoutFailed: {
		EventRefundRequested:       StatusRefunded,
		EventPayoutInitiated:       StatusPayoutInitiated,
		EventCompensationTriggered: StatusPayoutCompensationRequired,
	},
	StatusPaymentFailed:              {},
	StatusPayoutSuccess:              {},
	StatusRefunded:                   {},
	StatusCancelled:                  {},
	StatusAuthorizationExpired:       {},
	StatusPayoutCompensationRequired: {},
}

// Transition returns the state reached from current via event, or a
// *TransitionError when the pair is not in the table.
func Transition(current Status, event Event) (Status, error) {
	next, ok := transitions[current][event]
	if !ok {
		return current, &TransitionError{From: current, Event: event}
	}
	return next, nil
}

// CanTransition reports whether event is defined from current.
func CanTransition(current Status, event Event) bool {
	_, ok := transitions[current][event]
	return ok
}

// IsTerminal reports whether no event leads out of status.
func IsTerminal(status Status) bool {
	out, known := transitions[status]
	return known && len(out) == 0
}

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) String() string { return string(s) }

func (e Event) String() string { return string(e) }
