package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowed() map[Status]map[Event]Status {
	return map[Status]map[Event]Status{
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
	}
}

func TestTransitionIsTotal(t *testing.T) {
	table := allowed()
	for _, s := range Statuses {
		for _, e := range Events {
			t.Run(fmt.Sprintf("%s/%s", s, e), func(t *testing.T) {
				next, err := Transition(s, e)
				want, ok := table[s][e]
				if ok {
					require.NoError(t, err)
					assert.Equal(t, want, next)
					assert.True(t, CanTransition(s, e))
					return
				}
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidStateTransition)
				assert.Equal(t, s, next, "rejected transition must not move the status")
				assert.False(t, CanTransition(s, e))

				var te *TransitionError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, s, te.From)
				assert.Equal(t, e, te.Event)
			})
		}
	}
}

func TestTransitionRejectsUnknownValues(t *testing.T) {
	_, err := Transition(Status("BOGUS"), EventPaymentAuthorized)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = Transition(StatusCreated, Event("BOGUS"))
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.False(t, IsTerminal(Status("BOGUS")))
}

func TestIsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPaymentFailed:              true,
		StatusPayoutSuccess:              true,
		StatusRefunded:                   true,
		StatusCancelled:                  true,
		StatusAuthorizationExpired:       true,
		StatusPayoutCompensationRequired: true,
	}
	for _, s := range Statuses {
		assert.Equal(t, terminal[s], IsTerminal(s), s)
	}
}

func TestHappyPathSequence(t *testing.T) {
	s := StatusCreated
	path := []Event{EventPaymentAuthorized, EventPaymentCaptured, EventPayoutInitiated, EventPayoutConfirmed}
	want := []Status{StatusPendingPayment, StatusPaymentReceived, StatusPayoutInitiated, StatusPayoutSuccess}
	for i, e := range path {
		var err error
		s, err = Transition(s, e)
		require.NoError(t, err)
		assert.Equal(t, want[i], s)
	}
	assert.True(t, IsTerminal(s))
}

func TestRefundFromCreatedRejected(t *testing.T) {
	_, err := Transition(StatusCreated, EventRefundRequested)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, "INVALID_STATE_TRANSITION", Code(err))
}

func TestAuditOnlyEventsNeverTransition(t *testing.T) {
	for _, s := range Statuses {
		for _, e := range []Event{
			EventTransactionCreated, EventChargebackRecorded, EventAccountFrozen,
			EventAccountUnfrozen, EventDisputeOpened, EventDisputeResolved,
		} {
			assert.False(t, CanTransition(s, e), "%s via %s", s, e)
		}
	}
}
