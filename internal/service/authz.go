package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/domain"
)

// Capability is an operation gated by role.
type Capability string

const (
	CapCreateTransaction Capability = "transaction:create"
	CapViewAny           Capability = "transaction:view_any"
	CapViewAudit         Capability = "audit:view"
	CapViewDeadLetters   Capability = "webhook:dead_letters"
	CapCancel            Capability = "transaction:cancel"
	CapRefund            Capability = "transaction:refund"
	CapRetry             Capability = "transaction:retry"
	CapCompensate        Capability = "transaction:compensate"
	CapChargeback        Capability = "transaction:chargeback"
	CapFreeze            Capability = "account:freeze"
	CapFund              Capability = "account:fund"
	CapReconcile         Capability = "reconciliation:run"
	CapVerifyLedger      Capability = "ledger:verify"
	CapViewDisputes      Capability = "dispute:view"
	CapOpenDispute       Capability = "dispute:open"
	CapResolveDispute    Capability = "dispute:resolve"
)

var requiredRole = map[Capability]domain.Role{
	CapCreateTransaction: domain.RoleUser,
	CapViewAny:           domain.RoleSupport,
	CapViewAudit:         domain.RoleSupport,
	CapViewDeadLetters:   domain.RoleSupport,
	CapCancel:            domain.RoleSupport,
	CapRefund:            domain.RoleAdmin,
	CapRetry:             domain.RoleAdmin,
	CapFreeze:            domain.RoleAdmin,
	CapCompensate:        domain.RoleOps,
	CapChargeback:        domain.RoleOps,
	CapFund:              domain.RoleOps,
	CapReconcile:         domain.RoleOps,
	CapVerifyLedger:      domain.RoleOps,
	CapViewDisputes:      domain.RoleSupport,
	CapOpenDispute:       domain.RoleAdmin,
	CapResolveDispute:    domain.RoleOps,
}

// Authorize is the single capability check used by every privileged operation.
func Authorize(actor domain.Actor, c Capability) error {
	need, ok := requiredRole[c]
	if !ok {
		return fmt.Errorf("%w: unknown capability %s", domain.ErrForbidden, c)
	}
	if actor.Role < need {
		return fmt.Errorf("%w: %s requires %s, actor %s has %s", domain.ErrForbidden, c, need, actor.ID, actor.Role)
	}
	return nil
}

// authorizeAccount lets users act on their own wallet and staff act on any.
func authorizeAccount(actor domain.Actor, accountID uuid.UUID) error {
	if actor.Kind == domain.ActorUser && actor.Role < domain.RoleSupport {
		if actor.ID != accountID.String() {
			return fmt.Errorf("%w: account %s does not belong to %s", domain.ErrForbidden, accountID, actor.ID)
		}
		return nil
	}
	return Authorize(actor, CapViewAny)
}
