package types

import (
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/samber/lo"
)

// LegType identifies one installment of a payment schedule
type LegType string

const (
	LegTypeDeposit LegType = "deposit"
	LegTypeRest    LegType = "rest"
	LegTypeSingle  LegType = "single"
)

func (l LegType) String() string {
	return string(l)
}

func (l LegType) Validate() error {
	allowed := []LegType{
		LegTypeDeposit,
		LegTypeRest,
		LegTypeSingle,
	}
	if !lo.Contains(allowed, l) {
		return ierr.NewError("invalid leg type").
			WithHintf("Leg type %q is not one of deposit, rest or single", string(l)).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ScheduleKind is how a deal's total is split into legs
type ScheduleKind string

const (
	ScheduleKindSingle ScheduleKind = "single"
	ScheduleKindTwoLeg ScheduleKind = "two_leg"
)

func (k ScheduleKind) String() string {
	return string(k)
}

func (k ScheduleKind) Validate() error {
	if k != ScheduleKindSingle && k != ScheduleKindTwoLeg {
		return ierr.NewError("invalid schedule kind").
			WithHintf("Schedule kind %q is not one of single or two_leg", string(k)).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Legs returns the legs the schedule kind requires, in collection order
func (k ScheduleKind) Legs() []LegType {
	switch k {
	case ScheduleKindTwoLeg:
		return []LegType{LegTypeDeposit, LegTypeRest}
	case ScheduleKindSingle:
		return []LegType{LegTypeSingle}
	}
	return nil
}

// RecordStatus is the ledger status of a payment record
type RecordStatus string

const (
	RecordStatusPending  RecordStatus = "pending"
	RecordStatusPaid     RecordStatus = "paid"
	RecordStatusRefunded RecordStatus = "refunded"
	// RecordStatusFailed is a session whose delayed payment was declined; the
	// leg has to be offered again with a new session
	RecordStatusFailed RecordStatus = "failed"
)

func (s RecordStatus) String() string {
	return string(s)
}

func (s RecordStatus) Validate() error {
	allowed := []RecordStatus{
		RecordStatusPending,
		RecordStatusPaid,
		RecordStatusRefunded,
		RecordStatusFailed,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid record status").
			WithHintf("Record status %q is not supported", string(s)).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CanTransitionTo reports whether the ledger allows moving from s to next.
// Paid records only ever move to refunded; failed records are final.
func (s RecordStatus) CanTransitionTo(next RecordStatus) bool {
	switch s {
	case RecordStatusPending:
		return next == RecordStatusPaid || next == RecordStatusFailed
	case RecordStatusPaid:
		return next == RecordStatusRefunded
	}
	return false
}

// PaymentStage is the payment progress of a deal as seen by the CRM
type PaymentStage string

const (
	PaymentStageNoPayment     PaymentStage = "no_payment"
	PaymentStagePartiallyPaid PaymentStage = "partially_paid"
	PaymentStageFullyPaid     PaymentStage = "fully_paid"
)

func (s PaymentStage) String() string {
	return string(s)
}

// Rank orders stages so they can only move forward
func (s PaymentStage) Rank() int {
	switch s {
	case PaymentStagePartiallyPaid:
		return 1
	case PaymentStageFullyPaid:
		return 2
	}
	return 0
}

// CustomerType decides whether a billing address is mandatory
type CustomerType string

const (
	CustomerTypeIndividual   CustomerType = "individual"
	CustomerTypeOrganization CustomerType = "organization"
)

// DiscountType is how a discount value is interpreted
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// DeletionKind categorizes deletion log entries
type DeletionKind string

const (
	DeletionKindRefund       DeletionKind = "refund"
	DeletionKindCancellation DeletionKind = "cancellation"
)

// RunTrigger records what started a processing run
type RunTrigger string

const (
	RunTriggerScheduled RunTrigger = "scheduled"
	RunTriggerManual    RunTrigger = "manual"
	RunTriggerWebhook   RunTrigger = "webhook"
)

func (t RunTrigger) Validate() error {
	allowed := []RunTrigger{
		RunTriggerScheduled,
		RunTriggerManual,
		RunTriggerWebhook,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid trigger").
			WithHintf("Trigger %q is not one of scheduled, manual or webhook", string(t)).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SessionStatus mirrors the gateway checkout session status
type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusExpired  SessionStatus = "expired"
)

// SessionPaymentStatus mirrors the gateway checkout session payment status
type SessionPaymentStatus string

const (
	SessionPaymentStatusPaid              SessionPaymentStatus = "paid"
	SessionPaymentStatusUnpaid            SessionPaymentStatus = "unpaid"
	SessionPaymentStatusNoPaymentRequired SessionPaymentStatus = "no_payment_required"
)
