package service

import (
	"time"

	"github.com/stemsi/examcore/internal/model"
)

// Decision is the outcome of the availability gate.
type Decision string

const (
	DecisionAllow          Decision = "ALLOW"
	DecisionNotYetOpen     Decision = "NOT_YET_OPEN"
	DecisionClosed         Decision = "CLOSED"
	DecisionTenantMismatch Decision = "TENANT_MISMATCH"
)

// Err converts a non-allow decision into its window error.
func (d Decision) Err() error {
	switch d {
	case DecisionNotYetOpen:
		return ErrNotYetOpen
	case DecisionClosed:
		return ErrWindowClosed
	case DecisionTenantMismatch:
		return ErrTenantMismatch
	}
	return nil
}

// CheckTenant compares the requester's tenant with the tenant of the course owning
// the exam. An exam whose own tenant disagrees with its course is a mismatch too.
func CheckTenant(exam *model.Exam, course *model.Course, requesterTenant string) Decision {
	if course == nil || exam.CourseID != course.ID {
		return DecisionTenantMismatch
	}
	if exam.TenantRef != course.TenantRef {
		return DecisionTenantMismatch
	}
	if requesterTenant == "" || requesterTenant != course.TenantRef {
		return DecisionTenantMismatch
	}
	return DecisionAllow
}

// CheckWindow validates tenant and availability window before a session is created.
func CheckWindow(exam *model.Exam, course *model.Course, requesterTenant string, now time.Time) Decision {
	if d := CheckTenant(exam, course, requesterTenant); d != DecisionAllow {
		return d
	}
	if exam.AvailableFrom != nil && now.Before(*exam.AvailableFrom) {
		return DecisionNotYetOpen
	}
	if exam.AvailableUntil != nil && !now.Before(*exam.AvailableUntil) {
		return DecisionClosed
	}
	return DecisionAllow
}
