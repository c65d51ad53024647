package service

import "errors"

// Kind groups domain errors by how callers must react to them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindWindow        Kind = "window"
	KindDataIntegrity Kind = "data_integrity"
	KindNotFound      Kind = "not_found"
)

// Error is a domain error carrying its kind and a stable code.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Domain errors.
var (
	ErrUnknownQuestion     = newError(KindValidation, "UNKNOWN_QUESTION", "question does not belong to this exam")
	ErrOutOfRange          = newError(KindValidation, "OUT_OF_RANGE", "awarded points outside [0, question points]")
	ErrNotManuallyGraded   = newError(KindValidation, "NOT_MANUALLY_GRADED", "question type is graded automatically")
	ErrUploadNotConfirmed  = newError(KindValidation, "UPLOAD_NOT_CONFIRMED", "file answer must be a confirmed upload reference")
	ErrUploadRejected      = newError(KindValidation, "UPLOAD_REJECTED", "file does not satisfy the question requirements")
	ErrNotFileQuestion     = newError(KindValidation, "NOT_FILE_QUESTION", "question does not accept file uploads")
	ErrQuestionNotAnswered = newError(KindValidation, "QUESTION_NOT_ANSWERED", "question was not answered")

	ErrAlreadyCompleted   = newError(KindState, "ALREADY_COMPLETED", "exam already completed by this participant")
	ErrAlreadySubmitted   = newError(KindState, "ALREADY_SUBMITTED", "session is already submitted")
	ErrNotYetSubmitted    = newError(KindState, "NOT_YET_SUBMITTED", "session is still in progress")
	ErrDeadlinePassed     = newError(KindState, "DEADLINE_PASSED", "session deadline has passed")
	ErrDeadlineNotReached = newError(KindState, "DEADLINE_NOT_REACHED", "session deadline has not passed yet")

	ErrNotYetOpen       = newError(KindWindow, "NOT_YET_OPEN", "exam is not open yet")
	ErrWindowClosed     = newError(KindWindow, "CLOSED", "exam availability window is closed")
	ErrTenantMismatch   = newError(KindWindow, "TENANT_MISMATCH", "tenant does not own this exam")
	ErrExamNotPublished = newError(KindWindow, "EXAM_NOT_PUBLISHED", "exam is not published")
	ErrNotSessionOwner  = newError(KindWindow, "NOT_SESSION_OWNER", "session belongs to another participant")

	ErrMissingKey = newError(KindDataIntegrity, "MISSING_KEY", "objective question has no correct answer")

	ErrSessionNotFound  = newError(KindNotFound, "SESSION_NOT_FOUND", "session not found")
	ErrExamNotFound     = newError(KindNotFound, "EXAM_NOT_FOUND", "exam not found")
	ErrQuestionNotFound = newError(KindNotFound, "QUESTION_NOT_FOUND", "question not found")
	ErrFileNotFound     = newError(KindNotFound, "FILE_NOT_FOUND", "no uploaded file for this answer")
)

// KindOf returns the kind of a domain error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
