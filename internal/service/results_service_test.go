package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stemsi/examcore/internal/model"
)

func TestResultsGetSession(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)
	ctx := context.Background()
	if _, err := f.gradingService().Submit(ctx, f.participant, v.ID, model.Answers{f.mc.ID: "B", f.essay.ID: "draft"}, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res, err := f.resultsService().GetSession(ctx, f.grader, f.exam.ID, f.participant.Subject)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if res.Session.ID != v.ID || res.Session.Answers[f.essay.ID] != "draft" {
		t.Errorf("unexpected session %+v", res.Session)
	}
	if len(res.Pending) != 1 || res.Pending[0] != f.essay.ID {
		t.Errorf("pending = %v", res.Pending)
	}
	if len(res.Grades) != 0 || res.Issues == nil {
		t.Errorf("grades = %v issues = %v", res.Grades, res.Issues)
	}

	if _, err := f.gradingService().ApplyManualGrade(ctx, f.grader, v.ID, f.essay.ID, 4); err != nil {
		t.Fatalf("ApplyManualGrade: %v", err)
	}
	res, err = f.resultsService().GetSession(ctx, f.grader, f.exam.ID, f.participant.Subject)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(res.Pending) != 0 || len(res.Grades) != 1 || res.Session.Status != model.SessionStatusGraded {
		t.Errorf("after grading: pending %v grades %v status %s", res.Pending, res.Grades, res.Session.Status)
	}
}

func TestResultsGetSessionErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.resultsService().GetSession(ctx, f.grader, f.exam.ID, "nobody"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing session: err = %v", err)
	}

	f.open(t, f.exam.ID)
	other := f.grader
	other.TenantRef = "tenant-b"
	if _, err := f.resultsService().GetSession(ctx, other, f.exam.ID, f.participant.Subject); !errors.Is(err, ErrTenantMismatch) {
		t.Errorf("foreign tenant: err = %v", err)
	}
}

func TestResultsListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessions := f.sessionService()
	grading := f.gradingService()

	for i := 0; i < 5; i++ {
		ident := f.participant
		ident.Subject = fmt.Sprintf("participant-%d", i)
		v, err := sessions.OpenOrResume(ctx, ident, f.exam.ID)
		if err != nil {
			t.Fatal(err)
		}
		if i%2 == 0 {
			if _, err := grading.Submit(ctx, ident, v.ID, nil, false); err != nil {
				t.Fatal(err)
			}
		}
	}

	all, page, err := f.resultsService().ListSessions(ctx, f.grader, f.exam.ID, nil, 2, 2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 2 || page.TotalItems != 5 || page.TotalPages != 3 || page.Page != 2 {
		t.Errorf("page = %+v, got %d rows", page, len(all))
	}

	status := model.SessionStatusInProgress
	open, page, err := f.resultsService().ListSessions(ctx, f.grader, f.exam.ID, &status, 0, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(open) != 2 || page.PerPage != 20 || page.Page != 1 {
		t.Errorf("in_progress filter: %d rows, page %+v", len(open), page)
	}

	empty, _, err := f.resultsService().ListSessions(ctx, f.grader, f.exam.ID, nil, 9, 500)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("past the last page: %v", empty)
	}
}
