package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examcore/internal/model"
)

func TestSubmitScoresObjectiveAnswers(t *testing.T) {
	f := newFixture(t)
	q1 := model.Question{ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, OrderIndex: 1, Points: 5, CorrectAnswer: strPtr("A")}
	q2 := model.Question{ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, OrderIndex: 2, Points: 5, CorrectAnswer: strPtr("B")}
	exam := f.addExam(60, q1, q2)
	v := f.open(t, exam.ID)
	ctx := context.Background()

	answers := f.answerService()
	if _, err := answers.RecordAnswer(ctx, f.participant, v.ID, q1.ID, "A"); err != nil {
		t.Fatal(err)
	}
	if _, err := answers.RecordAnswer(ctx, f.participant, v.ID, q2.ID, "C"); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(20 * time.Minute)
	res, err := f.gradingService().Submit(ctx, f.participant, v.ID, nil, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stored := f.sessions.get(t, v.ID)
	if *stored.Score != 5 || *stored.TotalPoints != 10 {
		t.Errorf("score = %v/%v, want 5/10", *stored.Score, *stored.TotalPoints)
	}
	if stored.Status != model.SessionStatusGraded || stored.AutoSubmitted {
		t.Errorf("status = %s autoSubmitted = %v", stored.Status, stored.AutoSubmitted)
	}
	if !stored.SubmittedAt.Equal(f.clock.Now()) {
		t.Errorf("submittedAt = %v", stored.SubmittedAt)
	}
	if res.Session.AutoSubmitted {
		t.Error("on-time submission flagged as auto-submitted")
	}
	if !f.buffer.closed[v.ID] {
		t.Error("answer buffer left open")
	}
}

func TestSubmitFinalAnswersOverrideBuffered(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)
	ctx := context.Background()
	if _, err := f.answerService().RecordAnswer(ctx, f.participant, v.ID, f.mc.ID, "A"); err != nil {
		t.Fatal(err)
	}

	_, err := f.gradingService().Submit(ctx, f.participant, v.ID, model.Answers{f.mc.ID: "B", f.tf.ID: ""}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stored := f.sessions.get(t, v.ID)
	if stored.Answers[f.mc.ID] != "B" {
		t.Errorf("final answer not applied: %v", stored.Answers)
	}
	if _, ok := stored.Answers[f.tf.ID]; ok {
		t.Error("empty answer persisted")
	}
	if *stored.Score != 2 {
		t.Errorf("score = %v, want 2", *stored.Score)
	}
}

func TestSubmitIgnoresFileAnswersFromClient(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)
	ctx := context.Background()

	_, err := f.gradingService().Submit(ctx, f.participant, v.ID, model.Answers{f.file.ID: "file:" + uuid.NewString()}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := f.sessions.get(t, v.ID).Answers[f.file.ID]; got != "" {
		t.Errorf("unconfirmed file answer persisted: %q", got)
	}
}

func TestSubmitRejectsUnknownQuestion(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)

	_, err := f.gradingService().Submit(context.Background(), f.participant, v.ID, model.Answers{uuid.New(): "A"}, false)
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("err = %v", err)
	}
	if !f.sessions.get(t, v.ID).Open() {
		t.Error("rejected submission closed the session")
	}
}

func TestForceSubmitAfterDeadline(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)
	ctx := context.Background()
	if _, err := f.answerService().RecordAnswer(ctx, f.participant, v.ID, f.mc.ID, "B"); err != nil {
		t.Fatal(err)
	}
	grading := f.gradingService()

	f.clock.Advance(time.Hour)
	if _, err := grading.ForceSubmit(ctx, v.ID); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("at deadline: err = %v", err)
	}

	f.clock.Advance(time.Second)
	res, err := grading.ForceSubmit(ctx, v.ID)
	if err != nil {
		t.Fatalf("ForceSubmit: %v", err)
	}
	if !res.Session.AutoSubmitted {
		t.Error("forced submission not marked auto-submitted")
	}
	if got := res.Session.SubmittedAt.Sub(v.Deadline); got != time.Second {
		t.Errorf("submittedAt is %v after the deadline", got)
	}
	if res.Scorecard.AutoScore != 2 {
		t.Errorf("buffered answer not graded: %+v", res.Scorecard)
	}
	if res.Session.Status != model.SessionStatusGraded {
		t.Errorf("status = %s, want graded with no answered manual question", res.Session.Status)
	}

	if _, err := grading.ForceSubmit(ctx, v.ID); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("second force: err = %v", err)
	}
}

func TestLateSubmitPersistsFinalAnswers(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)
	ctx := context.Background()
	if _, err := f.answerService().RecordAnswer(ctx, f.participant, v.ID, f.mc.ID, "A"); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(60*time.Minute + time.Second)
	res, err := f.gradingService().Submit(ctx, f.participant, v.ID,
		model.Answers{f.mc.ID: "B", f.tf.ID: "true", f.file.ID: "file:forged"}, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stored := f.sessions.get(t, v.ID)
	if !stored.AutoSubmitted || !stored.SubmittedAt.Equal(f.clock.Now()) {
		t.Errorf("autoSubmitted = %v submittedAt = %v", stored.AutoSubmitted, stored.SubmittedAt)
	}
	if stored.Answers[f.mc.ID] != "B" || stored.Answers[f.tf.ID] != "true" {
		t.Errorf("answers = %v, want the final answers", stored.Answers)
	}
	if _, ok := stored.Answers[f.file.ID]; ok {
		t.Error("unconfirmed file value accepted from final answers")
	}
	if res.Scorecard.Score != 3 || *stored.Score != 3 {
		t.Errorf("score = %v, want 3", res.Scorecard.Score)
	}
}

func TestLateSubmitRejectsUnknownQuestion(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)

	f.clock.Advance(61 * time.Minute)
	_, err := f.gradingService().Submit(context.Background(), f.participant, v.ID, model.Answers{uuid.New(): "x"}, true)
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("err = %v, want ErrUnknownQuestion", err)
	}
	if f.sessions.get(t, v.ID).Status != model.SessionStatusInProgress {
		t.Error("rejected submission closed the session")
	}
}

func TestClientAutoSubmitClaimIsNotTrusted(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)

	res, err := f.gradingService().Submit(context.Background(), f.participant, v.ID, nil, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Session.AutoSubmitted {
		t.Error("early submission recorded as auto-submitted on the client's word")
	}
}

func TestConcurrentSubmitsCloseOnce(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)
	grading := f.gradingService()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = grading.Submit(context.Background(), f.participant, v.ID, model.Answers{f.mc.ID: "B"}, false)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrAlreadySubmitted):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d submissions succeeded, want 1", ok)
	}
}

func TestSubmitByOtherParticipant(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)
	other := f.participant
	other.Subject = "participant-2"

	if _, err := f.gradingService().Submit(context.Background(), other, v.ID, nil, false); !errors.Is(err, ErrNotSessionOwner) {
		t.Fatalf("err = %v", err)
	}
}

func TestSubmitRecordsMissingKeyIssue(t *testing.T) {
	f := newFixture(t)
	f.exams.setKey(f.exam.ID, f.mc.ID, nil)
	v := f.open(t, f.exam.ID)

	res, err := f.gradingService().Submit(context.Background(), f.participant, v.ID, model.Answers{f.mc.ID: "B", f.tf.ID: "true"}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Scorecard.Score != 1 {
		t.Errorf("score = %v, want 1", res.Scorecard.Score)
	}
	issues, _ := f.sessions.ListIssues(context.Background(), v.ID)
	if len(issues) != 1 || issues[0].QuestionID != f.mc.ID || issues[0].SessionID != v.ID {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestManualGradingFlow(t *testing.T) {
	f := newFixture(t)
	essay := model.Question{ID: uuid.New(), Type: model.QuestionTypeEssay, OrderIndex: 1, Points: 10}
	exam := f.addExam(60, essay)
	v := f.open(t, exam.ID)
	ctx := context.Background()
	grading := f.gradingService()

	if _, err := grading.ApplyManualGrade(ctx, f.grader, v.ID, essay.ID, 7); !errors.Is(err, ErrNotYetSubmitted) {
		t.Fatalf("grading an open session: err = %v", err)
	}

	res, err := grading.Submit(ctx, f.participant, v.ID, model.Answers{essay.ID: "Momentum is conserved."}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Session.Status != model.SessionStatusSubmitted {
		t.Fatalf("status = %s, want submitted", res.Session.Status)
	}

	graded, err := grading.ApplyManualGrade(ctx, f.grader, v.ID, essay.ID, 7)
	if err != nil {
		t.Fatalf("ApplyManualGrade: %v", err)
	}
	if graded.Session.Status != model.SessionStatusGraded || *graded.Session.Score != 7 {
		t.Errorf("status = %s score = %v", graded.Session.Status, *graded.Session.Score)
	}

	regraded, err := grading.ApplyManualGrade(ctx, f.grader, v.ID, essay.ID, 9.5)
	if err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if *regraded.Session.Score != 9.5 || regraded.Session.Status != model.SessionStatusGraded {
		t.Errorf("after reapply: status = %s score = %v", regraded.Session.Status, *regraded.Session.Score)
	}
	grades, _ := f.sessions.ListManualGrades(ctx, v.ID)
	if len(grades) != 1 || grades[0].GraderRef != f.grader.Subject {
		t.Errorf("grades = %+v", grades)
	}
}

func TestApplyManualGradeValidation(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, f.exam.ID)
	ctx := context.Background()
	grading := f.gradingService()
	if _, err := grading.Submit(ctx, f.participant, v.ID, model.Answers{f.mc.ID: "B"}, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tests := []struct {
		name     string
		question uuid.UUID
		points   float64
		want     error
	}{
		{"negative", f.essay.ID, -1, ErrOutOfRange},
		{"above max", f.essay.ID, 5.5, ErrOutOfRange},
		{"objective question", f.mc.ID, 1, ErrNotManuallyGraded},
		{"unknown question", uuid.New(), 1, ErrUnknownQuestion},
		{"unanswered question", f.essay.ID, 3, ErrQuestionNotAnswered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := grading.ApplyManualGrade(ctx, f.grader, v.ID, tt.question, tt.points); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	grades, _ := f.sessions.ListManualGrades(ctx, v.ID)
	if len(grades) != 0 {
		t.Errorf("rejected grades were stored: %+v", grades)
	}

	other := f.grader
	other.TenantRef = "tenant-b"
	if _, err := grading.ApplyManualGrade(ctx, other, v.ID, f.essay.ID, 1); !errors.Is(err, ErrTenantMismatch) {
		t.Errorf("foreign grader: err = %v", err)
	}
}

func TestConcurrentManualGradesKeepEveryEntry(t *testing.T) {
	f := newFixture(t)
	q1 := model.Question{ID: uuid.New(), Type: model.QuestionTypeEssay, OrderIndex: 1, Points: 10}
	q2 := model.Question{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, OrderIndex: 2, Points: 4}
	exam := f.addExam(60, q1, q2)
	v := f.open(t, exam.ID)
	ctx := context.Background()
	grading := f.gradingService()
	if _, err := grading.Submit(ctx, f.participant, v.ID, model.Answers{q1.ID: "essay", q2.ID: "short"}, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	second := f.grader
	second.Subject = "grader-2"

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = grading.ApplyManualGrade(ctx, f.grader, v.ID, q1.ID, 8)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = grading.ApplyManualGrade(ctx, second, v.ID, q2.ID, 3)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("grader %d: %v", i, err)
		}
	}

	stored := f.sessions.get(t, v.ID)
	if *stored.Score != 11 || stored.Status != model.SessionStatusGraded {
		t.Errorf("status = %s score = %v, want graded 11", stored.Status, *stored.Score)
	}
	grades, _ := f.sessions.ListManualGrades(ctx, v.ID)
	if len(grades) != 2 {
		t.Errorf("grades = %+v", grades)
	}
}

func TestRecomputePicksUpKeyCorrection(t *testing.T) {
	f := newFixture(t)
	q := model.Question{ID: uuid.New(), Type: model.QuestionTypeMultipleChoice, OrderIndex: 1, Points: 5, CorrectAnswer: strPtr("A")}
	exam := f.addExam(60, q)
	v := f.open(t, exam.ID)
	ctx := context.Background()
	grading := f.gradingService()

	if _, err := grading.Recompute(ctx, f.grader, v.ID); !errors.Is(err, ErrNotYetSubmitted) {
		t.Fatalf("open session: err = %v", err)
	}

	res, err := grading.Submit(ctx, f.participant, v.ID, model.Answers{q.ID: "C"}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Scorecard.Score != 0 {
		t.Fatalf("score = %v", res.Scorecard.Score)
	}

	f.exams.setKey(exam.ID, q.ID, strPtr("C"))
	again, err := grading.Recompute(ctx, f.grader, v.ID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if *again.Session.Score != 5 || again.Session.Status != model.SessionStatusGraded {
		t.Errorf("status = %s score = %v", again.Session.Status, *again.Session.Score)
	}
}

func TestSubmitExpired(t *testing.T) {
	f := newFixture(t)
	sessions := f.sessionService()
	ctx := context.Background()

	early, err := sessions.OpenOrResume(ctx, f.participant, f.exam.ID)
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(30 * time.Minute)
	laterIdent := f.participant
	laterIdent.Subject = "participant-2"
	later, err := sessions.OpenOrResume(ctx, laterIdent, f.exam.ID)
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(31 * time.Minute)
	n, err := f.gradingService().SubmitExpired(ctx, 100)
	if err != nil {
		t.Fatalf("SubmitExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed %d sessions, want 1", n)
	}
	if s := f.sessions.get(t, early.ID); s.Open() || !s.AutoSubmitted {
		t.Errorf("expired session: status %s auto %v", s.Status, s.AutoSubmitted)
	}
	if !f.sessions.get(t, later.ID).Open() {
		t.Error("session still within its deadline was closed")
	}
}
