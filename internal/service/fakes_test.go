package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/model"
)

// ─── ExamReader ─────────────────────────────────────────────────────

type fakeExams struct {
	mu        sync.Mutex
	exams     map[uuid.UUID]model.Exam
	courses   map[uuid.UUID]model.Course
	questions map[uuid.UUID][]model.Question
}

func newFakeExams() *fakeExams {
	return &fakeExams{
		exams:     map[uuid.UUID]model.Exam{},
		courses:   map[uuid.UUID]model.Course{},
		questions: map[uuid.UUID][]model.Question{},
	}
}

func (f *fakeExams) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (f *fakeExams) GetCourse(_ context.Context, id uuid.UUID) (*model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.courses[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

func (f *fakeExams) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Question, len(f.questions[examID]))
	copy(out, f.questions[examID])
	return out, nil
}

func (f *fakeExams) ListPublished(_ context.Context) ([]model.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Exam
	for _, e := range f.exams {
		if e.Published {
			out = append(out, e)
		}
	}
	return out, nil
}

// setKey replaces the answer key of a question, as an authoring correction would.
func (f *fakeExams) setKey(examID, questionID uuid.UUID, key *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.questions[examID] {
		if f.questions[examID][i].ID == questionID {
			f.questions[examID][i].CorrectAnswer = key
		}
	}
}

// ─── SessionStore ───────────────────────────────────────────────────

type fakeSessions struct {
	mu      sync.Mutex
	exams   *fakeExams
	byID    map[uuid.UUID]*model.Session
	answers map[uuid.UUID]model.Answers
	grades  map[uuid.UUID]map[uuid.UUID]model.ManualGradeEntry
	issues  map[uuid.UUID][]model.GradingIssue
	creates int
}

func newFakeSessions(exams *fakeExams) *fakeSessions {
	return &fakeSessions{
		exams:   exams,
		byID:    map[uuid.UUID]*model.Session{},
		answers: map[uuid.UUID]model.Answers{},
		grades:  map[uuid.UUID]map[uuid.UUID]model.ManualGradeEntry{},
		issues:  map[uuid.UUID][]model.GradingIssue{},
	}
}

func cloneSession(s *model.Session) *model.Session {
	c := *s
	c.Answers = s.Answers.Clone()
	return &c
}

func (f *fakeSessions) Create(_ context.Context, s *model.Session) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.ExamID == s.ExamID && existing.ParticipantRef == s.ParticipantRef {
			return false, nil
		}
	}
	s.ID = uuid.New()
	f.byID[s.ID] = cloneSession(s)
	f.creates++
	return true, nil
}

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneSession(s), nil
}

func (f *fakeSessions) GetByExamAndParticipant(_ context.Context, examID uuid.UUID, participantRef string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.ExamID == examID && s.ParticipantRef == participantRef {
			return cloneSession(s), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessions) ListByExam(_ context.Context, examID uuid.UUID, filter SessionFilter) ([]model.Session, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.Session
	for _, s := range f.byID {
		if s.ExamID != examID {
			continue
		}
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		all = append(all, *cloneSession(s))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ParticipantRef < all[j].ParticipantRef })

	total := len(all)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return all[filter.Offset:end], total, nil
}

func (f *fakeSessions) ListAnswers(_ context.Context, sessionID uuid.UUID) (model.Answers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answers[sessionID].Clone(), nil
}

func (f *fakeSessions) Submit(_ context.Context, rec *SubmitRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[rec.SessionID]
	if !ok || s.Status != model.SessionStatusInProgress {
		return pgx.ErrNoRows
	}
	at := rec.SubmittedAt
	score, total := rec.Score, rec.TotalPoints
	s.SubmittedAt = &at
	s.AutoSubmitted = rec.AutoSubmitted
	s.Status = rec.Status
	s.Score = &score
	s.TotalPoints = &total
	f.answers[rec.SessionID] = rec.Answers.Clone()
	f.issues[rec.SessionID] = append([]model.GradingIssue(nil), rec.Issues...)
	return nil
}

func (f *fakeSessions) Regrade(_ context.Context, sessionID uuid.UUID, entry *model.ManualGradeEntry, fn RecomputeFunc) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}

	entries := f.grades[sessionID]
	if entries == nil {
		entries = map[uuid.UUID]model.ManualGradeEntry{}
		f.grades[sessionID] = entries
	}
	var prev model.ManualGradeEntry
	var hadPrev bool
	if entry != nil {
		prev, hadPrev = entries[entry.QuestionID]
		entries[entry.QuestionID] = *entry
	}
	rollback := func() {
		if entry == nil {
			return
		}
		if hadPrev {
			entries[entry.QuestionID] = prev
		} else {
			delete(entries, entry.QuestionID)
		}
	}

	grades := make([]model.ManualGradeEntry, 0, len(entries))
	for _, g := range entries {
		grades = append(grades, g)
	}

	locked := cloneSession(s)
	locked.Answers = f.answers[sessionID].Clone()
	rec, err := fn(locked, grades)
	if err != nil {
		rollback()
		return nil, err
	}

	score, total := rec.Score, rec.TotalPoints
	s.Score = &score
	s.TotalPoints = &total
	s.Status = rec.Status
	f.issues[sessionID] = append([]model.GradingIssue(nil), rec.Issues...)

	out := cloneSession(s)
	out.Answers = f.answers[sessionID].Clone()
	return out, nil
}

func (f *fakeSessions) ListManualGrades(_ context.Context, sessionID uuid.UUID) ([]model.ManualGradeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ManualGradeEntry
	for _, g := range f.grades[sessionID] {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeSessions) ListIssues(_ context.Context, sessionID uuid.UUID) ([]model.GradingIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.GradingIssue(nil), f.issues[sessionID]...), nil
}

func (f *fakeSessions) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, s := range f.byID {
		if s.Status != model.SessionStatusInProgress {
			continue
		}
		exam, err := f.exams.GetByID(ctx, s.ExamID)
		if err != nil {
			return nil, err
		}
		if SessionDeadline(s, exam).Before(now) {
			out = append(out, s.ID)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSessions) get(t *testing.T, id uuid.UUID) *model.Session {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		t.Fatalf("session %s not stored", id)
	}
	out := cloneSession(s)
	out.Answers = f.answers[id].Clone()
	return out
}

// ─── AnswerBuffer ───────────────────────────────────────────────────

type fakeBuffer struct {
	mu     sync.Mutex
	data   map[uuid.UUID]model.Answers
	closed map[uuid.UUID]bool
}

func newFakeBuffer() *fakeBuffer {
	return &fakeBuffer{data: map[uuid.UUID]model.Answers{}, closed: map[uuid.UUID]bool{}}
}

func (b *fakeBuffer) Put(_ context.Context, sessionID, questionID uuid.UUID, value string) (model.BufferOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed[sessionID] {
		return model.BufferClosed, nil
	}
	if cur, ok := b.data[sessionID][questionID]; ok && cur == value {
		return model.BufferUnchanged, nil
	}
	if b.data[sessionID] == nil {
		b.data[sessionID] = model.Answers{}
	}
	b.data[sessionID][questionID] = value
	return model.BufferStored, nil
}

func (b *fakeBuffer) All(_ context.Context, sessionID uuid.UUID) (model.Answers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[sessionID].Clone(), nil
}

func (b *fakeBuffer) Close(_ context.Context, sessionID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed[sessionID] = true
	delete(b.data, sessionID)
	return nil
}

// ─── PaperCache ─────────────────────────────────────────────────────

type fakeCache struct {
	mu     sync.Mutex
	papers map[uuid.UUID]model.ExamPaper
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{papers: map[uuid.UUID]model.ExamPaper{}}
}

func (c *fakeCache) Get(_ context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.papers[examID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *fakeCache) Set(_ context.Context, paper *model.ExamPaper) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.papers[paper.ExamID] = *paper
	c.sets++
	return nil
}

// ─── Uploader ───────────────────────────────────────────────────────

type fakeUploader struct {
	mu        sync.Mutex
	confirmed map[string]bool
	content   map[string][]byte
	deleted   []string
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{confirmed: map[string]bool{}, content: map[string][]byte{}}
}

func (u *fakeUploader) Store(_ context.Context, up Upload) (model.FileRef, error) {
	var data []byte
	if up.Body != nil {
		b, err := io.ReadAll(up.Body)
		if err != nil {
			return model.FileRef{}, err
		}
		data = b
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	id := uuid.NewString()
	u.confirmed[id] = true
	u.content[id] = data
	return model.FileRef{ReferenceID: id, SizeBytes: up.Size}, nil
}

func (u *fakeUploader) Delete(_ context.Context, referenceID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.confirmed, referenceID)
	delete(u.content, referenceID)
	u.deleted = append(u.deleted, referenceID)
	return nil
}

type nopReadSeekCloser struct{ *bytes.Reader }

func (nopReadSeekCloser) Close() error { return nil }

func (u *fakeUploader) Open(_ context.Context, referenceID string) (io.ReadSeekCloser, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.confirmed[referenceID] {
		return nil, ErrFileNotFound
	}
	return nopReadSeekCloser{bytes.NewReader(u.content[referenceID])}, nil
}

func (u *fakeUploader) Confirmed(_ context.Context, referenceID string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.confirmed[referenceID], nil
}

// ─── Fixture ────────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	exams    *fakeExams
	sessions *fakeSessions
	buffer   *fakeBuffer
	cache    *fakeCache
	uploader *fakeUploader
	clock    *fakeClock

	course *model.Course
	exam   *model.Exam

	mc    model.Question
	tf    model.Question
	essay model.Question
	file  model.Question

	participant Identity
	grader      Identity
}

func strPtr(s string) *string { return &s }

// newFixture seeds a published 60-minute exam open from an hour ago until tomorrow,
// with one question of each grading kind.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	from := now.Add(-time.Hour)
	until := now.Add(24 * time.Hour)

	exams := newFakeExams()
	course := model.Course{ID: uuid.New(), TenantRef: "tenant-a", Title: "Physics"}
	exam := model.Exam{
		ID:              uuid.New(),
		CourseID:        course.ID,
		TenantRef:       course.TenantRef,
		Title:           "Midterm",
		DurationMinutes: 60,
		AvailableFrom:   &from,
		AvailableUntil:  &until,
		Published:       true,
	}

	f := &fixture{
		exams:       exams,
		sessions:    newFakeSessions(exams),
		buffer:      newFakeBuffer(),
		cache:       newFakeCache(),
		uploader:    newFakeUploader(),
		clock:       &fakeClock{t: now},
		course:      &course,
		exam:        &exam,
		participant: Identity{Subject: "participant-1", TenantRef: "tenant-a", Role: RoleParticipant},
		grader:      Identity{Subject: "grader-1", TenantRef: "tenant-a", Role: RoleGrader},
	}

	f.mc = model.Question{ID: uuid.New(), ExamID: exam.ID, Type: model.QuestionTypeMultipleChoice, OrderIndex: 1, Points: 2, CorrectAnswer: strPtr("B")}
	f.tf = model.Question{ID: uuid.New(), ExamID: exam.ID, Type: model.QuestionTypeTrueFalse, OrderIndex: 2, Points: 1, CorrectAnswer: strPtr("true")}
	f.essay = model.Question{ID: uuid.New(), ExamID: exam.ID, Type: model.QuestionTypeEssay, OrderIndex: 3, Points: 5}
	f.file = model.Question{
		ID: uuid.New(), ExamID: exam.ID, Type: model.QuestionTypeFileUpload, OrderIndex: 4, Points: 3,
		FileRequirements: &model.FileRequirements{MaxSizeBytes: 1 << 20, ContentTypes: []string{"application/pdf"}},
	}

	exams.courses[course.ID] = course
	exams.exams[exam.ID] = exam
	exams.questions[exam.ID] = []model.Question{f.mc, f.tf, f.essay, f.file}
	return f
}

// addExam stores another exam of the fixture course with the given questions.
func (f *fixture) addExam(duration int, questions ...model.Question) *model.Exam {
	exam := *f.exam
	exam.ID = uuid.New()
	exam.DurationMinutes = duration
	for i := range questions {
		questions[i].ExamID = exam.ID
	}
	f.exams.exams[exam.ID] = exam
	f.exams.questions[exam.ID] = questions
	return &exam
}

func (f *fixture) sessionService() *ExamSessionService {
	s := NewExamSessionService(f.sessions, f.exams, f.buffer, zerolog.Nop())
	s.now = f.clock.Now
	return s
}

func (f *fixture) answerService() *AnswerService {
	s := NewAnswerService(f.sessions, f.exams, f.buffer, f.uploader, zerolog.Nop())
	s.now = f.clock.Now
	return s
}

func (f *fixture) gradingService() *GradingService {
	s := NewGradingService(f.sessions, f.exams, f.buffer, zerolog.Nop())
	s.now = f.clock.Now
	return s
}

func (f *fixture) resultsService() *ResultsService {
	return NewResultsService(f.sessions, f.exams, zerolog.Nop())
}

func (f *fixture) examService() *ExamService {
	return NewExamService(f.exams, f.sessions, f.cache, zerolog.Nop())
}

// open starts a session for the fixture participant on examID.
func (f *fixture) open(t *testing.T, examID uuid.UUID) *SessionView {
	t.Helper()
	v, err := f.sessionService().OpenOrResume(context.Background(), f.participant, examID)
	if err != nil {
		t.Fatalf("OpenOrResume: %v", err)
	}
	return v
}
