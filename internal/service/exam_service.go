package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/model"
)

// ExamService serves the participant-facing exam paper through the Redis cache.
type ExamService struct {
	exams    ExamReader
	sessions SessionStore
	cache    PaperCache
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamReader, sessions SessionStore, cache PaperCache, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:    exams,
		sessions: sessions,
		cache:    cache,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetPaper returns the paper of the exam behind the caller's session. Correct answers
// are never part of it.
func (s *ExamService) GetPaper(ctx context.Context, ident Identity, sessionID uuid.UUID) (*model.ExamPaper, error) {
	sess, err := getSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ParticipantRef != ident.Subject {
		return nil, ErrNotSessionOwner
	}

	paper, err := s.cache.Get(ctx, sess.ExamID)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", sess.ExamID.String()).Msg("Paper cache read failed, loading from database")
		paper = nil
	}
	if paper != nil {
		// Only papers whose exam and course tenants agree are ever cached.
		if paper.TenantRef != ident.TenantRef {
			return nil, ErrTenantMismatch
		}
		return paper, nil
	}

	exam, course, err := loadExam(ctx, s.exams, sess.ExamID)
	if err != nil {
		return nil, err
	}
	if d := CheckTenant(exam, course, ident.TenantRef); d != DecisionAllow {
		return nil, d.Err()
	}

	return s.WarmPaper(ctx, exam)
}

// WarmPaper builds the paper for an exam and stores it in the cache.
func (s *ExamService) WarmPaper(ctx context.Context, exam *model.Exam) (*model.ExamPaper, error) {
	questions, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].OrderIndex < questions[j].OrderIndex })

	items := make([]model.QuestionForParticipant, len(questions))
	for i := range questions {
		items[i] = questions[i].ForParticipant()
	}

	paper := &model.ExamPaper{
		ExamID:          exam.ID,
		TenantRef:       exam.TenantRef,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Questions:       items,
	}

	if err := s.cache.Set(ctx, paper); err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to cache paper")
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(items)).
		Msg("Paper warmed")
	return paper, nil
}

// PrewarmPapers caches the paper of every published exam whose tenants are consistent.
func (s *ExamService) PrewarmPapers(ctx context.Context) error {
	exams, err := s.exams.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		course, err := s.exams.GetCourse(ctx, exams[i].CourseID)
		if err != nil || CheckTenant(&exams[i], course, exams[i].TenantRef) != DecisionAllow {
			s.log.Warn().
				Str("exam_id", exams[i].ID.String()).
				Msg("Exam tenant does not match its course, skipping")
			continue
		}
		if _, err := s.WarmPaper(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm paper, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}
