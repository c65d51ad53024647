package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examcore/internal/model"
	"github.com/stemsi/examcore/internal/service"
)

// ExamSessionRepository handles exam session data access, including final answers,
// manual grades and grading issues.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, participant_ref, started_at, submitted_at, auto_submitted,
	status, score, total_points`

func scanSession(row pgx.Row, s *model.Session) error {
	return row.Scan(&s.ID, &s.ExamID, &s.ParticipantRef, &s.StartedAt, &s.SubmittedAt,
		&s.AutoSubmitted, &s.Status, &s.Score, &s.TotalPoints)
}

// Create inserts a new in-progress session unless one exists for the same exam and
// participant. It reports false when a concurrent insert won.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.Session) (bool, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, participant_ref, started_at, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_id, participant_ref) DO NOTHING
		 RETURNING id`,
		s.ExamID, s.ParticipantRef, s.StartedAt, model.SessionStatusInProgress,
	).Scan(&s.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID retrieves a session without its answers.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s := &model.Session{}
	if err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id), s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByExamAndParticipant retrieves the session for a specific exam-participant pair.
func (r *ExamSessionRepository) GetByExamAndParticipant(ctx context.Context, examID uuid.UUID, participantRef string) (*model.Session, error) {
	s := &model.Session{}
	if err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND participant_ref = $2`, examID, participantRef), s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListByExam retrieves an exam's sessions with an optional status filter and pagination.
func (r *ExamSessionRepository) ListByExam(ctx context.Context, examID uuid.UUID, filter service.SessionFilter) ([]model.Session, int, error) {
	baseQuery := ` FROM exam_sessions WHERE exam_id = $1`
	args := []any{examID}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		baseQuery += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + sessionColumns + baseQuery +
		fmt.Sprintf(" ORDER BY started_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

// ListAnswers returns the persisted answers of a session.
func (r *ExamSessionRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) (model.Answers, error) {
	return listAnswers(ctx, r.pool, sessionID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listAnswers(ctx context.Context, q querier, sessionID uuid.UUID) (model.Answers, error) {
	rows, err := q.Query(ctx,
		`SELECT question_id, value FROM session_answers WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := model.Answers{}
	for rows.Next() {
		var qid uuid.UUID
		var value string
		if err := rows.Scan(&qid, &value); err != nil {
			return nil, err
		}
		answers[qid] = value
	}
	return answers, rows.Err()
}

// Submit closes an in_progress session and replaces its answers and grading issues in
// one transaction. The status compare-and-set makes concurrent submits resolve to one
// winner; the loser gets pgx.ErrNoRows.
func (r *ExamSessionRepository) Submit(ctx context.Context, rec *service.SubmitRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $2, submitted_at = $3, auto_submitted = $4, score = $5, total_points = $6
		 WHERE id = $1 AND status = $7`,
		rec.SessionID, rec.Status, rec.SubmittedAt, rec.AutoSubmitted, rec.Score, rec.TotalPoints,
		model.SessionStatusInProgress)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	if _, err := tx.Exec(ctx, `DELETE FROM session_answers WHERE session_id = $1`, rec.SessionID); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}

	batch := &pgx.Batch{}
	for qid, value := range rec.Answers {
		batch.Queue(
			`INSERT INTO session_answers (session_id, question_id, value, updated_at)
			 VALUES ($1, $2, $3, $4)`,
			rec.SessionID, qid, value, rec.SubmittedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert answers: %w", err)
		}
	}

	if err := replaceIssues(ctx, tx, rec.SessionID, rec.Issues); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Regrade locks the session row, upserts entry for its single question, and stores the
// aggregate computed by fn from all entries. Entries of other questions are never written.
func (r *ExamSessionRepository) Regrade(ctx context.Context, sessionID uuid.UUID, entry *model.ManualGradeEntry, fn service.RecomputeFunc) (*model.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s := &model.Session{}
	if err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1 FOR UPDATE`, sessionID), s); err != nil {
		return nil, err
	}

	if s.Answers, err = listAnswers(ctx, tx, sessionID); err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	if entry != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO manual_grades (session_id, question_id, grader_ref, awarded_points, graded_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (session_id, question_id) DO UPDATE
			 SET grader_ref = EXCLUDED.grader_ref,
			     awarded_points = EXCLUDED.awarded_points,
			     graded_at = EXCLUDED.graded_at`,
			entry.SessionID, entry.QuestionID, entry.GraderRef, entry.AwardedPoints, entry.GradedAt,
		); err != nil {
			return nil, fmt.Errorf("upsert manual grade: %w", err)
		}
	}

	grades, err := listManualGrades(ctx, tx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list manual grades: %w", err)
	}

	rec, err := fn(s, grades)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exam_sessions SET score = $2, total_points = $3, status = $4 WHERE id = $1`,
		sessionID, rec.Score, rec.TotalPoints, rec.Status,
	); err != nil {
		return nil, fmt.Errorf("update aggregate: %w", err)
	}

	if err := replaceIssues(ctx, tx, sessionID, rec.Issues); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.Score = &rec.Score
	s.TotalPoints = &rec.TotalPoints
	s.Status = rec.Status
	return s, nil
}

// ListManualGrades returns every manual grade entry of a session.
func (r *ExamSessionRepository) ListManualGrades(ctx context.Context, sessionID uuid.UUID) ([]model.ManualGradeEntry, error) {
	return listManualGrades(ctx, r.pool, sessionID)
}

func listManualGrades(ctx context.Context, q querier, sessionID uuid.UUID) ([]model.ManualGradeEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT session_id, question_id, grader_ref, awarded_points, graded_at
		 FROM manual_grades WHERE session_id = $1
		 ORDER BY graded_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grades []model.ManualGradeEntry
	for rows.Next() {
		var g model.ManualGradeEntry
		if err := rows.Scan(&g.SessionID, &g.QuestionID, &g.GraderRef, &g.AwardedPoints, &g.GradedAt); err != nil {
			return nil, err
		}
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// ListIssues returns the grading issues recorded by the latest scoring pass.
func (r *ExamSessionRepository) ListIssues(ctx context.Context, sessionID uuid.UUID) ([]model.GradingIssue, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, code, detail, detected_at
		 FROM grading_issues WHERE session_id = $1
		 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []model.GradingIssue
	for rows.Next() {
		var is model.GradingIssue
		if err := rows.Scan(&is.SessionID, &is.QuestionID, &is.Code, &is.Detail, &is.DetectedAt); err != nil {
			return nil, err
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// ListExpired returns in_progress sessions whose deadline, clipped to the exam's
// availability end, lies before now.
func (r *ExamSessionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id
		 FROM exam_sessions s
		 JOIN exams e ON e.id = s.exam_id
		 WHERE s.status = $1
		   AND LEAST(s.started_at + make_interval(mins => e.duration_minutes),
		             COALESCE(e.available_until, 'infinity'::timestamptz)) < $2
		 ORDER BY s.started_at ASC
		 LIMIT $3`,
		model.SessionStatusInProgress, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func replaceIssues(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, issues []model.GradingIssue) error {
	if _, err := tx.Exec(ctx, `DELETE FROM grading_issues WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear grading issues: %w", err)
	}
	if len(issues) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, is := range issues {
		batch.Queue(
			`INSERT INTO grading_issues (session_id, question_id, code, detail, detected_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			sessionID, is.QuestionID, is.Code, is.Detail, is.DetectedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert grading issues: %w", err)
	}
	return nil
}
