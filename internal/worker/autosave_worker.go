package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/config"
)

const (
	AutosaveBatchSize    = 100
	AutosaveBatchTimeout = 500 * time.Millisecond
	AutosavePollTimeout  = 1 * time.Second
	AutosaveRetries      = 5
	autosaveBaseBackoff  = 200 * time.Millisecond
)

// AutosaveWorker consumes persist_answers_queue and UPSERTs buffered answers to PostgreSQL.
type AutosaveWorker struct {
	pool       *pgxpool.Pool
	rdb        *redis.Client
	maxBackoff time.Duration
	log        zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		pool:       pool,
		rdb:        rdb,
		maxBackoff: cfg.AutosaveMaxBackoff,
		log:        log.With().Str("component", "autosave_worker").Logger(),
	}
}

// answerPayload is the queue entry written by the answer buffer script. Seq arrives as
// a decimal string; entries queued by older releases carry a JSON number.
type answerPayload struct {
	SessionID  string      `json:"session_id"`
	QuestionID string      `json:"question_id"`
	Value      string      `json:"value"`
	Seq        json.Number `json:"seq"`
}

type answerKey struct {
	session  uuid.UUID
	question uuid.UUID
}

type answerRow struct {
	answerKey
	value string
	seq   int64
	raw   string
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start begins the worker loop. Call in a goroutine; it drains the queue before returning.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]answerRow, 0, AutosaveBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AutosaveBatchSize || time.Since(lastFlush) >= AutosaveBatchTimeout) {
			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.flush(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			item, err := w.rdb.BLPop(ctx, AutosavePollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}
			if row, ok := w.decode(item[1]); ok {
				batch = append(batch, row)
			}
		}
	}
}

func (w *AutosaveWorker) decode(raw string) (answerRow, bool) {
	var p answerPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload")
		return answerRow{}, false
	}
	sid, err := uuid.Parse(p.SessionID)
	if err != nil {
		w.log.Error().Err(err).Msg("Invalid session id in payload")
		return answerRow{}, false
	}
	qid, err := uuid.Parse(p.QuestionID)
	if err != nil {
		w.log.Error().Err(err).Msg("Invalid question id in payload")
		return answerRow{}, false
	}
	seq, err := p.Seq.Int64()
	if err != nil {
		w.log.Error().Err(err).Msg("Invalid seq in payload")
		return answerRow{}, false
	}
	return answerRow{answerKey: answerKey{sid, qid}, value: p.Value, seq: seq, raw: raw}, true
}

// ----------------------------------------------------------------
// Persistence with retry
// ----------------------------------------------------------------

// flush persists a batch, retrying with exponential backoff. Rows that still fail are
// pushed back to the queue; their seq keeps a later retry from overwriting newer edits.
func (w *AutosaveWorker) flush(ctx context.Context, batch []answerRow) {
	if len(batch) == 0 {
		return
	}
	rows := latestPerQuestion(batch)

	backoff := autosaveBaseBackoff
	var err error
	for attempt := 1; attempt <= AutosaveRetries; attempt++ {
		if err = w.persist(ctx, rows); err == nil {
			return
		}
		w.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("rows", len(rows)).
			Dur("backoff", backoff).
			Msg("Persist failed, retrying")

		if !sleepCtx(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, w.maxBackoff)
	}

	w.log.Error().Err(err).Int("rows", len(rows)).Msg("Persist failed, requeueing")
	pipe := w.rdb.Pipeline()
	for _, r := range rows {
		pipe.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, r.raw)
	}
	if _, err := pipe.Exec(context.Background()); err != nil {
		w.log.Error().Err(err).Msg("Requeue failed, edits remain only in the answer buffer")
	}
}

// persist writes the rows in one statement. Rows of sessions that are no longer
// in_progress are skipped; FOR SHARE keeps a concurrent submit from interleaving.
func (w *AutosaveWorker) persist(ctx context.Context, rows []answerRow) error {
	n := len(rows)
	sessions := make([]uuid.UUID, 0, n)
	questions := make([]uuid.UUID, 0, n)
	values := make([]string, 0, n)
	seqs := make([]int64, 0, n)
	for _, r := range rows {
		sessions = append(sessions, r.session)
		questions = append(questions, r.question)
		values = append(values, r.value)
		seqs = append(seqs, r.seq)
	}

	query := `
		WITH open_sessions AS (
			SELECT id FROM exam_sessions
			WHERE id = ANY($1::uuid[]) AND status = 'in_progress'
			FOR SHARE
		)
		INSERT INTO session_answers (session_id, question_id, value, seq, updated_at)
		SELECT u.session_id, u.question_id, u.value, u.seq, NOW()
		FROM UNNEST(
			$1::uuid[],
			$2::uuid[],
			$3::text[],
			$4::bigint[]
		) AS u (session_id, question_id, value, seq)
		JOIN open_sessions o ON o.id = u.session_id
		ON CONFLICT (session_id, question_id) DO UPDATE
		SET value = EXCLUDED.value, seq = EXCLUDED.seq, updated_at = NOW()
		WHERE session_answers.seq < EXCLUDED.seq
	`

	tag, err := w.pool.Exec(ctx, query, sessions, questions, values, seqs)
	if err != nil {
		return err
	}

	w.log.Debug().
		Int("rows", n).
		Int64("written", tag.RowsAffected()).
		Msg("Answers persisted")
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raws, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistAnswersQueue, AutosaveBatchSize).Result()
		if err != nil || len(raws) == 0 {
			break
		}

		batch := make([]answerRow, 0, len(raws))
		for _, raw := range raws {
			if row, ok := w.decode(raw); ok {
				batch = append(batch, row)
			}
		}

		rows := latestPerQuestion(batch)
		if err := w.persist(ctx, rows); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			pipe := w.rdb.Pipeline()
			for _, r := range rows {
				pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, r.raw)
			}
			_, _ = pipe.Exec(ctx)
			break
		}
		drained += len(rows)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// latestPerQuestion keeps the highest-seq edit per (session, question). A single
// UPSERT statement cannot touch the same row twice.
func latestPerQuestion(batch []answerRow) []answerRow {
	idx := make(map[answerKey]int, len(batch))
	out := make([]answerRow, 0, len(batch))
	for _, r := range batch {
		if i, ok := idx[r.answerKey]; ok {
			if r.seq > out[i].seq {
				out[i] = r
			}
			continue
		}
		idx[r.answerKey] = len(out)
		out = append(out, r)
	}
	return out
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if limit > 0 && next > limit {
		return limit
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
