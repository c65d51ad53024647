package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/config"
)

// ExpirySweeper force-submits sessions whose deadline has passed.
type ExpirySweeper interface {
	SubmitExpired(ctx context.Context, limit int) (int, error)
}

// SweepWorker periodically closes expired sessions that no live connection submitted,
// e.g. after a participant closed the browser.
type SweepWorker struct {
	sweeper  ExpirySweeper
	rdb      *redis.Client
	schedule string
	batch    int
	owner    string
	log      zerolog.Logger
}

// NewSweepWorker creates a new SweepWorker.
func NewSweepWorker(sweeper ExpirySweeper, rdb *redis.Client, cfg *config.Config, log zerolog.Logger) *SweepWorker {
	return &SweepWorker{
		sweeper:  sweeper,
		rdb:      rdb,
		schedule: cfg.SweepSchedule,
		batch:    cfg.SweepBatch,
		owner:    uuid.NewString(),
		log:      log.With().Str("component", "sweep_worker").Logger(),
	}
}

// Start runs the cron schedule until ctx is cancelled and waits for a running sweep.
func (w *SweepWorker) Start(ctx context.Context) error {
	logger := cronLogger{log: w.log}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(w.schedule, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("add sweep schedule %q: %w", w.schedule, err)
	}

	w.log.Info().Str("schedule", w.schedule).Int("batch", w.batch).Msg("Worker started")
	c.Start()

	<-ctx.Done()
	w.log.Info().Msg("Worker stopping...")
	<-c.Stop().Done()
	w.log.Info().Msg("Worker stopped")
	return nil
}

func (w *SweepWorker) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, _, err := w.RunLocked(ctx); err != nil {
		w.log.Error().Err(err).Msg("Sweep failed")
	}
}

// RunLocked sweeps once while holding the shared sweep lock, so server instances and
// examctl never sweep concurrently. ran is false when another holder has the lock.
func (w *SweepWorker) RunLocked(ctx context.Context) (n int, ran bool, err error) {
	ok, err := w.rdb.SetNX(ctx, config.WorkerKey.SweepLock, w.owner, time.Minute).Result()
	if err != nil {
		return 0, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	defer w.release()

	n, err = w.RunOnce(ctx)
	return n, true, err
}

// RunOnce sweeps until no expired session is left or a batch closes nothing.
func (w *SweepWorker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.sweeper.SubmitExpired(ctx, w.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batch || n == 0 {
			break
		}
	}
	if total > 0 {
		w.log.Info().Int("submitted", total).Msg("Expired sessions force-submitted")
	}
	return total, nil
}

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

func (w *SweepWorker) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseLockScript.Run(ctx, w.rdb, []string{config.WorkerKey.SweepLock}, w.owner).Err(); err != nil {
		w.log.Warn().Err(err).Msg("Release sweep lock failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
