package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/examcore/internal/config"
	"github.com/stemsi/examcore/internal/model"
)

// closedTTL bounds how long a submitted session keeps rejecting buffered edits.
// Past it the database status check still rejects them.
const closedTTL = 48 * time.Hour

// putAnswerScript stores one edit atomically: closed sessions are refused, an identical
// value is a no-op, anything else takes the next session sequence and is queued for
// persistence. The sequence is the Redis clock in microseconds, bumped past the last one
// handed out, so it keeps growing when the counter key is lost and the persisted
// seq guard never rejects newer edits. It is sent as a decimal string; Lua numbers
// lose digits when cjson encodes them.
//
// KEYS: answers hash, seq counter, closed flag, persist queue
// ARGV: question id, value, session id
var putAnswerScript = redis.NewScript(`
redis.replicate_commands()
if redis.call('EXISTS', KEYS[3]) == 1 then
	return -1
end
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur == ARGV[2] then
	return 0
end
local t = redis.call('TIME')
local seq = tonumber(t[1]) * 1000000 + tonumber(t[2])
local last = tonumber(redis.call('GET', KEYS[2]) or '0')
if seq <= last then
	seq = last + 1
end
local s = string.format('%d', seq)
redis.call('SET', KEYS[2], s)
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[4], cjson.encode({session_id = ARGV[3], question_id = ARGV[1], value = ARGV[2], seq = s}))
return 1
`)

// AnswerBuffer keeps in-flight answers in Redis and feeds the autosave queue.
type AnswerBuffer struct {
	rdb *redis.Client
}

// NewAnswerBuffer creates a new AnswerBuffer.
func NewAnswerBuffer(rdb *redis.Client) *AnswerBuffer {
	return &AnswerBuffer{rdb: rdb}
}

// Put records the latest value for a question.
func (b *AnswerBuffer) Put(ctx context.Context, sessionID, questionID uuid.UUID, value string) (model.BufferOutcome, error) {
	sid := sessionID.String()
	keys := []string{
		config.CacheKey.SessionAnswersKey(sid),
		config.CacheKey.SessionSeqKey(sid),
		config.CacheKey.SessionClosedKey(sid),
		config.WorkerKey.PersistAnswersQueue,
	}

	res, err := putAnswerScript.Run(ctx, b.rdb, keys, questionID.String(), value, sid).Int()
	if err != nil {
		return 0, err
	}

	switch res {
	case -1:
		return model.BufferClosed, nil
	case 0:
		return model.BufferUnchanged, nil
	default:
		return model.BufferStored, nil
	}
}

// All returns every buffered answer of a session.
func (b *AnswerBuffer) All(ctx context.Context, sessionID uuid.UUID) (model.Answers, error) {
	raw, err := b.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(sessionID.String())).Result()
	if err != nil {
		return nil, err
	}

	answers := make(model.Answers, len(raw))
	for k, v := range raw {
		qid, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("buffered question id %q: %w", k, err)
		}
		answers[qid] = v
	}
	return answers, nil
}

// Close marks the session closed and drops its buffered answers. Queued edits that
// were not yet persisted are refused by the autosave worker's status check.
func (b *AnswerBuffer) Close(ctx context.Context, sessionID uuid.UUID) error {
	sid := sessionID.String()
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.SessionClosedKey(sid), 1, closedTTL)
	pipe.Del(ctx, config.CacheKey.SessionAnswersKey(sid), config.CacheKey.SessionSeqKey(sid))
	_, err := pipe.Exec(ctx)
	return err
}
