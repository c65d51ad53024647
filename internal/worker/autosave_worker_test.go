package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestLatestPerQuestionKeepsHighestSeq(t *testing.T) {
	s := uuid.New()
	q1, q2 := uuid.New(), uuid.New()
	batch := []answerRow{
		{answerKey: answerKey{s, q1}, value: "A", seq: 1},
		{answerKey: answerKey{s, q2}, value: "x", seq: 2},
		{answerKey: answerKey{s, q1}, value: "C", seq: 4},
		{answerKey: answerKey{s, q1}, value: "B", seq: 3},
	}

	rows := latestPerQuestion(batch)
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].question != q1 || rows[0].value != "C" || rows[0].seq != 4 {
		t.Errorf("q1 row = %+v", rows[0])
	}
	if rows[1].question != q2 || rows[1].value != "x" {
		t.Errorf("q2 row = %+v", rows[1])
	}
}

func TestNextBackoff(t *testing.T) {
	limit := time.Second
	got := []time.Duration{}
	b := autosaveBaseBackoff
	for i := 0; i < 4; i++ {
		b = nextBackoff(b, limit)
		got = append(got, b)
	}
	want := []time.Duration{400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoffs = %v, want %v", got, want)
		}
	}
	if nextBackoff(time.Minute, 0) != 2*time.Minute {
		t.Error("zero limit must not cap")
	}
}

func TestDecode(t *testing.T) {
	w := &AutosaveWorker{log: zerolog.Nop()}
	s, q := uuid.New(), uuid.New()

	row, ok := w.decode(`{"session_id":"` + s.String() + `","question_id":"` + q.String() + `","value":"B","seq":7}`)
	if !ok || row.session != s || row.question != q || row.value != "B" || row.seq != 7 {
		t.Fatalf("decode = %+v, %v", row, ok)
	}

	for _, raw := range []string{
		`not json`,
		`{"session_id":"` + s.String() + `","question_id":"` + q.String() + `","value":"B","seq":"x"}`,
		`{"session_id":"x","question_id":"` + q.String() + `"}`,
		`{"session_id":"` + s.String() + `","question_id":"y"}`,
	} {
		if _, ok := w.decode(raw); ok {
			t.Errorf("decoded %q", raw)
		}
	}
}

func TestSleepCtxStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Fatal("sleepCtx ignored cancellation")
	}
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatal("sleepCtx returned early")
	}
}

func TestClockSequenceOutranksCounterAfterReset(t *testing.T) {
	w := &AutosaveWorker{log: zerolog.Nop()}
	s, q := uuid.New(), uuid.New()
	prefix := `{"session_id":"` + s.String() + `","question_id":"` + q.String() + `",`

	// Persisted before the counter key was lost, then the next edit from the buffer.
	legacy, ok := w.decode(prefix + `"value":"A","seq":7}`)
	if !ok {
		t.Fatal("numeric seq rejected")
	}
	fresh, ok := w.decode(prefix + `"value":"B","seq":"1760000000123456"}`)
	if !ok {
		t.Fatal("string seq rejected")
	}
	if fresh.seq != 1760000000123456 {
		t.Fatalf("seq = %d, digits lost", fresh.seq)
	}

	rows := latestPerQuestion([]answerRow{fresh, legacy})
	if len(rows) != 1 || rows[0].value != "B" {
		t.Fatalf("rows = %+v, want the post-reset edit", rows)
	}
}
