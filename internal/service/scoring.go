package service

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/examcore/internal/model"
)

// QuestionResult is the scoring outcome for one question of a session.
type QuestionResult struct {
	QuestionID    uuid.UUID          `json:"question_id"`
	Type          model.QuestionType `json:"type"`
	MaxPoints     float64            `json:"max_points"`
	Awarded       float64            `json:"awarded"`
	Answered      bool               `json:"answered"`
	PendingManual bool               `json:"pending_manual"`
}

// Scorecard aggregates a session's score from scratch.
type Scorecard struct {
	Score       float64              `json:"score"`
	TotalPoints float64              `json:"total_points"`
	AutoScore   float64              `json:"auto_score"`
	ManualScore float64              `json:"manual_score"`
	Pending     []uuid.UUID          `json:"pending"`
	Issues      []model.GradingIssue `json:"issues,omitempty"`
	Items       []QuestionResult     `json:"items"`
}

// Complete reports whether every answered, manually graded question has an entry.
func (c *Scorecard) Complete() bool {
	return len(c.Pending) == 0
}

// Status is the session status this scorecard justifies after submission.
func (c *Scorecard) Status() model.SessionStatus {
	if c.Complete() {
		return model.SessionStatusGraded
	}
	return model.SessionStatusSubmitted
}

// Score computes the automatic part fresh from the current answer keys and adds
// the manual entries recorded so far. A missing key on an objective question scores
// that question 0 and is reported as an issue; it never aborts the pass.
// Unanswered manual questions contribute 0 and do not block completion.
func Score(questions []model.Question, answers model.Answers, grades []model.ManualGradeEntry) Scorecard {
	byQuestion := make(map[uuid.UUID]model.ManualGradeEntry, len(grades))
	for _, g := range grades {
		byQuestion[g.QuestionID] = g
	}

	ordered := make([]model.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OrderIndex < ordered[j].OrderIndex })

	card := Scorecard{
		Pending: []uuid.UUID{},
		Items:   make([]QuestionResult, 0, len(ordered)),
	}

	for _, q := range ordered {
		card.TotalPoints += q.Points
		item := QuestionResult{
			QuestionID: q.ID,
			Type:       q.Type,
			MaxPoints:  q.Points,
			Answered:   answers.Answered(q.ID),
		}

		switch {
		case q.Type.AutoGraded():
			if q.CorrectAnswer == nil || *q.CorrectAnswer == "" {
				card.Issues = append(card.Issues, model.GradingIssue{
					QuestionID: q.ID,
					Code:       model.IssueMissingKey,
					Detail:     ErrMissingKey.Msg,
				})
				break
			}
			if item.Answered && answers[q.ID] == *q.CorrectAnswer {
				item.Awarded = q.Points
				card.AutoScore += q.Points
			}

		case q.Type.ManuallyGraded():
			g, graded := byQuestion[q.ID]
			if graded {
				item.Awarded = clamp(g.AwardedPoints, 0, q.Points)
				card.ManualScore += item.Awarded
			} else if item.Answered {
				item.PendingManual = true
				card.Pending = append(card.Pending, q.ID)
			}
		}

		card.Items = append(card.Items, item)
	}

	card.Score = card.AutoScore + card.ManualScore
	return card
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
