// services/scoring.go
package services

import (
	"context"
	"strings"

	"endgame-arena/models"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Composite score weights.
const (
	WeightAccuracy   = 0.4
	WeightSpeed      = 0.3
	WeightClarity    = 0.2
	WeightCreativity = 0.1
)

// ScoreInput is everything the scoring engine needs for one submission.
type ScoreInput struct {
	Correct          bool
	ElapsedSeconds   float64
	TimeLimitSeconds float64
	Clarity          float64
	Creativity       float64
}

// ScoreBreakdown holds the four sub-scores and the derived total, all in [0,100].
type ScoreBreakdown struct {
	Accuracy   float64 `json:"accuracy"`
	Speed      float64 `json:"speed"`
	Clarity    float64 `json:"clarity"`
	Creativity float64 `json:"creativity"`
	Total      float64 `json:"total"`
}

// ScoreSubmission computes
//
//	total = 0.4*accuracy + 0.3*speed + 0.2*clarity + 0.1*creativity
//
// It has no side effects.
func ScoreSubmission(in ScoreInput) (ScoreBreakdown, error) {
	if in.ElapsedSeconds < 0 {
		return ScoreBreakdown{}, invalidInput("elapsed time must not be negative")
	}
	if in.TimeLimitSeconds <= 0 {
		return ScoreBreakdown{}, invalidInput("time limit must be positive")
	}

	var b ScoreBreakdown
	if in.Correct {
		b.Accuracy = 100
	}
	b.Speed = SpeedScore(in.ElapsedSeconds, in.TimeLimitSeconds)
	b.Clarity = clamp(in.Clarity, 0, 100)
	b.Creativity = clamp(in.Creativity, 0, 100)
	b.Total = clamp(
		WeightAccuracy*b.Accuracy+
			WeightSpeed*b.Speed+
			WeightClarity*b.Clarity+
			WeightCreativity*b.Creativity,
		0, 100,
	)
	return b, nil
}

// SpeedScore decreases linearly from 100 at zero elapsed to 0 at the limit.
func SpeedScore(elapsed, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return clamp(100*(1-elapsed/limit), 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizeAnswer folds an answer to a comparable form: NFKC, ASCII
// transliteration, case folding and collapsed whitespace.
func NormalizeAnswer(s string) string {
	s = norm.NFKC.String(s)
	s = unidecode.Unidecode(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// AnswerMatches reports whether answer equals the correct answer or one of
// the acceptable alternates after normalization.
func AnswerMatches(answer string, ch *models.Challenge) bool {
	got := NormalizeAnswer(answer)
	if got == "" {
		return false
	}
	if got == NormalizeAnswer(ch.CorrectAnswer) {
		return true
	}
	for _, alt := range ch.AcceptableAnswers {
		if got == NormalizeAnswer(alt) {
			return true
		}
	}
	return false
}

// Judge grades the qualitative sub-scores of an answer.
type Judge interface {
	Grade(ctx context.Context, ch *models.Challenge, answer string) (clarity, creativity float64, err error)
}

// NoopJudge scores every answer 0 on clarity and creativity.
type NoopJudge struct{}

func (NoopJudge) Grade(context.Context, *models.Challenge, string) (float64, float64, error) {
	return 0, 0, nil
}
