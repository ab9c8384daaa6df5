// services/challenge_service.go
package services

import (
	"context"
	"strings"

	"endgame-arena/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChallengeService struct {
	DB *gorm.DB
}

func NewChallengeService(db *gorm.DB) *ChallengeService {
	return &ChallengeService{DB: db}
}

type CreateChallengeInput struct {
	Category          string   `json:"category"`
	Difficulty        string   `json:"difficulty"`
	Question          string   `json:"question"`
	CorrectAnswer     string   `json:"correct_answer"`
	AcceptableAnswers []string `json:"acceptable_answers"`
	TimeLimitSeconds  int      `json:"time_limit_seconds"`
	Points            int      `json:"points"`
}

// CreateChallenge adds a question to the bank. Challenges are immutable.
func (s *ChallengeService) CreateChallenge(ctx context.Context, in CreateChallengeInput) (*models.Challenge, error) {
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Question = strings.TrimSpace(in.Question)
	in.CorrectAnswer = strings.TrimSpace(in.CorrectAnswer)

	if in.Category == "" || in.Question == "" {
		return nil, invalidInput("category and question are required")
	}
	if NormalizeAnswer(in.CorrectAnswer) == "" {
		return nil, invalidInput("correct_answer is required")
	}
	switch in.Difficulty {
	case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
	case "":
		in.Difficulty = models.DifficultyMedium
	default:
		return nil, invalidInput("difficulty must be easy, medium or hard")
	}
	if in.TimeLimitSeconds <= 0 || in.TimeLimitSeconds > 600 {
		return nil, invalidInput("time_limit_seconds must be between 1 and 600")
	}
	if in.Points <= 0 {
		in.Points = 100
	}

	alts := datatypes.JSONSlice[string]{}
	for _, a := range in.AcceptableAnswers {
		if a = strings.TrimSpace(a); a != "" {
			alts = append(alts, a)
		}
	}

	ch := &models.Challenge{
		ID:                uuid.NewString(),
		Category:          in.Category,
		Difficulty:        in.Difficulty,
		Question:          in.Question,
		CorrectAnswer:     in.CorrectAnswer,
		AcceptableAnswers: alts,
		TimeLimitSeconds:  in.TimeLimitSeconds,
		Points:            in.Points,
	}
	if err := s.DB.WithContext(ctx).Create(ch).Error; err != nil {
		return nil, internal(err, "failed to create challenge")
	}
	return ch, nil
}

func (s *ChallengeService) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	var ch models.Challenge
	if err := s.DB.WithContext(ctx).First(&ch, "id = ?", id).Error; err != nil {
		return nil, lookupErr(err, "challenge")
	}
	return &ch, nil
}

// ListChallenges returns bank entries without their answers.
func (s *ChallengeService) ListChallenges(ctx context.Context, category, difficulty string, limit int) ([]models.Challenge, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if category != "" {
		q = q.Where("category = ?", strings.ToLower(category))
	}
	if difficulty != "" {
		q = q.Where("difficulty = ?", difficulty)
	}
	var out []models.Challenge
	if err := q.Find(&out).Error; err != nil {
		return nil, internal(err, "failed to list challenges")
	}
	return out, nil
}
