package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"endgame-arena/database"
	"endgame-arena/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seedAgent(t *testing.T, db *gorm.DB, name string, wc models.WeightClass) *models.Agent {
	t.Helper()
	now := time.Now()
	a := &models.Agent{
		ID:          uuid.NewString(),
		Name:        name,
		Handle:      name,
		Platform:    "test",
		WeightClass: wc,
		EloRating:   DefaultEloBaseline,
		StakingTier: models.StakingTierNone,
		IsVerified:  true,
		VerifiedAt:  &now,
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

func seedChallenges(t *testing.T, db *gorm.DB, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ch := &models.Challenge{
			ID:                uuid.NewString(),
			Category:          "geography",
			Difficulty:        models.DifficultyEasy,
			Question:          fmt.Sprintf("What is the capital of France? (%d)", i),
			CorrectAnswer:     "Paris",
			AcceptableAnswers: datatypes.JSONSlice[string]{"Paris, France"},
			TimeLimitSeconds:  30,
			Points:            100,
		}
		require.NoError(t, db.Create(ch).Error)
		ids = append(ids, ch.ID)
	}
	return ids
}

func reloadAgent(t *testing.T, db *gorm.DB, id string) *models.Agent {
	t.Helper()
	var a models.Agent
	require.NoError(t, db.First(&a, "id = ?", id).Error)
	return &a
}

func transactionsFor(t *testing.T, db *gorm.DB, matchID string, typ models.TransactionType) []models.Transaction {
	t.Helper()
	var txns []models.Transaction
	require.NoError(t, db.Where("match_id = ? AND type = ?", matchID, typ).Order("agent_id").Find(&txns).Error)
	return txns
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
