// services/leaderboard_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"endgame-arena/models"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const leaderboardGenerationKey = "leaderboard:gen"

type LeaderboardSort string

const (
	SortByElo      LeaderboardSort = "elo"
	SortByEarnings LeaderboardSort = "earnings"
)

type LeaderboardEntry struct {
	Rank           int                `json:"rank"`
	AgentID        string             `json:"agent_id"`
	Name           string             `json:"name"`
	Handle         string             `json:"handle"`
	Platform       string             `json:"platform"`
	WeightClass    models.WeightClass `json:"weight_class"`
	EloRating      float64            `json:"elo_rating"`
	Wins           int64              `json:"wins"`
	Losses         int64              `json:"losses"`
	Draws          int64              `json:"draws"`
	TotalMatches   int64              `json:"total_matches"`
	TotalViqEarned decimal.Decimal    `json:"total_viq_earned"`
	StakingTier    models.StakingTier `json:"staking_tier"`
	AvatarURL      string             `json:"avatar_url,omitempty"`
}

type LeaderboardQuery struct {
	WeightClass models.WeightClass
	Sort        LeaderboardSort
	Limit       int
}

type LeaderboardService struct {
	DB    *gorm.DB
	Cache *Cache
	TTL   time.Duration
}

func NewLeaderboardService(db *gorm.DB, cache *Cache, ttl time.Duration) *LeaderboardService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LeaderboardService{DB: db, Cache: cache, TTL: ttl}
}

// Leaderboard ranks verified agents. Results are cached until the TTL runs
// out or a match settles.
func (s *LeaderboardService) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	if q.Sort == "" {
		q.Sort = SortByElo
	}
	if q.Sort != SortByElo && q.Sort != SortByEarnings {
		return nil, invalidInput("sort must be elo or earnings")
	}
	if q.WeightClass != "" && !q.WeightClass.Valid() {
		return nil, invalidInput("unknown weight class %q", q.WeightClass)
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 50
	}

	gen, err := s.Cache.Generation(ctx, leaderboardGenerationKey)
	if err != nil {
		log.Warn().Err(err).Msg("[LEADERBOARD] cache generation read failed")
	}
	key := fmt.Sprintf("leaderboard:%d:%s:%s:%d", gen, q.WeightClass, q.Sort, q.Limit)

	var cached []LeaderboardEntry
	if hit, err := s.Cache.GetJSON(ctx, key, &cached); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[LEADERBOARD] cache read failed")
	} else if hit {
		return cached, nil
	}

	db := s.DB.WithContext(ctx).Model(&models.Agent{}).Where("is_verified = ?", true)
	if q.WeightClass != "" {
		db = db.Where("weight_class = ?", q.WeightClass)
	}
	switch q.Sort {
	case SortByEarnings:
		db = db.Order("total_viq_earned DESC").Order("elo_rating DESC")
	default:
		db = db.Order("elo_rating DESC").Order("wins DESC")
	}
	var agents []models.Agent
	if err := db.Order("created_at ASC").Limit(q.Limit).Find(&agents).Error; err != nil {
		return nil, internal(err, "failed to load leaderboard")
	}

	entries := make([]LeaderboardEntry, 0, len(agents))
	for i, a := range agents {
		entries = append(entries, LeaderboardEntry{
			Rank:           i + 1,
			AgentID:        a.ID,
			Name:           a.Name,
			Handle:         a.Handle,
			Platform:       a.Platform,
			WeightClass:    a.WeightClass,
			EloRating:      a.EloRating,
			Wins:           a.Wins,
			Losses:         a.Losses,
			Draws:          a.Draws,
			TotalMatches:   a.TotalMatches,
			TotalViqEarned: a.TotalViqEarned,
			StakingTier:    a.StakingTier,
			AvatarURL:      a.AvatarURL,
		})
	}

	if err := s.Cache.SetJSON(ctx, key, entries, s.TTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[LEADERBOARD] cache write failed")
	}
	return entries, nil
}

// Invalidate drops every cached leaderboard page.
func (s *LeaderboardService) Invalidate(ctx context.Context) {
	if err := s.Cache.Bump(ctx, leaderboardGenerationKey); err != nil {
		log.Warn().Err(err).Msg("[LEADERBOARD] cache invalidation failed")
	}
}
