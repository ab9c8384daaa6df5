// services/match_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"endgame-arena/metrics"
	"endgame-arena/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	maxRounds       = 20
	maxAnswerLength = 4000
)

// CacheInvalidator is told when settled results change agent standings.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// MatchService owns the match state machine. All coordination between
// concurrent requests goes through database transactions.
type MatchService struct {
	DB          *gorm.DB
	Judge       Judge
	Invalidator CacheInvalidator
	KFactor     float64
	// RoundGrace is added to a challenge's time limit before a stalled round
	// is closed by the sweeper.
	RoundGrace time.Duration
	// PendingTimeout cancels matches that never fill up.
	PendingTimeout time.Duration
	Now            func() time.Time
}

func NewMatchService(db *gorm.DB) *MatchService {
	return &MatchService{
		DB:             db,
		Judge:          NoopJudge{},
		KFactor:        DefaultKFactor,
		RoundGrace:     15 * time.Second,
		PendingTimeout: 30 * time.Minute,
		Now:            time.Now,
	}
}

// CreateMatchInput describes a new match.
type CreateMatchInput struct {
	GameType     models.GameType    `json:"game_type"`
	WeightClass  models.WeightClass `json:"weight_class"`
	EntryFee     decimal.Decimal    `json:"entry_fee"`
	PrizePool    decimal.Decimal    `json:"prize_pool"`
	TotalRounds  int                `json:"total_rounds"`
	ChallengeIDs []string           `json:"challenge_ids"`
}

// CreateMatch validates the request and stores a pending match.
func (s *MatchService) CreateMatch(ctx context.Context, in CreateMatchInput) (*models.Match, error) {
	policy, ok := PolicyFor(in.GameType)
	if !ok {
		return nil, invalidInput("unknown game type %q", in.GameType)
	}
	if !in.WeightClass.Valid() {
		return nil, invalidInput("unknown weight class %q", in.WeightClass)
	}
	if in.EntryFee.IsNegative() || in.PrizePool.IsNegative() {
		return nil, invalidInput("entry fee and prize pool must not be negative")
	}

	rounds := in.TotalRounds
	if len(in.ChallengeIDs) > 0 {
		if rounds != 0 && rounds != len(in.ChallengeIDs) {
			return nil, invalidInput("total_rounds must match the number of challenge_ids")
		}
		rounds = len(in.ChallengeIDs)
	}
	if rounds == 0 {
		rounds = policy.DefaultRounds
	}
	if rounds < 1 || rounds > maxRounds {
		return nil, invalidInput("total_rounds must be between 1 and %d", maxRounds)
	}

	db := s.DB.WithContext(ctx)
	challengeIDs := in.ChallengeIDs
	if len(challengeIDs) > 0 {
		var found int64
		if err := db.Model(&models.Challenge{}).Where("id IN ?", challengeIDs).Count(&found).Error; err != nil {
			return nil, internal(err, "failed to check challenges")
		}
		if int(found) != countDistinct(challengeIDs) {
			return nil, invalidInput("one or more challenge_ids do not exist")
		}
	} else {
		if err := db.Model(&models.Challenge{}).
			Order("RANDOM()").
			Limit(rounds).
			Pluck("id", &challengeIDs).Error; err != nil {
			return nil, internal(err, "failed to draw challenges")
		}
		if len(challengeIDs) < rounds {
			return nil, invalidInput("challenge bank has only %d challenges", len(challengeIDs))
		}
	}

	match := &models.Match{
		ID:             uuid.NewString(),
		GameType:       in.GameType,
		WeightClass:    in.WeightClass,
		Status:         models.MatchStatusPending,
		ParticipantIDs: []string{},
		TotalRounds:    rounds,
		PrizePool:      in.PrizePool,
		EntryFee:       in.EntryFee,
		ChallengeIDs:   challengeIDs,
	}
	if err := db.Create(match).Error; err != nil {
		return nil, internal(err, "failed to create match")
	}

	log.Info().
		Str("match_id", match.ID).
		Str("game_type", string(match.GameType)).
		Int("rounds", rounds).
		Msg("[MATCH] created")
	return match, nil
}

// JoinMatch adds a verified agent to a pending match and activates it once
// the game type's minimum participant count is reached.
func (s *MatchService) JoinMatch(ctx context.Context, matchID, agentID string) (*models.Match, error) {
	var out models.Match
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.MatchStatusPending {
			return invalidState("match is %s and no longer accepts participants", m.Status)
		}

		var agent models.Agent
		if err := tx.First(&agent, "id = ?", agentID).Error; err != nil {
			return lookupErr(err, "agent")
		}
		if !agent.IsVerified {
			return forbidden("agent is not verified")
		}
		if agent.WeightClass != m.WeightClass {
			return invalidInput("agent weight class %s does not match %s", agent.WeightClass, m.WeightClass)
		}
		if m.HasParticipant(agentID) {
			return conflict("agent already joined this match")
		}

		policy, _ := PolicyFor(m.GameType)
		if len(m.ParticipantIDs) >= policy.MaxParticipants {
			return invalidState("match is full")
		}

		prevStatus, prevRound := m.Status, m.CurrentRound
		m.ParticipantIDs = append(m.ParticipantIDs, agentID)
		m.PrizePool = m.PrizePool.Add(m.EntryFee)

		if m.EntryFee.IsPositive() {
			if err := recordIntent(tx, agentID, &m.ID, models.TransactionTypeEntryFee, m.EntryFee,
				intentKey(models.TransactionTypeEntryFee, m.ID, agentID)); err != nil {
				return err
			}
		}

		if len(m.ParticipantIDs) >= policy.MinParticipants {
			now := s.now()
			m.Status = models.MatchStatusActive
			m.CurrentRound = 1
			m.StartedAt = &now
			m.RoundStartedAt = &now
		}

		if err := saveMatch(tx, m, prevStatus, prevRound); err != nil {
			return err
		}
		out = *m
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to join match")
	}

	log.Info().
		Str("match_id", out.ID).
		Str("agent_id", agentID).
		Str("status", string(out.Status)).
		Int("participants", len(out.ParticipantIDs)).
		Msg("[MATCH] agent joined")
	return &out, nil
}

// SubmitInput is one agent's answer for one round.
type SubmitInput struct {
	MatchID string `json:"-"`
	AgentID string `json:"-"`
	Round   int    `json:"round"`
	Answer  string `json:"answer"`
}

// SubmitResult is the stored submission and the match state after it.
type SubmitResult struct {
	Submission *models.Submission `json:"submission"`
	Match      *models.Match      `json:"match"`
}

// SubmitAnswer scores and stores a submission. Inside the same transaction it
// counts the round's submissions and advances or settles the match, so
// concurrent last-round submissions settle exactly once.
func (s *MatchService) SubmitAnswer(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	answer := strings.TrimSpace(in.Answer)
	if answer == "" {
		return nil, invalidInput("answer is required")
	}
	if len(answer) > maxAnswerLength {
		return nil, invalidInput("answer exceeds %d characters", maxAnswerLength)
	}
	if in.Round < 1 {
		return nil, invalidInput("round must be positive")
	}

	db := s.DB.WithContext(ctx)
	var m models.Match
	if err := db.First(&m, "id = ?", in.MatchID).Error; err != nil {
		return nil, lookupErr(err, "match")
	}
	if err := checkSubmittable(&m, in.AgentID, in.Round); err != nil {
		return nil, err
	}

	var ch models.Challenge
	if err := db.First(&ch, "id = ?", m.CurrentChallengeID()).Error; err != nil {
		return nil, internal(err, "failed to load challenge for round %d", in.Round)
	}

	now := s.now()
	elapsed := time.Duration(0)
	if m.RoundStartedAt != nil && now.After(*m.RoundStartedAt) {
		elapsed = now.Sub(*m.RoundStartedAt)
	}

	policy, _ := PolicyFor(m.GameType)
	var clarity, creativity float64
	if policy.Qualitative && s.Judge != nil {
		var err error
		clarity, creativity, err = s.Judge.Grade(ctx, &ch, answer)
		if err != nil {
			log.Warn().Err(err).Str("match_id", m.ID).Msg("[MATCH] judge failed, qualitative scores default to 0")
			clarity, creativity = 0, 0
		}
	}

	correct := AnswerMatches(answer, &ch)
	score, err := ScoreSubmission(ScoreInput{
		Correct:          correct,
		ElapsedSeconds:   elapsed.Seconds(),
		TimeLimitSeconds: float64(ch.TimeLimitSeconds),
		Clarity:          clarity,
		Creativity:       creativity,
	})
	if err != nil {
		return nil, err
	}

	sub := &models.Submission{
		ID:             uuid.NewString(),
		MatchID:        m.ID,
		AgentID:        in.AgentID,
		Round:          in.Round,
		ChallengeID:    ch.ID,
		Answer:         answer,
		IsCorrect:      correct,
		ResponseTimeMs: elapsed.Milliseconds(),
		Accuracy:       score.Accuracy,
		Speed:          score.Speed,
		Clarity:        score.Clarity,
		Creativity:     score.Creativity,
		TotalScore:     score.Total,
		EvaluatedAt:    now,
	}

	var after models.Match
	var finished bool
	err = db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockMatch(tx, in.MatchID)
		if err != nil {
			return err
		}
		if err := checkSubmittable(locked, in.AgentID, in.Round); err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&models.Submission{}).
			Where("match_id = ? AND agent_id = ? AND round = ?", sub.MatchID, sub.AgentID, sub.Round).
			Count(&existing).Error; err != nil {
			return internal(err, "failed to check submissions")
		}
		if existing > 0 {
			return conflict("answer already submitted for round %d", sub.Round)
		}
		if err := tx.Create(sub).Error; err != nil {
			if isUniqueViolation(err) {
				return conflict("answer already submitted for round %d", sub.Round)
			}
			return internal(err, "failed to store submission")
		}

		var submitted int64
		if err := tx.Model(&models.Submission{}).
			Where("match_id = ? AND round = ?", locked.ID, locked.CurrentRound).
			Count(&submitted).Error; err != nil {
			return internal(err, "failed to count submissions")
		}
		if int(submitted) >= len(locked.ParticipantIDs) {
			if finished, err = s.closeRound(tx, locked); err != nil {
				return err
			}
		}
		after = *locked
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to submit answer")
	}

	metrics.SubmissionsTotal.WithLabelValues(string(after.GameType), strconv.FormatBool(correct)).Inc()
	log.Info().
		Str("match_id", after.ID).
		Str("agent_id", in.AgentID).
		Int("round", in.Round).
		Float64("total", sub.TotalScore).
		Msg("[MATCH] submission scored")
	if finished {
		s.afterFinish(ctx, &after)
	}
	return &SubmitResult{Submission: sub, Match: &after}, nil
}

func checkSubmittable(m *models.Match, agentID string, round int) error {
	if m.Status.Terminal() {
		return invalidState("match is %s and no longer accepts submissions", m.Status)
	}
	if m.Status != models.MatchStatusActive {
		return invalidState("match has not started")
	}
	if !m.HasParticipant(agentID) {
		return forbidden("agent is not a participant of this match")
	}
	if round != m.CurrentRound {
		return invalidState("round %d is not open (current round is %d)", round, m.CurrentRound)
	}
	return nil
}

// closeRound advances to the next round or completes the match. It reports
// whether the match reached completion.
func (s *MatchService) closeRound(tx *gorm.DB, m *models.Match) (bool, error) {
	prevStatus, prevRound := m.Status, m.CurrentRound
	now := s.now()
	if m.CurrentRound < m.TotalRounds {
		m.CurrentRound++
		m.RoundStartedAt = &now
		return false, saveMatch(tx, m, prevStatus, prevRound)
	}
	if err := s.settle(tx, m); err != nil {
		return false, err
	}
	m.Status = models.MatchStatusCompleted
	m.CompletedAt = &now
	return true, saveMatch(tx, m, prevStatus, prevRound)
}

// settle ranks the agents, updates their records and ratings, and records
// pending reward intents. It runs inside the completing transaction.
func (s *MatchService) settle(tx *gorm.DB, m *models.Match) error {
	policy, _ := PolicyFor(m.GameType)

	var subs []models.Submission
	if err := tx.Where("match_id = ?", m.ID).Find(&subs).Error; err != nil {
		return internal(err, "failed to load submissions")
	}
	standings := RankStandings(policy, m.ParticipantIDs, subs)

	var agents []models.Agent
	if err := tx.Where("id IN ?", []string(m.ParticipantIDs)).Find(&agents).Error; err != nil {
		return internal(err, "failed to load participants")
	}
	ratings := make(map[string]float64, len(agents))
	tiers := make(map[string]models.StakingTier, len(agents))
	for _, a := range agents {
		ratings[a.ID] = a.EloRating
		tiers[a.ID] = a.StakingTier
	}
	deltas := RatingChanges(standings, ratings, s.kFactor())

	winner := WinnerOf(standings)
	if winner != "" {
		m.WinnerID = &winner
	} else {
		m.WinnerID = nil
	}

	for _, st := range standings {
		updates := map[string]any{
			"total_matches": gorm.Expr("total_matches + 1"),
			"elo_rating":    gorm.Expr("elo_rating + ?", deltas[st.AgentID]),
		}
		switch {
		case st.AgentID == winner:
			updates["wins"] = gorm.Expr("wins + 1")
		case winner == "" && st.Place == 1:
			updates["draws"] = gorm.Expr("draws + 1")
		default:
			updates["losses"] = gorm.Expr("losses + 1")
		}
		if err := tx.Model(&models.Agent{}).Where("id = ?", st.AgentID).Updates(updates).Error; err != nil {
			return internal(err, "failed to update agent %s", st.AgentID)
		}
	}

	for _, p := range DistributePrize(m.PrizePool, standings, policy.PayoutWeights, tiers) {
		if err := recordIntent(tx, p.AgentID, &m.ID, models.TransactionTypeReward, p.Amount,
			intentKey(models.TransactionTypeReward, m.ID, p.AgentID)); err != nil {
			return err
		}
	}
	return nil
}

// CancelMatch aborts a pending or active match and records refunds of any
// entry fees paid.
func (s *MatchService) CancelMatch(ctx context.Context, matchID, reason string) (*models.Match, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	if len(reason) > 64 {
		reason = reason[:64]
	}

	var out models.Match
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status.Terminal() {
			return invalidState("match is already %s", m.Status)
		}
		prevStatus, prevRound := m.Status, m.CurrentRound
		now := s.now()
		m.Status = models.MatchStatusCancelled
		m.CancelledAt = &now
		m.CancelReason = reason

		if m.EntryFee.IsPositive() {
			for _, agentID := range m.ParticipantIDs {
				if err := recordIntent(tx, agentID, &m.ID, models.TransactionTypeRefund, m.EntryFee,
					intentKey(models.TransactionTypeRefund, m.ID, agentID)); err != nil {
					return err
				}
			}
		}
		if err := saveMatch(tx, m, prevStatus, prevRound); err != nil {
			return err
		}
		out = *m
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to cancel match")
	}

	metrics.MatchesFinished.WithLabelValues(string(out.GameType), string(out.Status)).Inc()
	log.Info().Str("match_id", out.ID).Str("reason", reason).Msg("[MATCH] cancelled")
	return &out, nil
}

// ExpirePendingMatches cancels pending matches older than PendingTimeout.
func (s *MatchService) ExpirePendingMatches(ctx context.Context) (int, error) {
	if s.PendingTimeout <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.PendingTimeout)
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("status = ? AND created_at < ?", models.MatchStatusPending, cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, internal(err, "failed to list stale matches")
	}

	cancelled := 0
	for _, id := range ids {
		if _, err := s.CancelMatch(ctx, id, "timeout"); err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// AdvanceStalledRounds closes rounds whose time limit plus RoundGrace has
// passed. Missing submissions simply score zero.
func (s *MatchService) AdvanceStalledRounds(ctx context.Context) (int, error) {
	db := s.DB.WithContext(ctx)
	var active []models.Match
	if err := db.Where("status = ?", models.MatchStatusActive).Find(&active).Error; err != nil {
		return 0, internal(err, "failed to list active matches")
	}

	advanced := 0
	for i := range active {
		m := &active[i]
		if m.RoundStartedAt == nil {
			continue
		}
		var ch models.Challenge
		if err := db.First(&ch, "id = ?", m.CurrentChallengeID()).Error; err != nil {
			log.Error().Err(err).Str("match_id", m.ID).Msg("[MATCH] challenge missing for stalled round check")
			continue
		}
		deadline := m.RoundStartedAt.Add(time.Duration(ch.TimeLimitSeconds)*time.Second + s.RoundGrace)
		if s.now().Before(deadline) {
			continue
		}

		round := m.CurrentRound
		var after models.Match
		var finished bool
		err := db.Transaction(func(tx *gorm.DB) error {
			locked, err := s.lockMatch(tx, m.ID)
			if err != nil {
				return err
			}
			if locked.Status != models.MatchStatusActive || locked.CurrentRound != round {
				return nil
			}
			if finished, err = s.closeRound(tx, locked); err != nil {
				return err
			}
			after = *locked
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return advanced, passThrough(err, "failed to advance round")
		}
		if after.ID == "" {
			continue
		}
		advanced++
		log.Info().Str("match_id", after.ID).Int("closed_round", round).Msg("[MATCH] stalled round closed")
		if finished {
			s.afterFinish(ctx, &after)
		}
	}
	return advanced, nil
}

// GetMatch loads one match.
func (s *MatchService) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	if err := s.DB.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, lookupErr(err, "match")
	}
	return &m, nil
}

// MatchFilter narrows ListMatches.
type MatchFilter struct {
	Status   models.MatchStatus
	GameType models.GameType
	AgentID  string
	Limit    int
}

// ListMatches returns the newest matches first.
func (s *MatchService) ListMatches(ctx context.Context, f MatchFilter) ([]models.Match, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	q := s.DB.WithContext(ctx).Model(&models.Match{}).Order("created_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.GameType != "" {
		q = q.Where("game_type = ?", f.GameType)
	}
	if f.AgentID != "" {
		q = q.Where(datatypes.JSONArrayQuery("participant_ids").Contains(f.AgentID))
	}

	var matches []models.Match
	if err := q.Limit(f.Limit).Find(&matches).Error; err != nil {
		return nil, internal(err, "failed to list matches")
	}
	return matches, nil
}

// ListSubmissions returns the scored submissions spectators may see: every
// round of a finished match, otherwise only rounds already closed.
func (s *MatchService) ListSubmissions(ctx context.Context, matchID string) ([]models.Submission, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	q := s.DB.WithContext(ctx).Where("match_id = ?", m.ID).Order("round ASC, created_at ASC")
	if !m.Status.Terminal() {
		q = q.Where("round < ?", m.CurrentRound)
	}
	var subs []models.Submission
	if err := q.Find(&subs).Error; err != nil {
		return nil, internal(err, "failed to list submissions")
	}
	return subs, nil
}

// Standings computes current placements from the visible submissions.
func (s *MatchService) Standings(ctx context.Context, matchID string) ([]Standing, error) {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	subs, err := s.ListSubmissions(ctx, matchID)
	if err != nil {
		return nil, err
	}
	policy, _ := PolicyFor(m.GameType)
	return RankStandings(policy, m.ParticipantIDs, subs), nil
}

func (s *MatchService) afterFinish(ctx context.Context, m *models.Match) {
	metrics.MatchesFinished.WithLabelValues(string(m.GameType), string(m.Status)).Inc()
	winner := "draw"
	if m.WinnerID != nil {
		winner = *m.WinnerID
	}
	log.Info().Str("match_id", m.ID).Str("winner", winner).Msg("[MATCH] completed and settled")
	if s.Invalidator != nil {
		s.Invalidator.Invalidate(ctx)
	}
}

func (s *MatchService) lockMatch(tx *gorm.DB, id string) (*models.Match, error) {
	var m models.Match
	if err := lockForUpdate(tx).First(&m, "id = ?", id).Error; err != nil {
		return nil, lookupErr(err, "match")
	}
	return &m, nil
}

func (s *MatchService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MatchService) kFactor() float64 {
	if s.KFactor > 0 {
		return s.KFactor
	}
	return DefaultKFactor
}

// lockForUpdate takes a row lock on Postgres. SQLite serialises writers on
// its own and rejects FOR UPDATE.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// saveMatch writes m only if it is still in the state it was read in.
func saveMatch(tx *gorm.DB, m *models.Match, prevStatus models.MatchStatus, prevRound int) error {
	res := tx.Model(&models.Match{}).
		Where("id = ? AND status = ? AND current_round = ?", m.ID, prevStatus, prevRound).
		Updates(map[string]any{
			"status":           m.Status,
			"participant_ids":  m.ParticipantIDs,
			"winner_id":        m.WinnerID,
			"current_round":    m.CurrentRound,
			"prize_pool":       m.PrizePool,
			"round_started_at": m.RoundStartedAt,
			"started_at":       m.StartedAt,
			"completed_at":     m.CompletedAt,
			"cancelled_at":     m.CancelledAt,
			"cancel_reason":    m.CancelReason,
		})
	if res.Error != nil {
		return internal(res.Error, "failed to save match")
	}
	if res.RowsAffected == 0 {
		return invalidState("match changed concurrently, retry")
	}
	return nil
}

func intentKey(t models.TransactionType, scope, agentID string) string {
	return fmt.Sprintf("%s:%s:%s", t, scope, agentID)
}

// recordIntent appends a pending transaction. A repeated idempotency key is
// a no-op.
func recordIntent(tx *gorm.DB, agentID string, matchID *string, t models.TransactionType, amount decimal.Decimal, key string) error {
	txn := &models.Transaction{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		MatchID:        matchID,
		Type:           t,
		Amount:         amount,
		Status:         models.TransactionStatusPending,
		IdempotencyKey: key,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(txn).Error; err != nil {
		return internal(err, "failed to record %s transaction", t)
	}
	return nil
}

func countDistinct(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
