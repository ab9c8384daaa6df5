package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"endgame-arena/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

type matchFixture struct {
	db    *gorm.DB
	svc   *MatchService
	clock *fakeClock
	inv   *countingInvalidator
	a, b  *models.Agent
}

func newMatchFixture(t *testing.T) *matchFixture {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock()
	inv := &countingInvalidator{}
	svc := NewMatchService(db)
	svc.Now = clock.Now
	svc.Invalidator = inv
	return &matchFixture{
		db:    db,
		svc:   svc,
		clock: clock,
		inv:   inv,
		a:     seedAgent(t, db, "alpha", models.WeightClassMiddle),
		b:     seedAgent(t, db, "bravo", models.WeightClassMiddle),
	}
}

// startDuel creates and fills a speed trivia match with the given rounds.
func (f *matchFixture) startDuel(t *testing.T, rounds int, fee string) *models.Match {
	t.Helper()
	ctx := context.Background()
	m, err := f.svc.CreateMatch(ctx, CreateMatchInput{
		GameType:     models.GameTypeSpeedTrivia,
		WeightClass:  models.WeightClassMiddle,
		EntryFee:     dec(fee),
		ChallengeIDs: seedChallenges(t, f.db, rounds),
	})
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusPending, m.Status)

	m, err = f.svc.JoinMatch(ctx, m.ID, f.a.ID)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusPending, m.Status)

	m, err = f.svc.JoinMatch(ctx, m.ID, f.b.ID)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusActive, m.Status)
	require.Equal(t, 1, m.CurrentRound)
	return m
}

func (f *matchFixture) submit(agentID, matchID string, round int, answer string) (*SubmitResult, error) {
	return f.svc.SubmitAnswer(context.Background(), SubmitInput{
		MatchID: matchID,
		AgentID: agentID,
		Round:   round,
		Answer:  answer,
	})
}

func TestSpeedTriviaDuelSettles(t *testing.T) {
	f := newMatchFixture(t)
	m := f.startDuel(t, 1, "10")
	assert.True(t, m.PrizePool.Equal(dec("20")))

	f.clock.Advance(3 * time.Second)
	res, err := f.submit(f.a.ID, m.ID, 1, "  paris ")
	require.NoError(t, err)
	assert.True(t, res.Submission.IsCorrect)
	assert.Equal(t, int64(3000), res.Submission.ResponseTimeMs)
	assert.InDelta(t, 90, res.Submission.Speed, 1e-9)
	assert.InDelta(t, 67, res.Submission.TotalScore, 1e-9)
	assert.Equal(t, models.MatchStatusActive, res.Match.Status)

	f.clock.Advance(12 * time.Second)
	res, err = f.submit(f.b.ID, m.ID, 1, "London")
	require.NoError(t, err)
	assert.False(t, res.Submission.IsCorrect)
	assert.InDelta(t, 15, res.Submission.TotalScore, 1e-9)

	done := res.Match
	require.Equal(t, models.MatchStatusCompleted, done.Status)
	require.NotNil(t, done.WinnerID)
	assert.Equal(t, f.a.ID, *done.WinnerID)
	require.NotNil(t, done.CompletedAt)

	a := reloadAgent(t, f.db, f.a.ID)
	b := reloadAgent(t, f.db, f.b.ID)
	assert.InDelta(t, 1216, a.EloRating, 1e-9)
	assert.InDelta(t, 1184, b.EloRating, 1e-9)
	assert.Equal(t, int64(1), a.TotalMatches)
	assert.Equal(t, int64(1), a.Wins)
	assert.Equal(t, int64(1), b.Losses)

	rewards := transactionsFor(t, f.db, m.ID, models.TransactionTypeReward)
	require.Len(t, rewards, 2)
	byAgent := map[string]models.Transaction{}
	for _, r := range rewards {
		byAgent[r.AgentID] = r
		assert.Equal(t, models.TransactionStatusPending, r.Status)
	}
	assert.True(t, byAgent[f.a.ID].Amount.Equal(dec("16")), byAgent[f.a.ID].Amount.String())
	assert.True(t, byAgent[f.b.ID].Amount.Equal(dec("4")), byAgent[f.b.ID].Amount.String())
	assert.Len(t, transactionsFor(t, f.db, m.ID, models.TransactionTypeEntryFee), 2)

	assert.Equal(t, 1, f.inv.calls)
}

func TestSubmitAfterCompletionIsInvalidState(t *testing.T) {
	f := newMatchFixture(t)
	m := f.startDuel(t, 1, "0")

	_, err := f.submit(f.a.ID, m.ID, 1, "Paris")
	require.NoError(t, err)
	res, err := f.submit(f.b.ID, m.ID, 1, "Paris")
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusCompleted, res.Match.Status)

	_, err = f.submit(f.a.ID, m.ID, 1, "Paris")
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)
	_, err = f.submit(f.a.ID, m.ID, 2, "Paris")
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)

	var count int64
	require.NoError(t, f.db.Model(&models.Submission{}).Where("match_id = ?", m.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestIdenticalAnswersDraw(t *testing.T) {
	f := newMatchFixture(t)
	m := f.startDuel(t, 1, "5")

	f.clock.Advance(6 * time.Second)
	_, err := f.submit(f.a.ID, m.ID, 1, "Paris")
	require.NoError(t, err)
	res, err := f.submit(f.b.ID, m.ID, 1, "paris, france")
	require.NoError(t, err)

	require.Equal(t, models.MatchStatusCompleted, res.Match.Status)
	assert.Nil(t, res.Match.WinnerID)

	a := reloadAgent(t, f.db, f.a.ID)
	b := reloadAgent(t, f.db, f.b.ID)
	assert.Equal(t, int64(1), a.Draws)
	assert.Equal(t, int64(1), b.Draws)
	assert.InDelta(t, 1200, a.EloRating, 1e-9)
	assert.InDelta(t, 1200, b.EloRating, 1e-9)

	for _, r := range transactionsFor(t, f.db, m.ID, models.TransactionTypeReward) {
		assert.True(t, r.Amount.Equal(dec("5")), r.Amount.String())
	}
}

func TestDuplicateSubmissionConflicts(t *testing.T) {
	f := newMatchFixture(t)
	m := f.startDuel(t, 2, "0")

	_, err := f.submit(f.a.ID, m.ID, 1, "Paris")
	require.NoError(t, err)
	_, err = f.submit(f.a.ID, m.ID, 1, "Lyon")
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
}

func TestConcurrentDuplicateSubmissionsStoreOneRow(t *testing.T) {
	f := newMatchFixture(t)
	m := f.startDuel(t, 2, "0")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.submit(f.a.ID, m.ID, 1, "Paris")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	}
	assert.Equal(t, 1, ok)

	var count int64
	require.NoError(t, f.db.Model(&models.Submission{}).
		Where("match_id = ? AND agent_id = ? AND round = ?", m.ID, f.a.ID, 1).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSubmitValidation(t *testing.T) {
	f := newMatchFixture(t)
	m := f.startDuel(t, 2, "0")
	outsider := seedAgent(t, f.db, "charlie", models.WeightClassMiddle)

	_, err := f.submit(f.a.ID, m.ID, 1, "   ")
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)

	_, err = f.submit(outsider.ID, m.ID, 1, "Paris")
	assert.True(t, errors.Is(err, ErrForbidden), "got %v", err)

	_, err = f.submit(f.a.ID, m.ID, 2, "Paris")
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)

	_, err = f.submit(f.a.ID, "00000000-0000-0000-0000-000000000000", 1, "Paris")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestJoinMatchRules(t *testing.T) {
	f := newMatchFixture(t)
	ctx := context.Background()

	m, err := f.svc.CreateMatch(ctx, CreateMatchInput{
		GameType:     models.GameTypeSpeedTrivia,
		WeightClass:  models.WeightClassMiddle,
		ChallengeIDs: seedChallenges(t, f.db, 1),
	})
	require.NoError(t, err)

	heavy := seedAgent(t, f.db, "heavy", models.WeightClassHeavy)
	_, err = f.svc.JoinMatch(ctx, m.ID, heavy.ID)
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)

	unverified := seedAgent(t, f.db, "ghost", models.WeightClassMiddle)
	require.NoError(t, f.db.Model(unverified).Update("is_verified", false).Error)
	_, err = f.svc.JoinMatch(ctx, m.ID, unverified.ID)
	assert.True(t, errors.Is(err, ErrForbidden), "got %v", err)

	_, err = f.svc.JoinMatch(ctx, m.ID, f.a.ID)
	require.NoError(t, err)
	_, err = f.svc.JoinMatch(ctx, m.ID, f.a.ID)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	_, err = f.svc.JoinMatch(ctx, m.ID, f.b.ID)
	require.NoError(t, err)

	late := seedAgent(t, f.db, "late", models.WeightClassMiddle)
	_, err = f.svc.JoinMatch(ctx, m.ID, late.ID)
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)
}

func TestCreateMatchValidation(t *testing.T) {
	f := newMatchFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateMatch(ctx, CreateMatchInput{GameType: "chess", WeightClass: models.WeightClassMiddle})
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)

	_, err = f.svc.CreateMatch(ctx, CreateMatchInput{GameType: models.GameTypeSurvival, WeightClass: "flyweight"})
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)

	_, err = f.svc.CreateMatch(ctx, CreateMatchInput{
		GameType:    models.GameTypeSpeedTrivia,
		WeightClass: models.WeightClassMiddle,
		EntryFee:    dec("-1"),
	})
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)

	// empty challenge bank
	_, err = f.svc.CreateMatch(ctx, CreateMatchInput{GameType: models.GameTypeSpeedTrivia, WeightClass: models.WeightClassMiddle})
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)

	seedChallenges(t, f.db, 5)
	m, err := f.svc.CreateMatch(ctx, CreateMatchInput{GameType: models.GameTypeSpeedTrivia, WeightClass: models.WeightClassMiddle})
	require.NoError(t, err)
	assert.Equal(t, 5, m.TotalRounds)
	assert.Len(t, m.ChallengeIDs, 5)
}

func TestCancelMatchRefundsEntryFees(t *testing.T) {
	f := newMatchFixture(t)
	ctx := context.Background()
	m := f.startDuel(t, 2, "7.5")

	cancelled, err := f.svc.CancelMatch(ctx, m.ID, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCancelled, cancelled.Status)
	assert.Equal(t, "operator abort", cancelled.CancelReason)

	refunds := transactionsFor(t, f.db, m.ID, models.TransactionTypeRefund)
	require.Len(t, refunds, 2)
	for _, r := range refunds {
		assert.True(t, r.Amount.Equal(dec("7.5")))
	}

	_, err = f.svc.CancelMatch(ctx, m.ID, "again")
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)

	_, err = f.submit(f.a.ID, m.ID, 1, "Paris")
	assert.True(t, errors.Is(err, ErrInvalidState), "got %v", err)
}

func TestAdvanceStalledRounds(t *testing.T) {
	f := newMatchFixture(t)
	ctx := context.Background()
	m := f.startDuel(t, 2, "0")

	_, err := f.submit(f.a.ID, m.ID, 1, "Paris")
	require.NoError(t, err)

	n, err := f.svc.AdvanceStalledRounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(30*time.Second + f.svc.RoundGrace + time.Second)
	n, err = f.svc.AdvanceStalledRounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentRound)

	subs, err := f.svc.ListSubmissions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, f.a.ID, subs[0].AgentID)

	f.clock.Advance(time.Minute)
	n, err = f.svc.AdvanceStalledRounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = f.svc.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, f.a.ID, *got.WinnerID)
}

func TestExpirePendingMatches(t *testing.T) {
	f := newMatchFixture(t)
	ctx := context.Background()
	m, err := f.svc.CreateMatch(ctx, CreateMatchInput{
		GameType:     models.GameTypeConsensus,
		WeightClass:  models.WeightClassMiddle,
		ChallengeIDs: seedChallenges(t, f.db, 3),
	})
	require.NoError(t, err)

	f.svc.Now = func() time.Time { return time.Now().Add(f.svc.PendingTimeout + time.Minute) }
	n, err := f.svc.ExpirePendingMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCancelled, got.Status)
	assert.Equal(t, "timeout", got.CancelReason)
}

func TestListMatchesFilters(t *testing.T) {
	f := newMatchFixture(t)
	ctx := context.Background()
	active := f.startDuel(t, 1, "0")
	_, err := f.svc.CreateMatch(ctx, CreateMatchInput{
		GameType:     models.GameTypeConsensus,
		WeightClass:  models.WeightClassMiddle,
		ChallengeIDs: seedChallenges(t, f.db, 3),
	})
	require.NoError(t, err)

	all, err := f.svc.ListMatches(ctx, MatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.ListMatches(ctx, MatchFilter{AgentID: f.a.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, active.ID, mine[0].ID)

	consensus, err := f.svc.ListMatches(ctx, MatchFilter{GameType: models.GameTypeConsensus})
	require.NoError(t, err)
	require.Len(t, consensus, 1)
	assert.Equal(t, models.MatchStatusPending, consensus[0].Status)
}

func TestListMatchesByAgentFiltersInQuery(t *testing.T) {
	f := newMatchFixture(t)
	ctx := context.Background()
	open := func() *models.Match {
		m, err := f.svc.CreateMatch(ctx, CreateMatchInput{
			GameType:     models.GameTypeSpeedTrivia,
			WeightClass:  models.WeightClassMiddle,
			ChallengeIDs: seedChallenges(t, f.db, 1),
		})
		require.NoError(t, err)
		return m
	}

	joined := make(map[string]bool)
	for i := 0; i < 3; i++ {
		m := open()
		_, err := f.svc.JoinMatch(ctx, m.ID, f.a.ID)
		require.NoError(t, err)
		joined[m.ID] = true
	}
	// newer matches the agent is not in must not crowd out its own
	for i := 0; i < 5; i++ {
		open()
	}

	page, err := f.svc.ListMatches(ctx, MatchFilter{AgentID: f.a.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	for _, m := range page {
		assert.True(t, joined[m.ID])
		assert.True(t, m.HasParticipant(f.a.ID))
	}

	all, err := f.svc.ListMatches(ctx, MatchFilter{AgentID: f.a.ID, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := f.svc.ListMatches(ctx, MatchFilter{AgentID: f.b.ID})
	require.NoError(t, err)
	assert.Empty(t, none)

	pending, err := f.svc.ListMatches(ctx, MatchFilter{AgentID: f.a.ID, Status: models.MatchStatusActive})
	require.NoError(t, err)
	assert.Empty(t, pending)
}
