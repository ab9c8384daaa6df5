// workers/settlement_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"endgame-arena/models"
	"endgame-arena/services"
	"endgame-arena/utils"

	"github.com/rs/zerolog/log"
)

// SettlementUpdate is one settled intent reported by the provider.
type SettlementUpdate struct {
	IdempotencyKey string                   `json:"idempotency_key"`
	Status         models.TransactionStatus `json:"status"`
	Reference      string                   `json:"reference"`
	Reason         string                   `json:"reason,omitempty"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

type settlementChangesResponse struct {
	Settlements []SettlementUpdate `json:"settlements"`
}

// ResultApplier records a settlement outcome.
type ResultApplier interface {
	ApplySettlementResult(ctx context.Context, key string, status models.TransactionStatus, ref, reason string) (*models.Transaction, error)
}

// SettlementSyncWorker polls the provider for outcomes of accepted intents
// whose callback never arrived.
type SettlementSyncWorker struct {
	applier    ResultApplier
	interval   time.Duration
	baseURL    string
	token      string
	httpClient *http.Client
	lastSync   time.Time
}

func NewSettlementSyncWorker(applier ResultApplier, baseURL, token string, interval time.Duration) *SettlementSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SettlementSyncWorker{
		applier:    applier,
		interval:   interval,
		baseURL:    baseURL,
		token:      token,
		httpClient: utils.NewHTTPClient(30 * time.Second),
		lastSync:   time.Now().UTC().Add(-24 * time.Hour),
	}
}

// GetChangedSettlements lists outcomes recorded since the given time.
func (w *SettlementSyncWorker) GetChangedSettlements(ctx context.Context, since time.Time) ([]SettlementUpdate, error) {
	u, err := url.Parse(w.baseURL + "/settlements")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call settlement provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("settlement provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var out settlementChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode settlement changes: %w", err)
	}
	return out.Settlements, nil
}

// SyncOnce applies every change since the last successful sync. The cursor
// only advances when no update failed for an internal reason, so the same
// window is retried on the next tick.
func (w *SettlementSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	started := time.Now().UTC()
	updates, err := w.GetChangedSettlements(ctx, w.lastSync)
	if err != nil {
		return 0, err
	}

	applied := 0
	var retry error
	for _, u := range updates {
		_, err := w.applier.ApplySettlementResult(ctx, u.IdempotencyKey, u.Status, u.Reference, u.Reason)
		if err == nil {
			applied++
			continue
		}
		switch services.KindOf(err) {
		case services.KindInternal:
			log.Error().Err(err).Str("key", u.IdempotencyKey).Msg("[SETTLE_SYNC] apply failed, will retry")
			retry = err
		default:
			log.Warn().Err(err).Str("key", u.IdempotencyKey).Msg("[SETTLE_SYNC] update skipped")
		}
	}
	if retry != nil {
		return applied, retry
	}
	w.lastSync = started
	return applied, nil
}

// Run polls until ctx is cancelled.
func (w *SettlementSyncWorker) Run(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("[SETTLE_SYNC] starting")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("[SETTLE_SYNC] stopped")
			return
		case <-ticker.C:
			n, err := w.SyncOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("[SETTLE_SYNC] sync failed")
				continue
			}
			if n > 0 {
				log.Info().Int("count", n).Msg("[SETTLE_SYNC] applied settlement updates")
			}
		}
	}
}
