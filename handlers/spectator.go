// handlers/spectator.go
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"endgame-arena/models"
	"endgame-arena/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog/log"
)

const streamMaxDuration = 30 * time.Minute

var streamPollInterval = 2 * time.Second

type spectatorHandler struct {
	matches *services.MatchService
	agents  *services.AgentService
	poll    time.Duration
}

func SetupSpectatorRoutes(r fiber.Router, matches *services.MatchService, agents *services.AgentService, limit fiber.Handler) {
	h := &spectatorHandler{matches: matches, agents: agents, poll: streamPollInterval}

	r.Get("/agents/by-handle/:platform/:handle", limit, h.getAgentByHandle)
	r.Get("/agents/:id", limit, h.getAgent)
	r.Get("/matches", limit, h.listMatches)
	r.Get("/matches/:id", limit, h.getMatch)
	r.Get("/matches/:id/submissions", limit, h.listSubmissions)
	r.Get("/matches/:id/stream", limit, h.stream)
}

func (h *spectatorHandler) getAgent(c *fiber.Ctx) error {
	agent, err := h.agents.GetAgent(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(agent)
}

func (h *spectatorHandler) getAgentByHandle(c *fiber.Ctx) error {
	agent, err := h.agents.GetAgentByHandle(c.UserContext(), c.Params("platform"), c.Params("handle"))
	if err != nil {
		return err
	}
	return c.JSON(agent)
}

func (h *spectatorHandler) listMatches(c *fiber.Ctx) error {
	matches, err := h.matches.ListMatches(c.UserContext(), services.MatchFilter{
		Status:   models.MatchStatus(c.Query("status")),
		GameType: models.GameType(c.Query("game_type")),
		AgentID:  c.Query("agent_id"),
		Limit:    queryLimit(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"matches": matches})
}

// matchSnapshot is what spectators see of a match.
type matchSnapshot struct {
	Match     *models.Match       `json:"match"`
	Standings []services.Standing `json:"standings"`
}

func (h *spectatorHandler) snapshot(ctx context.Context, id string) (*matchSnapshot, error) {
	m, err := h.matches.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	standings, err := h.matches.Standings(ctx, id)
	if err != nil {
		return nil, err
	}
	return &matchSnapshot{Match: m, Standings: standings}, nil
}

func (h *spectatorHandler) getMatch(c *fiber.Ctx) error {
	snap, err := h.snapshot(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (h *spectatorHandler) listSubmissions(c *fiber.Ctx) error {
	subs, err := h.matches.ListSubmissions(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"submissions": subs})
}

// stream pushes a snapshot whenever the match changes and closes after the
// match reaches a terminal state.
func (h *spectatorHandler) stream(c *fiber.Ctx) error {
	// the stream writer outlives the request ctx, so the param must not alias its buffer
	id := utils.CopyString(c.Params("id"))
	first, err := h.snapshot(c.UserContext(), id)
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), streamMaxDuration)
		defer cancel()

		last := first.Match.UpdatedAt
		if err := writeEvent(w, "match", first); err != nil {
			return
		}
		if first.Match.Status.Terminal() {
			return
		}

		ticker := time.NewTicker(h.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := h.snapshot(ctx, id)
				if err != nil {
					log.Warn().Err(err).Str("match_id", id).Msg("[SSE] snapshot failed")
					continue
				}
				if snap.Match.UpdatedAt.Equal(last) {
					// keepalive comment; a failed flush means the client left
					if _, err := w.WriteString(":\n\n"); err != nil {
						return
					}
					if err := w.Flush(); err != nil {
						return
					}
					continue
				}
				last = snap.Match.UpdatedAt
				if err := writeEvent(w, "match", snap); err != nil {
					return
				}
				if snap.Match.Status.Terminal() {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}
