package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"endgame-arena/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openMatch creates a pending one-round duel through the admin API.
func (s *testServer) openMatch(t *testing.T) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/v1/admin/matches", fiber.Map{
		"game_type":    "speed_trivia",
		"weight_class": "lightweight",
		"total_rounds": 1,
	}, admin)
	require.Equal(t, http.StatusCreated, status, string(body))
	var m models.Match
	require.NoError(t, json.Unmarshal(body, &m))
	return m.ID
}

// listen serves the app on a loopback port so requests run on real
// connections and recycle pooled contexts the way production traffic does.
func (s *testServer) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() { _ = s.app.ShutdownWithTimeout(2 * time.Second) })
	return "http://" + ln.Addr().String()
}

func TestStreamKeepsItsMatchWhileOtherRequestsRun(t *testing.T) {
	prev := streamPollInterval
	streamPollInterval = 20 * time.Millisecond
	t.Cleanup(func() { streamPollInterval = prev })

	s := newTestServer(t, 10_000)
	status, body := s.do(t, http.MethodPost, "/api/v1/admin/challenges", fiber.Map{
		"category":           "science",
		"question":           "H2O is?",
		"correct_answer":     "water",
		"time_limit_seconds": 30,
	}, admin)
	require.Equal(t, http.StatusCreated, status, string(body))

	watched := s.openMatch(t)
	other := s.openMatch(t)
	base := s.listen(t)

	resp, err := http.Get(base + "/api/v1/matches/" + watched + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 64)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				events <- data
			}
		}
	}()

	select {
	case first := <-events:
		require.Contains(t, first, watched)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial snapshot")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < 50; i++ {
		r, err := client.Get(base + "/api/v1/matches/" + other)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, r.Body)
		r.Body.Close()
		require.Equal(t, http.StatusOK, r.StatusCode)
	}

	_, err = s.svc.Matches.CancelMatch(context.Background(), watched, "operator")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case data, ok := <-events:
			require.True(t, ok, "stream closed before the terminal snapshot")
			assert.NotContains(t, data, other, "stream leaked another match")
			if strings.Contains(data, `"status":"cancelled"`) {
				assert.Contains(t, data, watched)
				return
			}
		case <-deadline:
			t.Fatal("terminal snapshot never arrived")
		}
	}
}
