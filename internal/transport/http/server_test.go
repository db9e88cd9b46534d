package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/app"
	"redlight/internal/config"
	"redlight/internal/domain"
	"redlight/internal/logbook"
)

type fakeHost struct {
	err error
}

func (f *fakeHost) Stats() app.Stats {
	return app.Stats{Expected: 3, Connected: []int{0, 1}}
}

func (f *fakeHost) RequestNewRound() error { return f.err }

func (f *fakeHost) Subscribe(domain.Listener) func() { return func() {} }

type brokenRecords struct{}

func (brokenRecords) Records() ([]domain.Record, error) {
	return nil, errors.New("permission denied")
}

func newTestServer(t *testing.T, host Host, records RecordSource) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	srv := httptest.NewServer(NewServer(cfg, host, records, slog.New(slog.DiscardHandler)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, data interface{}) Response {
	t.Helper()
	defer resp.Body.Close()
	out := Response{Data: data}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeHost{}, brokenRecords{})

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	out := decode(t, resp, &health)
	assert.True(t, out.Success)
	assert.Equal(t, "ok", health.Status)
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, &fakeHost{}, brokenRecords{})

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)

	var stats app.Stats
	decode(t, resp, &stats)
	assert.Equal(t, 3, stats.Expected)
	assert.Equal(t, []int{0, 1}, stats.Connected)
}

func TestListRounds(t *testing.T) {
	store := logbook.NewStore(afero.NewMemMapFs(), "games.log")
	started := time.Date(2024, 5, 1, 20, 15, 0, 0, time.Local)
	require.NoError(t, store.Append(domain.Record{StartedAt: started, Players: 2, Winners: []string{"ana"}, Losers: []string{"bo"}}))

	srv := newTestServer(t, &fakeHost{}, store)
	resp, err := http.Get(srv.URL + "/api/rounds")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rounds RoundsResponse
	decode(t, resp, &rounds)
	require.Len(t, rounds.Rounds, 1)
	assert.Equal(t, []string{"ana"}, rounds.Rounds[0].Winners)
	assert.Equal(t, []string{"bo"}, rounds.Rounds[0].Losers)
}

func TestListRoundsUnreadableLog(t *testing.T) {
	srv := newTestServer(t, &fakeHost{}, brokenRecords{})

	resp, err := http.Get(srv.URL + "/api/rounds")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	out := decode(t, resp, nil)
	assert.False(t, out.Success)
	assert.Equal(t, "LOG_UNREADABLE", out.Error.Code)
}

func TestNewRound(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"round in progress", domain.ErrInvalidPhase, http.StatusConflict},
		{"unexpected failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeHost{err: tt.err}, brokenRecords{})

			resp, err := http.Post(srv.URL+"/api/rounds", "application/json", nil)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestJoinCodeIsPNG(t *testing.T) {
	srv := newTestServer(t, &fakeHost{}, brokenRecords{})

	resp, err := http.Get(srv.URL + "/api/join.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, qrSize, img.Bounds().Dx())
}

func TestJoinAddress(t *testing.T) {
	cfg := config.Default()
	s := NewServer(cfg, &fakeHost{}, brokenRecords{}, slog.New(slog.DiscardHandler))

	r := httptest.NewRequest(http.MethodGet, "http://192.168.1.20:8080/api/join.png", nil)
	assert.Equal(t, "192.168.1.20:5050", s.joinAddress(r))

	cfg.Server.Host = "game.local"
	assert.Equal(t, "game.local:5050", s.joinAddress(r))
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeHost{}, brokenRecords{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/rounds", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
