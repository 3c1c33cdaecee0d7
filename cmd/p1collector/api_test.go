package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/meterkast/p1collector/pkg/dsmr"
)

func testAPIReading() *dsmr.Reading {
	tariff := 1
	return &dsmr.Reading{
		Time: time.Date(2022, 12, 26, 11, 1, 0, 0, time.UTC),
		Fields: map[string]any{
			"energy_t1":         4179.863,
			"power_delivered_w": 424.0,
		},
		Tariff: &tariff,
	}
}

func TestHandleStatus(t *testing.T) {
	api := newAPIServer(nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "p1collector", body["service"])
}

func TestHandleLatest(t *testing.T) {
	api := newAPIServer(nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/latest", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	api.publish(testAPIReading())

	rec = httptest.NewRecorder()
	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var reading dsmr.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reading))
	require.Equal(t, testAPIReading().Time, reading.Time)
	require.InDelta(t, 424.0, reading.Fields["power_delivered_w"], 1e-9)
}

func TestHandleSolarNotConfigured(t *testing.T) {
	api := newAPIServer(nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/solar", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleMetrics(t *testing.T) {
	api := newAPIServer(nil, zerolog.Nop())
	rec := httptest.NewRecorder()

	api.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWebSocketReceivesLatestOnConnect(t *testing.T) {
	api := newAPIServer(nil, zerolog.Nop())
	api.publish(testAPIReading())

	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var reading dsmr.Reading
	require.NoError(t, json.Unmarshal(data, &reading))
	require.Equal(t, testAPIReading().Time, reading.Time)
}

func TestWebSocketBroadcast(t *testing.T) {
	api := newAPIServer(nil, zerolog.Nop())

	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The handler registers the client after the handshake; wait for it.
	require.Eventually(t, func() bool {
		api.wsMu.RLock()
		defer api.wsMu.RUnlock()
		return len(api.wsClients) == 1
	}, 5*time.Second, 10*time.Millisecond)

	api.publish(testAPIReading())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var reading dsmr.Reading
	require.NoError(t, json.Unmarshal(data, &reading))
	require.NotNil(t, reading.Tariff)
	require.Equal(t, 1, *reading.Tariff)
}

func TestWebSocketSnapshotDuringBroadcasts(t *testing.T) {
	api := newAPIServer(nil, zerolog.Nop())
	api.publish(testAPIReading())

	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	// Broadcasts keep flowing while clients connect and get their
	// connect-time snapshot; both writers target the same connection.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				api.publish(testAPIReading())
			}
		}
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	for i := 0; i < 4; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		// Every frame arrives whole and parseable.
		for n := 0; n < 3; n++ {
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			var reading dsmr.Reading
			require.NoError(t, json.Unmarshal(data, &reading))
		}
		conn.Close()
	}

	close(stop)
	wg.Wait()
}
