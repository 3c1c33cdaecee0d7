package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/meterkast/p1collector/pkg/dsmr"
	"github.com/meterkast/p1collector/pkg/solarinverter"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The API serves a trusted LAN only.
	},
}

// apiServer exposes the live side of the collector: the latest reading,
// a websocket broadcast of new readings, solar output and Prometheus
// metrics. Readings arrive via publish from the collector's goroutine.
type apiServer struct {
	solar *solarinverter.Inverter
	log   zerolog.Logger

	readingMu sync.RWMutex
	latest    *dsmr.Reading

	wsMu      sync.RWMutex
	wsClients map[*wsClient]bool
}

// wsClient serializes writes to one connection. gorilla/websocket allows
// a single concurrent writer, and the connect-time snapshot runs on the
// handler goroutine while broadcasts come from the collector's.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func newAPIServer(solar *solarinverter.Inverter, logger zerolog.Logger) *apiServer {
	return &apiServer{
		solar:     solar,
		log:       logger.With().Str("component", "api").Logger(),
		wsClients: make(map[*wsClient]bool),
	}
}

func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/solar", s.handleSolar)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

func (s *apiServer) serve(addr string) {
	s.log.Info().Str("addr", addr).Msg("live api listening")
	if err := http.ListenAndServe(addr, s.routes()); err != nil {
		// Collection keeps running without the API.
		s.log.Error().Err(err).Msg("live api stopped")
	}
}

// publish caches the reading and broadcasts it to websocket clients.
func (s *apiServer) publish(reading *dsmr.Reading) {
	s.readingMu.Lock()
	s.latest = reading
	s.readingMu.Unlock()

	data, err := json.Marshal(reading)
	if err != nil {
		s.log.Error().Err(err).Msg("encoding reading for broadcast")
		return
	}
	s.broadcast(data)
}

func (s *apiServer) latestReading() *dsmr.Reading {
	s.readingMu.RLock()
	defer s.readingMu.RUnlock()
	return s.latest
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "p1collector",
		"status":  "running",
	})
}

func (s *apiServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	reading := s.latestReading()
	if reading == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "no readings available yet",
		})
		return
	}
	json.NewEncoder(w).Encode(reading)
}

func (s *apiServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn}
	s.addClient(client)

	// Send the current reading right away so the client doesn't wait a
	// full collection interval for its first data.
	if reading := s.latestReading(); reading != nil {
		if data, err := json.Marshal(reading); err == nil {
			if err := client.send(data); err != nil {
				s.removeClient(client)
				return
			}
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.removeClient(client)
			return
		}
	}
}

// May be fast or slow depending on the inverter's read cache.
func (s *apiServer) handleSolar(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.solar == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "solar polling not configured",
		})
		return
	}

	watt, err := s.solar.ReadPower()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"error": err.Error(),
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]int32{
		"power_w": watt,
	})
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w, true)
}

func (s *apiServer) broadcast(data []byte) {
	s.wsMu.RLock()
	clients := make([]*wsClient, 0, len(s.wsClients))
	for client := range s.wsClients {
		clients = append(clients, client)
	}
	s.wsMu.RUnlock()

	for _, client := range clients {
		if err := client.send(data); err != nil {
			s.removeClient(client)
		}
	}
}

func (s *apiServer) addClient(client *wsClient) {
	s.wsMu.Lock()
	s.wsClients[client] = true
	s.wsMu.Unlock()
}

func (s *apiServer) removeClient(client *wsClient) {
	s.wsMu.Lock()
	delete(s.wsClients, client)
	s.wsMu.Unlock()
	client.conn.Close()
}
