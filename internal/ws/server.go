// Package ws accepts persistent websocket connections from seat devices,
// runs every inbound sensor frame through the classifier, and replies in
// arrival order on the same connection.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sitsense/posture.report/internal/db"
	"github.com/sitsense/posture.report/internal/monitoring"
	"github.com/sitsense/posture.report/internal/posture"
	"github.com/sitsense/posture.report/internal/timeutil"
)

const (
	// maxFrameBytes bounds a single inbound message. A full frame with IMU
	// data is under 1 KB; anything near the limit is garbage.
	maxFrameBytes = 64 * 1024

	writeTimeout = 10 * time.Second
)

// Server owns the live connection registry. One classifier and one store are
// shared across all connections; each connection gets its own serial
// read-classify-reply loop, so replies on a connection always match the
// arrival order of its frames.
type Server struct {
	engine *posture.Ensemble
	store  *db.DB
	stats  *posture.PredictionStats
	clock  timeutil.Clock

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu           sync.Mutex
	deviceID     string
	connectedAt  time.Time
	lastActivity time.Time
	predictions  int64
}

// SessionInfo is a point-in-time snapshot of one live connection.
type SessionInfo struct {
	ClientID     string    `json:"client_id"`
	DeviceID     string    `json:"device_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Predictions  int64     `json:"predictions_count"`
}

// NewServer wires a websocket ingest server over the given classifier and
// store. stats may be nil to disable throughput accounting.
func NewServer(engine *posture.Ensemble, store *db.DB, stats *posture.PredictionStats, clock timeutil.Clock) *Server {
	return &Server{
		engine: engine,
		store:  store,
		stats:  stats,
		clock:  clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices connect directly, not from browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and runs the connection loop until the peer
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	now := s.clock.Now()
	c := &client{id: uuid.NewString(), conn: conn, connectedAt: now, lastActivity: now}
	s.register(c)
	monitoring.Logf("client %s connected from %s", c.id, r.RemoteAddr)

	if err := s.store.LogConnection(r.Context(), c.id, "", s.clock.Now()); err != nil {
		monitoring.Logf("failed to log connection for %s: %v", c.id, err)
	}

	s.readLoop(r.Context(), c)

	s.unregister(c)
	if err := s.store.LogDisconnection(context.Background(), c.id, s.clock.Now()); err != nil {
		monitoring.Logf("failed to log disconnection for %s: %v", c.id, err)
	}
	monitoring.Logf("client %s disconnected", c.id)
	conn.Close()
}

// readLoop processes frames one at a time. Protocol errors (bad JSON, bad
// vectors) get an error reply and the connection stays open; only transport
// errors end the loop.
func (s *Server) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxFrameBytes)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				monitoring.Logf("client %s read error: %v", c.id, err)
			}
			return
		}
		if err := s.handleFrame(ctx, c, payload); err != nil {
			monitoring.Logf("client %s write error: %v", c.id, err)
			return
		}
	}
}

// handleFrame classifies one inbound frame and writes the reply. The returned
// error is a transport failure; classification problems are reported to the
// peer instead.
func (s *Server) handleFrame(ctx context.Context, c *client, payload []byte) error {
	c.mu.Lock()
	c.lastActivity = s.clock.Now()
	c.mu.Unlock()

	var frame posture.SensorFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return c.writeJSON(errorReply{
			ID:      frameID(payload),
			Error:   "invalid message format",
			Details: err.Error(),
		})
	}
	if missing := missingFields(payload); len(missing) > 0 {
		return c.writeJSON(errorReply{
			ID:      frameID(payload),
			Error:   "missing required fields",
			Details: strings.Join(missing, ", "),
		})
	}
	if err := posture.ValidatePressure(frame.Pressure); err != nil {
		return c.writeJSON(errorReply{
			ID:      frame.MessageID,
			Error:   "invalid pressure data",
			Details: err.Error(),
		})
	}
	result := s.engine.Classify(&frame)
	if s.stats != nil {
		s.stats.AddPrediction(result.ProcessingTime)
	}
	c.mu.Lock()
	c.deviceID = frame.DeviceID
	c.predictions++
	c.mu.Unlock()

	if err := c.writeJSON(successReply{
		ID:         frame.MessageID,
		Posture:    int(result.Label),
		Confidence: result.Confidence,
	}); err != nil {
		return err
	}

	// The reply is already on the wire; a logging failure must not take the
	// connection down with it.
	rec := db.PredictionRecord{
		ClientID:         c.id,
		DeviceID:         frame.DeviceID,
		Timestamp:        s.clock.Now(),
		Label:            result.Label,
		Confidence:       result.Confidence,
		Method:           result.Method,
		ProcessingTimeMs: float64(result.ProcessingTime) / float64(time.Millisecond),
		VotingScores:     result.VotingScores,
		ModelBreakdown:   result.ModelBreakdown,
	}
	if err := s.store.AppendPrediction(ctx, rec); err != nil {
		monitoring.Logf("failed to log prediction for %s: %v", c.id, err)
	}
	return nil
}

type successReply struct {
	ID         int64   `json:"id"`
	Posture    int     `json:"posture"`
	Confidence float64 `json:"confidence"`
}

type errorReply struct {
	ID      interface{} `json:"id"`
	Error   string      `json:"error"`
	Details string      `json:"details,omitempty"`
}

// missingFields reports which of the required frame fields are absent from
// the payload. Frames need a message id, a device id, and a pressure vector;
// anything else is optional.
func missingFields(payload []byte) []string {
	var envelope struct {
		ID       *int64          `json:"id"`
		DeviceID *string         `json:"device_id"`
		Pressure json.RawMessage `json:"FSR"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil
	}
	var missing []string
	if envelope.ID == nil {
		missing = append(missing, "id")
	}
	if envelope.DeviceID == nil || *envelope.DeviceID == "" {
		missing = append(missing, "device_id")
	}
	if len(envelope.Pressure) == 0 || string(envelope.Pressure) == "null" {
		missing = append(missing, "FSR")
	}
	return missing
}

// frameID salvages the message id from a payload that failed to decode as a
// frame, so the peer can still correlate the error. Returns "unknown" when
// even that much cannot be read.
func frameID(payload []byte) interface{} {
	var envelope struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.ID != nil {
		return *envelope.ID
	}
	return "unknown"
}

func (c *client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
}

// ClientCount reports the number of live connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Sessions snapshots every live connection, ordered by client id.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	sessions := make([]SessionInfo, 0, len(clients))
	for _, c := range clients {
		c.mu.Lock()
		sessions = append(sessions, SessionInfo{
			ClientID:     c.id,
			DeviceID:     c.deviceID,
			ConnectedAt:  c.connectedAt,
			LastActivity: c.lastActivity,
			Predictions:  c.predictions,
		})
		c.mu.Unlock()
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ClientID < sessions[j].ClientID })
	return sessions
}

// Shutdown sends a close frame to every live connection and drops the
// registry. Connection loops unwind on their own as the peers hang up.
func (s *Server) Shutdown() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		c.conn.Close()
	}
}
