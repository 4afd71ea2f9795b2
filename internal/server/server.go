package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smartroomba/roombadash/internal/oi"
	"github.com/smartroomba/roombadash/internal/transport"
)

// Orchestrator is the slice of the robot loop the server needs: live
// readings to broadcast and a connection to push commands through.
type Orchestrator interface {
	Subscribe() (string, <-chan *oi.SensorData)
	Unsubscribe(id string)
	Last() *oi.SensorData
	Decoded() uint64
	DecodeErrors() uint64
	Conn() transport.Conn
}

// Server broadcasts sensor readings to WebSocket clients and exposes a
// small HTTP API for status, config and robot commands.
type Server struct {
	cfg   *Config
	orch  Orchestrator
	webFS fs.FS

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	// Odometer — cumulative distance/angle from incremental sensor deltas
	odoMu      sync.Mutex
	odoTotalMM int64 // total distance, mm
	odoTripMM  int64 // trip distance, mm (resettable)
	odoAngleMM int64 // cumulative angle delta, mm
	odoPath    string
	odoTicker  *time.Ticker
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Sensors *oi.SensorData `json:"sensors,omitempty"`
	Status  *StatusData    `json:"status,omitempty"`
	Odo     *OdoData       `json:"odo,omitempty"`
	Stamp   int64          `json:"stamp"` // Unix ms
}

// StatusData mirrors /api/status for clients that want it pushed.
type StatusData struct {
	State        string `json:"state"`
	Faulted      bool   `json:"faulted"`
	Protocol     string `json:"protocol"`
	Decoded      uint64 `json:"decoded"`
	DecodeErrors uint64 `json:"decodeErrors"`

	BytesIngested     uint64 `json:"bytesIngested,omitempty"`
	PacketsFramed     uint64 `json:"packetsFramed,omitempty"`
	SuspectMisaligned uint64 `json:"suspectMisaligned,omitempty"`
}

// OdoData is the odometer info sent to clients.
type OdoData struct {
	TotalM float64 `json:"totalM"` // meters
	TripM  float64 `json:"tripM"`  // meters
	Angle  float64 `json:"angle"`  // cumulative angle delta, mm
}

// New creates a new Server.
func New(cfg *Config, orch Orchestrator, webFS fs.FS) *Server {
	odoPath := filepath.Join(filepath.Dir(cfg.path), "odometer.dat")
	if cfg.path == "" {
		odoPath = "odometer.dat"
	}

	s := &Server{
		cfg:     cfg,
		orch:    orch,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		odoPath: odoPath,
	}
	s.loadOdometer()
	return s
}

// Run starts the HTTP server and the broadcast loop.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// APIs
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/odo/reset-trip", s.handleResetTrip)

	go s.broadcastLoop(ctx)

	// Persist odometer every 30 seconds
	s.odoTicker = time.NewTicker(30 * time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				s.saveOdometer()
				return
			case <-s.odoTicker.C:
				s.saveOdometer()
			}
		}
	}()

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		s.saveOdometer()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", len(s.clients))

	// Send the latest reading immediately so new clients aren't blank
	// until the next poll cycle.
	initial := Frame{
		Sensors: s.orch.Last(),
		Status:  s.statusData(),
		Odo:     s.odoData(),
		Stamp:   time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(initial); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", len(s.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	data, err := json.Marshal(s.statusData())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// commandRequest is the /api/command body. Velocity and radius are only
// used for "drive".
type commandRequest struct {
	Command  string `json:"command"`
	Velocity int16  `json:"velocity,omitempty"`
	Radius   int16  `json:"radius,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	var req commandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}

	payload, err := commandBytes(req)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	if err := s.orch.Conn().Send(payload); err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	log.Printf("[server] command %q sent", req.Command)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func commandBytes(req commandRequest) ([]byte, error) {
	switch strings.ToLower(req.Command) {
	case "clean":
		return oi.Clean(), nil
	case "spot":
		return oi.Spot(), nil
	case "max":
		return oi.MaxClean(), nil
	case "dock":
		return oi.Dock(), nil
	case "power":
		return oi.Power(), nil
	case "safe":
		return oi.Safe(), nil
	case "full":
		return oi.Full(), nil
	case "stop":
		return oi.Stop(), nil
	case "drive":
		return oi.Drive(req.Velocity, req.Radius), nil
	default:
		return nil, fmt.Errorf("unknown command %q", req.Command)
	}
}

func (s *Server) handleResetTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.odoMu.Lock()
	s.odoTripMM = 0
	s.odoMu.Unlock()
	s.saveOdometer()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// broadcastLoop forwards decoded sensor readings to all clients as they
// arrive from the robot loop.
func (s *Server) broadcastLoop(ctx context.Context) {
	id, ch := s.orch.Subscribe()
	defer s.orch.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			s.updateOdometer(d)
			frame := Frame{
				Sensors: d,
				Status:  s.statusData(),
				Odo:     s.odoData(),
				Stamp:   time.Now().UnixMilli(),
			}
			s.broadcast(frame)
		}
	}
}

func (s *Server) statusData() *StatusData {
	conn := s.orch.Conn()
	st := &StatusData{
		State:        conn.State().String(),
		Faulted:      conn.Faulted(),
		Protocol:     string(conn.Protocol()),
		Decoded:      s.orch.Decoded(),
		DecodeErrors: s.orch.DecodeErrors(),
	}
	if sc, ok := conn.(*transport.SerialConn); ok {
		stats := sc.Stats()
		st.BytesIngested = stats.BytesIngested
		st.PacketsFramed = stats.PacketsFramed
		st.SuspectMisaligned = stats.SuspectMisaligned
	}
	return st
}

// updateOdometer accumulates the incremental distance and angle deltas
// reported in each sensor frame. Packets that don't carry the physical
// group (codes 2 and 3) report zero deltas, so they are harmless here.
func (s *Server) updateOdometer(d *oi.SensorData) {
	if d == nil {
		return
	}
	dist := int64(d.DistanceMM)
	if dist < 0 {
		dist = -dist // driving backwards still covers ground
	}
	s.odoMu.Lock()
	s.odoTotalMM += dist
	s.odoTripMM += dist
	s.odoAngleMM += int64(d.AngleMM)
	s.odoMu.Unlock()
}

func (s *Server) odoData() *OdoData {
	s.odoMu.Lock()
	defer s.odoMu.Unlock()
	return &OdoData{
		TotalM: float64(s.odoTotalMM) / 1000.0,
		TripM:  float64(s.odoTripMM) / 1000.0,
		Angle:  float64(s.odoAngleMM),
	}
}

// loadOdometer reads persisted odometer values from disk.
func (s *Server) loadOdometer() {
	data, err := os.ReadFile(s.odoPath)
	if err != nil {
		log.Printf("[odo] no saved data at %s (starting at 0)", s.odoPath)
		return
	}
	parts := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(parts) >= 1 {
		if v, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
			s.odoTotalMM = v
		}
	}
	if len(parts) >= 2 {
		if v, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			s.odoTripMM = v
		}
	}
	log.Printf("[odo] loaded: total=%.1f m, trip=%.1f m",
		float64(s.odoTotalMM)/1000.0, float64(s.odoTripMM)/1000.0)
}

// saveOdometer persists odometer values to disk.
func (s *Server) saveOdometer() {
	s.odoMu.Lock()
	total := s.odoTotalMM
	trip := s.odoTripMM
	s.odoMu.Unlock()

	os.MkdirAll(filepath.Dir(s.odoPath), 0755)

	data := fmt.Sprintf("%d\n%d\n", total, trip)
	if err := os.WriteFile(s.odoPath, []byte(data), 0644); err != nil {
		log.Printf("[odo] save failed: %v", err)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
