package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polytrace/copytrader/internal/commands"
	"github.com/polytrace/copytrader/internal/copytask"
	"github.com/polytrace/copytrader/internal/position"
	"github.com/polytrace/copytrader/internal/tradeledger"
)

// TaskStore is the subset of *copytask.Store the API's read-only
// endpoints consult directly (writes go through the Dispatcher so
// admission policy and notifications fire consistently).
type TaskStore interface {
	Get(id string) (*copytask.Task, error)
	List(modeFilter copytask.Mode) ([]*copytask.Task, error)
}

// PositionSource reads a task's open positions for the /api/tasks/{id}/positions endpoint.
type PositionSource interface {
	Find(taskID string) ([]*position.Position, error)
}

// TradeSource reads a task's recent fills for the /api/tasks/{id}/trades endpoint.
type TradeSource interface {
	Recent(taskID string, limit int) ([]*tradeledger.Record, error)
}

// Server is a lightweight HTTP API for task administration and
// observability — health/ready probes, task CRUD fronting
// internal/commands.Dispatcher, and a Prometheus /metrics endpoint.
type Server struct {
	httpServer *http.Server
	tasks      TaskStore
	dispatch   *commands.Dispatcher
	positions  PositionSource
	trades     TradeSource
	startedAt  time.Time
}

// NewServer creates a new API server bound to addr.
func NewServer(addr string, tasks TaskStore, dispatch *commands.Dispatcher, positions PositionSource, trades TradeSource) *Server {
	s := &Server{
		tasks:     tasks,
		dispatch:  dispatch,
		positions: positions,
		trades:    trades,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/ready", s.handleReady)
	mux.HandleFunc("/api/tasks", s.handleTasksCollection)
	mux.HandleFunc("/api/tasks/", s.handleTaskItem)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("api server listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api server: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	s.writeJSON(w, map[string]interface{}{"error": err.Error()})
}

// GET /api/health — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/ready — readiness probe: the store must be reachable.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	_, err := s.tasks.List("")
	resp := map[string]interface{}{
		"ready":    err == nil,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	}
	if err != nil {
		resp["reason"] = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, resp)
}

// addTaskRequest is the JSON body for POST /api/tasks.
type addTaskRequest struct {
	Mode           string  `json:"mode"`
	TargetAddress  string  `json:"targetAddress"`
	ProfileURL     string  `json:"profileUrl"`
	OperatorWallet string  `json:"operatorWallet"`
	PrivateKey     string  `json:"privateKey"`
	FixedAmount    float64 `json:"fixedAmount"`
	InitialFinance float64 `json:"initialFinance"`
}

// GET /api/tasks — list tasks. POST /api/tasks — create one.
func (s *Server) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.tasks.List("")
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
	case http.MethodPost:
		var req addTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		draft := copytask.Draft{
			Mode:           copytask.Mode(req.Mode),
			TargetAddress:  req.TargetAddress,
			ProfileURL:     req.ProfileURL,
			OperatorWallet: req.OperatorWallet,
			PrivateKey:     req.PrivateKey,
			FixedAmount:    req.FixedAmount,
			InitialFinance: req.InitialFinance,
		}
		task, err := s.dispatch.AddTask(r.Context(), draft)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		s.writeJSON(w, task)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// /api/tasks/{id}, /api/tasks/{id}/stop, /api/tasks/{id}/restart,
// /api/tasks/{id}/positions, /api/tasks/{id}/trades.
func (s *Server) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	taskID := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTask(w, taskID)
	case action == "" && r.Method == http.MethodDelete:
		s.removeTask(w, r, taskID)
	case action == "stop" && r.Method == http.MethodPost:
		s.stopTask(w, r, taskID)
	case action == "restart" && r.Method == http.MethodPost:
		s.restartTask(w, r, taskID)
	case action == "positions" && r.Method == http.MethodGet:
		s.getTaskPositions(w, taskID)
	case action == "trades" && r.Method == http.MethodGet:
		s.getTaskTrades(w, taskID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) getTask(w http.ResponseWriter, taskID string) {
	task, err := s.tasks.Get(taskID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, task)
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := s.dispatch.StopTask(r.Context(), taskID); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) restartTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := s.dispatch.RestartTask(r.Context(), taskID); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) removeTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := s.dispatch.RemoveTask(r.Context(), taskID); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"ok": true})
}

func (s *Server) getTaskPositions(w http.ResponseWriter, taskID string) {
	positions, err := s.positions.Find(taskID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"positions": positions, "count": len(positions)})
}

func (s *Server) getTaskTrades(w http.ResponseWriter, taskID string) {
	trades, err := s.trades.Recent(taskID, 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"trades": trades, "count": len(trades)})
}
