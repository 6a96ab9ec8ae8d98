// Package server exposes the inbound webhook that channel providers
// post user messages to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"timeclerk/internal/logging"
	"timeclerk/internal/orchestrator"
	"timeclerk/internal/store"
	"timeclerk/internal/types"
)

// turnTimeout bounds one detached orchestration run.
const turnTimeout = 2 * time.Minute

// Resolver maps an inbound sender to a directory entry and supplies
// the conversation window.
type Resolver interface {
	ResolveUser(channel types.Channel, address string) (types.User, error)
	RecentTurns(tenantID, userID string, limit int) ([]types.Turn, error)
}

// Runner executes one conversation turn.
type Runner interface {
	Run(ctx context.Context, req types.ConversationRequest, user types.User) orchestrator.Outcome
}

// Server handles inbound webhooks. Requests are acknowledged
// immediately and processed on a detached goroutine so provider
// timeouts never race the LLM pipeline.
type Server struct {
	addr     string
	resolver Resolver
	runner   Runner
	httpSrv  *http.Server
	inflight sync.WaitGroup
}

// New builds a webhook server.
func New(addr string, resolver Resolver, runner Runner) *Server {
	s := &Server{addr: addr, resolver: resolver, runner: runner}

	mux := http.NewServeMux()
	mux.HandleFunc("/inbound", s.handleInbound)
	mux.HandleFunc("/healthz", s.handleHealth)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	logging.Get(logging.CategoryServer).Info("Listening on %s", s.addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight turns.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// inboundPayload is the webhook body posted by channel providers.
type inboundPayload struct {
	Channel   string `json:"channel"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	log := logging.Get(logging.CategoryServer)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	payload.Text = strings.TrimSpace(payload.Text)
	if payload.Channel == "" || payload.Sender == "" || payload.Text == "" {
		http.Error(w, "channel, sender and text are required", http.StatusBadRequest)
		return
	}

	ch := types.Channel(strings.ToLower(payload.Channel))
	user, err := s.resolver.ResolveUser(ch, payload.Sender)
	if err != nil {
		// An unknown sender has no tenant scope, so nothing downstream
		// can run. This is the one failure reported to the caller.
		log.Warn("rejecting inbound: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, "unknown sender", status)
		return
	}

	// Provider retries carry the same message id, which keeps the
	// delivery ledger idempotent across redeliveries.
	requestID := payload.MessageID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	history, err := s.resolver.RecentTurns(user.TenantID, user.UserID, types.HistoryWindow)
	if err != nil {
		log.Warn("failed to load history for %s/%s: %v", user.TenantID, user.UserID, err)
	}

	req := types.ConversationRequest{
		RequestID:     requestID,
		TenantID:      user.TenantID,
		UserID:        user.UserID,
		Channel:       ch,
		SenderAddress: payload.Sender,
		Message:       payload.Text,
		History:       history,
		Now:           time.Now().UTC(),
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()
		out := s.runner.Run(ctx, req, user)
		if !out.Delivered {
			log.Error("turn %s finished undelivered: %s", out.RequestID, out.Err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"request_id": requestID, "status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
