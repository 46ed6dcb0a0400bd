package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mleitner/leadenrich/internal/middleware"

	"github.com/google/uuid"
	"github.com/rs/cors"
)

// Server is the long-lived callback listener. It responds quickly and
// idempotently regardless of correlation state; the only suspension point
// per request is the ledger write.
type Server struct {
	correlator *Correlator
	httpServer *http.Server
}

// NewServer wires the callback endpoint on bindAddr:port.
func NewServer(correlator *Correlator, bindAddr string, port int) *Server {
	s := &Server{correlator: correlator}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/webhook/apollo", s.handleApollo)

	corsHandler := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", bindAddr, port),
		Handler:      middleware.LoggingMiddleware(corsHandler.Handler(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start serves until the context is cancelled, then shuts down
// gracefully. In-flight ledger writes are allowed to finish.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[WEBHOOK] listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.URL.Query().Get("run"))
	if err != nil {
		http.Error(w, "missing or invalid run query parameter", http.StatusBadRequest)
		return
	}

	summary, err := s.correlator.Status(r.Context(), runID)
	if err != nil {
		log.Printf("[WEBHOOK] failed to read run status: %v", err)
		http.Error(w, "failed to read run status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleApollo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("[WEBHOOK] malformed callback payload: %v", err)
		// 200 anyway so the provider does not retry endlessly.
		writeJSON(w, http.StatusOK, Ack{Status: "error"})
		return
	}

	ack, err := s.correlator.Process(r.Context(), payload)
	if err != nil {
		log.Printf("[WEBHOOK] failed to process callback: %v", err)
		writeJSON(w, http.StatusOK, Ack{Status: "error", Processed: ack.Processed})
		return
	}

	writeJSON(w, http.StatusOK, ack)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[WEBHOOK] failed to write response: %v", err)
	}
}
