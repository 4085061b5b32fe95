// ABOUTME: Gateway orchestrator exposing the WebSocket and HTTP surfaces
// ABOUTME: Manages the HTTP server lifecycle, health endpoint, and document blobs

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/skillburner/consult-gateway/internal/auth"
	"github.com/skillburner/consult-gateway/internal/conversation"
	"github.com/skillburner/consult-gateway/internal/store"
)

// maxDocumentSize caps document uploads.
const maxDocumentSize = 32 << 20 // 32 MiB

// Server is the gateway's HTTP surface: the WebSocket endpoint for
// conversation clients, a health endpoint, and the document blob store.
type Server struct {
	service    *conversation.Service
	verifier   auth.Verifier
	store      store.Store
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a gateway server listening on addr.
func New(addr string, svc *conversation.Service, verifier auth.Verifier, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service:  svc,
		verifier: verifier,
		store:    st,
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /documents", s.handleDocumentUpload)
	mux.HandleFunc("GET /documents/{id}", s.handleDocumentGet)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("gateway shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentSize))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "document too large"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty document"})
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := &store.Document{
		ID:          uuid.New().String(),
		Name:        r.URL.Query().Get("name"),
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now(),
	}
	if err := s.store.PutDocument(r.Context(), doc); err != nil {
		s.logger.Error("failed to store document", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store document"})
		return
	}

	s.logger.Info("document stored",
		"document_id", doc.ID,
		"content_type", doc.ContentType,
		"size", len(doc.Data))
	writeJSON(w, http.StatusCreated, map[string]string{"id": doc.ID})
}

func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to load document", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load document"})
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
