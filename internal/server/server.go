// Package server exposes the document upload and query API over HTTP.
// Authentication is owned by an upstream gateway; the server reads the
// caller identity from trusted headers and fails closed to the lowest
// security tier when they are absent.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/castellan-ai/castellan/internal/blob"
	"github.com/castellan-ai/castellan/internal/extract"
	"github.com/castellan-ai/castellan/internal/logging"
	"github.com/castellan-ai/castellan/internal/rag"
	"github.com/castellan-ai/castellan/internal/store"
	"github.com/castellan-ai/castellan/internal/tier"
)

// New constructs a Server. reg receives the server's metrics; pass a
// fresh registry in tests.
func New(pipeline querier, docs documentStore, convs conversationStore, blobs blob.Store, queue enqueuer, cfg *Config, reg *prometheus.Registry) (*Server, error) {
	if pipeline == nil || docs == nil || convs == nil || blobs == nil || queue == nil {
		return nil, fmt.Errorf("server: all dependencies must be non-nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for model generation.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New("", "")
	}

	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		docs:     docs,
		convs:    convs,
		blobs:    blobs,
		queue:    queue,
		log:      log,
		metrics:  newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.Handle("POST /api/query", rl.middleware(s.metered("query", s.handleQuery)))
	mux.Handle("POST /api/documents", rl.middleware(s.metered("upload", s.handleUpload)))
	mux.Handle("GET /api/documents", s.metered("documents", s.handleListDocuments))
	mux.Handle("GET /api/documents/{id}", s.metered("document", s.handleDocument))
	mux.Handle("GET /api/documents/{id}/download", s.metered("download", s.handleDownload))
	mux.Handle("POST /api/conversations", rl.middleware(s.metered("conversation_create", s.handleCreateConversation)))
	mux.Handle("GET /api/conversations/{id}", s.metered("conversation", s.handleConversation))
	mux.Handle("DELETE /api/conversations/{id}", s.metered("conversation_delete", s.handleDeleteConversation))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// metered wraps a handler with the per-endpoint request counter.
func (s *Server) metered(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		h(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
	})
}

// handleQuery handles POST /api/query. The pipeline never fails past its
// boundary, so the HTTP status is always 200 and the body carries the
// success flag.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	resp := s.pipeline.Query(r.Context(), rag.Request{
		Identity:       identityFrom(r),
		ConversationID: req.ConversationID,
		Query:          req.Query,
	})

	s.metrics.queriesTotal.WithLabelValues(resp.Provenance).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(resp.Provenance).Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, resp)
}

// handleUpload handles POST /api/documents: multipart form with "file",
// "title" and "tier" fields. The declared tier must be within the
// caller's permitted set, so nobody files a document above their own
// clearance.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}

	title := r.FormValue("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	docTier := tier.Tier(r.FormValue("tier"))
	if !docTier.Valid() {
		writeError(w, http.StatusBadRequest, "tier must be one of LOW, MID, HIGH, VERY_HIGH")
		return
	}

	identity := identityFrom(r)
	permitted, _ := tier.Resolve(identity)
	if !tierPermitted(permitted, docTier) {
		writeError(w, http.StatusForbidden, "declared tier exceeds your clearance")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if !extract.Supported(header.Filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}

	key := blob.Key(docTier, title, header.Filename, time.Now())
	contentType := header.Header.Get("Content-Type")
	if err := s.blobs.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		logging.FromContext(r.Context()).Error("upload: blob put failed", "error", err)
		writeError(w, http.StatusBadGateway, "could not store the file")
		return
	}

	doc := &store.Document{
		Title:      title,
		Tier:       docTier,
		FileType:   contentType,
		SizeBytes:  header.Size,
		StorageKey: key,
		Filename:   header.Filename,
	}
	if identity != nil {
		id := identity.ID
		doc.OwnerID = &id
	}
	if err := s.docs.CreateDocument(r.Context(), doc); err != nil {
		logging.FromContext(r.Context()).Error("upload: create document failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not record the document")
		return
	}

	// The row is durably committed; only now may indexing be scheduled.
	if err := s.queue.Enqueue(r.Context(), doc.ID); err != nil {
		logging.FromContext(r.Context()).Error("upload: enqueue failed", "error", err, "document_id", doc.ID)
		writeError(w, http.StatusInternalServerError, "could not schedule indexing")
		return
	}

	s.metrics.uploadsTotal.WithLabelValues(string(docTier)).Inc()
	writeJSON(w, http.StatusAccepted, uploadResponse{
		ID:     doc.ID,
		Title:  doc.Title,
		Tier:   doc.Tier,
		Status: store.StatusPending,
	})
}

// handleListDocuments handles GET /api/documents, filtered to the tiers
// the caller may see.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	permitted, _ := tier.Resolve(identityFrom(r))
	docs, err := s.docs.Documents(r.Context(), permitted, 100)
	if err != nil {
		logging.FromContext(r.Context()).Error("list documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}

	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = toDocumentResponse(&d)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDocument handles GET /api/documents/{id}. A document above the
// caller's clearance is reported as not found, never as forbidden, so
// its existence does not leak.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.visibleDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleDownload handles GET /api/documents/{id}/download with a
// time-limited presigned URL.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.visibleDocument(w, r)
	if !ok {
		return
	}

	url, err := s.blobs.Presign(r.Context(), doc.StorageKey, s.cfg.PresignTTL)
	if err != nil {
		logging.FromContext(r.Context()).Error("presign failed", "error", err, "document_id", doc.ID)
		writeError(w, http.StatusBadGateway, "could not generate a download link")
		return
	}
	writeJSON(w, http.StatusOK, presignResponse{
		URL:       url,
		ExpiresIn: int(s.cfg.PresignTTL.Seconds()),
	})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// visibleDocument loads the path's document and enforces tier
// visibility, writing the error response itself on failure.
func (s *Server) visibleDocument(w http.ResponseWriter, r *http.Request) (*store.Document, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return nil, false
	}

	doc, err := s.docs.Document(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}

	permitted, _ := tier.Resolve(identityFrom(r))
	if !tierPermitted(permitted, doc.Tier) {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}

func tierPermitted(permitted []tier.Tier, t tier.Tier) bool {
	for _, p := range permitted {
		if p == t {
			return true
		}
	}
	return false
}

func toDocumentResponse(d *store.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		Title:      d.Title,
		Tier:       d.Tier,
		FileType:   d.FileType,
		SizeBytes:  d.SizeBytes,
		Status:     d.Status,
		ChunkCount: d.ChunkCount,
		LastError:  d.LastError,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
