package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/extractor"
	"image-compressor-go/internal/preview"
	"image-compressor-go/internal/session"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/uploader"
	"image-compressor-go/internal/validation"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

//go:embed templates/index.html
var templates embed.FS

// UploadState is the part of the upload adapter the server needs.
type UploadState interface {
	Configured() bool
	Uploading() bool
}

// Deps groups the collaborators the server renders and drives.
type Deps struct {
	Session  *session.Session
	Previews *preview.Registry
	Uploads  UploadState
	Stats    *statistics.Statistics
	Hub      *Hub
	Gatherer prometheus.Gatherer
	// Metadata is optional; its cache is reported and cleared on reset.
	Metadata extractor.CachedMetadataExtractor
}

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	deps       Deps
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	// Compressions started by uploads run detached from the request.
	background context.Context
	cancel     context.CancelFunc
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = NewHub(log)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		log:    log,
		deps:   deps,
		router: mux.NewRouter(),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		background: ctx,
		cancel:     cancel,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/images", s.handleSelectImage).Methods("POST")
	api.HandleFunc("/result", s.handleResult).Methods("GET")
	api.HandleFunc("/upload", s.handleUpload).Methods("POST")
	api.HandleFunc("/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	s.router.HandleFunc("/previews/{id}", s.handlePreview).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := templates.ReadFile("templates/index.html")
	if err != nil {
		s.writeError(w, "index page missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := s.deps.Session.Snapshot()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"compressing":        view.Compressing,
			"progress":           view.Progress,
			"status":             session.ProgressStatus(view.Progress),
			"uploading":          s.deps.Uploads.Uploading(),
			"storage_configured": s.deps.Uploads.Configured(),
			"last_error":         view.LastError,
			"session":            renderView(view),
		},
	})
}

func (s *Server) handleSelectImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMiB<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, fmt.Sprintf("%v (max %s)", validation.ErrTooLarge,
				statistics.FormatSize(s.cfg.Validation.MaxBytes)), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Invalid upload: a multipart field named \"file\" is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read upload: %v", err), http.StatusBadRequest)
		return
	}

	f := compressor.File{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
		ModTime:  time.Now(),
	}

	verdict, pending, err := s.deps.Session.StartCompress(f)
	if err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}

	go s.runCompressAsync(f.Name, pending)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Compression started",
		Data: map[string]interface{}{
			"advisory": verdict.Advisory,
			"session":  renderView(s.deps.Session.Snapshot()),
		},
	})
}

func (s *Server) runCompressAsync(name string, pending *session.PendingCompression) {
	s.deps.Hub.Broadcast("compression_started", map[string]interface{}{"name": name})

	outcome, err := pending.Run(s.background)
	if err != nil {
		if errors.Is(err, session.ErrStale) {
			return
		}
		s.deps.Hub.Broadcast("compression_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.deps.Hub.Broadcast("compression_completed", renderOutcome(outcome))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    renderView(s.deps.Session.Snapshot()),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Uploads.Configured() {
		s.writeError(w, uploader.ErrNotConfigured.Error(), http.StatusPreconditionFailed)
		return
	}

	res, err := s.deps.Session.Upload(r.Context())
	if err != nil {
		s.deps.Hub.Broadcast("upload_error", map[string]interface{}{"error": err.Error()})
		s.writeError(w, err.Error(), statusFor(err))
		return
	}

	s.deps.Hub.Broadcast("upload_completed", res)
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Image uploaded",
		Data:    res,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.deps.Session.Reset()
	if s.deps.Metadata != nil {
		s.deps.Metadata.ClearCache()
	}
	s.deps.Hub.Broadcast("session_reset", nil)
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Session reset",
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"summary": s.deps.Stats.GetSummary(),
		"totals":  s.deps.Stats.Snapshot(),
	}
	if s.deps.Metadata != nil {
		data["metadata_cache"] = s.deps.Metadata.GetCacheStats()
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	obj, err := s.deps.Previews.OpenID(mux.Vars(r)["id"])
	switch {
	case errors.Is(err, preview.ErrReleased):
		s.writeError(w, "Preview released", http.StatusGone)
		return
	case err != nil:
		s.writeError(w, "Preview not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", obj.MIMEType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(obj.Data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	s.deps.Hub.add(conn)
	s.log.Debug("WebSocket client connected")
	defer func() {
		s.deps.Hub.remove(conn)
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// statusFor maps workflow errors onto HTTP status codes.
func statusFor(err error) int {
	var cerr *session.CompressionError
	switch {
	case errors.Is(err, validation.ErrNotImage),
		errors.Is(err, validation.ErrContentMismatch):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, validation.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, validation.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, uploader.ErrUploadInProgress),
		errors.Is(err, session.ErrStale):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoOutcome), errors.Is(err, session.ErrNoSource):
		return http.StatusBadRequest
	case errors.Is(err, uploader.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.As(err, &cerr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
