package channel

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gardenbot/internal/domain"
	"gardenbot/internal/metrics"
)

const (
	defaultMaxUploadBytes = 16 << 20
	defaultRequestTimeout = 10 * time.Minute
	graphLimit            = 10
)

// Analyzer is the analysis service as the channels see it.
type Analyzer interface {
	AnalyzeLatest(ctx context.Context) (domain.Verdict, error)
	AnalyzeImage(ctx context.Context, imagePath string) (domain.Verdict, error)
	SaveUpload(name string, r io.Reader) (string, error)
	History(ctx context.Context, limit int) ([]domain.AnalysisRecord, error)
	Busy() bool
}

// WebAuth configures optional HTTP Basic Auth. PasswordHash is the hex
// SHA-256 of the password.
type WebAuth struct {
	Enabled      bool
	Username     string
	PasswordHash string
}

// Web is the HTTP gateway the dashboard calls.
type Web struct {
	host           string
	port           int
	analyzer       Analyzer
	auth           WebAuth
	metrics        bool
	events         EventSource
	requestTimeout time.Duration
	maxUploadBytes int64
	version        string
	logger         *slog.Logger
	server         *http.Server
}

type WebConfig struct {
	Host           string
	Port           int
	Analyzer       Analyzer
	Auth           WebAuth
	Metrics        bool          // expose GET /metrics
	Events         EventSource   // optional; enables the GET /events WebSocket stream
	RequestTimeout time.Duration // bound on one analysis request
	MaxUploadBytes int64
	Version        string
	Logger         *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Web{
		host:           cfg.Host,
		port:           cfg.Port,
		analyzer:       cfg.Analyzer,
		auth:           cfg.Auth,
		metrics:        cfg.Metrics,
		events:         cfg.Events,
		requestTimeout: cfg.RequestTimeout,
		maxUploadBytes: cfg.MaxUploadBytes,
		version:        cfg.Version,
		logger:         cfg.Logger,
	}
}

func (w *Web) Name() string { return "web" }

// Handler returns the gateway's routes.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /submit", w.requireAuth(w.handleSubmit))
	mux.HandleFunc("POST /submit2", w.requireAuth(w.handleSubmitImage))
	mux.HandleFunc("GET /graph", w.requireAuth(w.handleGraph))
	mux.HandleFunc("GET /status", w.handleStatus) // public endpoint
	if w.metrics {
		mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	}
	if w.events != nil {
		stream := &eventStream{events: w.events, status: w.statusPayload, logger: w.logger}
		mux.HandleFunc("GET /events", w.requireAuth(stream.ServeHTTP))
	}
	return mux
}

// Start serves until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	addr := net.JoinHostPort(w.host, fmt.Sprint(w.port))
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked WebSocket connections outlive Shutdown; they watch this.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	w.logger.Info("gateway started", "addr", "http://"+addr, "auth", w.auth.Enabled, "metrics", w.metrics)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// requireAuth wraps a handler with HTTP Basic Auth when auth is enabled.
func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !w.auth.Enabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !w.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="gardenbot"`)
			writeError(rw, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(rw, r)
	}
}

// checkCredentials verifies username and password against the stored hash.
func (w *Web) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(w.auth.Username)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(w.auth.PasswordHash)) == 1
}

// handleSubmit analyzes the device's current photo and readings.
func (w *Web) handleSubmit(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), w.requestTimeout)
	defer cancel()

	v, err := w.analyzer.AnalyzeLatest(ctx)
	if err != nil {
		w.writeFailure(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

// handleSubmitImage analyzes an uploaded image with the device's readings.
func (w *Web) handleSubmitImage(rw http.ResponseWriter, r *http.Request) {
	if r.ContentLength > w.maxUploadBytes {
		writeError(rw, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", w.maxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(rw, r.Body, w.maxUploadBytes)
	if err := r.ParseMultipartForm(w.maxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(rw, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", w.maxUploadBytes))
			return
		}
		writeError(rw, http.StatusBadRequest, "Image file missing")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(rw, http.StatusBadRequest, "Image file missing")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(rw, http.StatusBadRequest, "Empty image file name")
		return
	}

	path, err := w.analyzer.SaveUpload(header.Filename, file)
	if err != nil {
		w.writeFailure(rw, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), w.requestTimeout)
	defer cancel()

	v, err := w.analyzer.AnalyzeImage(ctx, path)
	if err != nil {
		w.writeFailure(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

// handleGraph returns the latest stored analyses, newest first.
func (w *Web) handleGraph(rw http.ResponseWriter, r *http.Request) {
	recs, err := w.analyzer.History(r.Context(), graphLimit)
	if err != nil {
		w.writeFailure(rw, r, err)
		return
	}
	if recs == nil {
		recs = []domain.AnalysisRecord{}
	}
	writeJSON(rw, http.StatusOK, recs)
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.statusPayload())
}

func (w *Web) statusPayload() map[string]any {
	return map[string]any{
		"status":  "ok",
		"version": w.version,
		"busy":    w.analyzer.Busy(),
		"uptime":  metrics.Collector.Uptime().Round(time.Second).String(),
		"time":    time.Now().Format(time.RFC3339),
	}
}

func (w *Web) writeFailure(rw http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		w.logger.Info("gateway client disconnected", "path", r.URL.Path)
		return
	}
	w.logger.Warn("request failed", "path", r.URL.Path, "status", status, "err", err)
	writeError(rw, status, err.Error())
}

// statusFor maps a failure to the HTTP status the dashboard expects.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindSessionBusy:
		return http.StatusConflict
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindLoginTimeout, domain.KindResponseExhausted:
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
