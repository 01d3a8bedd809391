package http

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vtileraster/internal/cache"
	"vtileraster/internal/config"
	"vtileraster/internal/telemetry"
	"vtileraster/internal/tileerr"
	"vtileraster/internal/tileservice"
	"vtileraster/internal/upstream"
)

const tileRoute = "/{z}/{x}/{y}"

type TileService interface {
	GetTile(ctx context.Context, z, x, y int, bypass bool) (*tileservice.Tile, error)
	ContentType() string
	Purge() int
}

type Handlers struct {
	config      *config.Config
	logger      *zap.Logger
	service     TileService
	vectorCache cache.Cache
}

// New wires the handlers. vectorCache may be nil when upstream payloads are
// not cached.
func New(config *config.Config, logger *zap.Logger, service TileService, vectorCache cache.Cache) *Handlers {
	return &Handlers{
		config:      config,
		logger:      logger,
		service:     service,
		vectorCache: vectorCache,
	}
}

// Routes registers the tile, health and metrics endpoints.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{z}/{x}/{tile}", telemetry.Middleware(tileRoute, http.HandlerFunc(h.HandleTile)))
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	if h.config.AdminToken != "" {
		mux.HandleFunc("POST /admin/purge", h.HandlePurge)
	}
	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", h.extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Bool("skip_cache", skipCache(r)),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := h.config.AllowedOrigin
		if allowedOrigin == "" {
			allowedOrigin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+upstream.SkipCacheHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandlePurge drops cached metatiles and upstream payloads.
func (h *Handlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	token := ""
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if h.config.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.config.AdminToken)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	response := struct {
		Metatiles   int  `json:"metatiles"`
		VectorCache bool `json:"vector_cache"`
	}{Metatiles: h.service.Purge()}
	if h.vectorCache != nil {
		h.vectorCache.Clear()
		response.VectorCache = true
	}

	h.logger.Info("caches purged", zap.Int("metatiles", response.Metatiles), zap.Bool("vector_cache", response.VectorCache))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleTile serves /{z}/{x}/{y}.{ext}. The extension must match the
// configured output.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(r.PathValue("z"))
	x, errX := strconv.Atoi(r.PathValue("x"))
	yPart, ext, _ := strings.Cut(r.PathValue("tile"), ".")
	y, errY := strconv.Atoi(yPart)
	if errZ != nil || errX != nil || errY != nil {
		http.Error(w, "Invalid tile coordinates", http.StatusBadRequest)
		return
	}
	if z < 0 || x < 0 || y < 0 || z > 30 || x >= 1<<z || y >= 1<<z {
		http.Error(w, "Tile coordinates out of range", http.StatusBadRequest)
		return
	}

	contentType := h.service.ContentType()
	if !extensionMatches(ext, contentType) {
		http.Error(w, "Invalid format", http.StatusNotFound)
		return
	}

	tile, err := h.service.GetTile(r.Context(), z, x, y, skipCache(r))
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to render tile", zap.Int("z", z), zap.Int("x", x), zap.Int("y", y), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	for k, v := range tile.Header {
		w.Header()[k] = v
	}
	etag := `"` + etagFor(tile.Data) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.Header().Set("X-Tile-Bytes", strconv.Itoa(len(tile.Data)))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(tile.Data)
}

func etagFor(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])[:16]
}

// skipCache accepts any value other than an explicit false, so "*" from a
// chained renderer counts.
func skipCache(r *http.Request) bool {
	v := r.Header.Get(upstream.SkipCacheHeader)
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return true
}

func extensionMatches(ext, contentType string) bool {
	switch ext {
	case "png":
		return contentType == "image/png"
	case "jpg", "jpeg":
		return contentType == "image/jpeg"
	case "webp":
		return contentType == "image/webp"
	case "json", "grid.json":
		return strings.HasPrefix(contentType, "application/json")
	}
	return false
}

func statusFor(err error) int {
	switch tileerr.KindOf(err) {
	case tileerr.KindNotFound:
		return http.StatusNotFound
	case tileerr.KindUpstreamFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
