package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vtileraster/internal/metrics"
)

// SkipCacheHeader asks upstream caches to bypass stored copies.
const SkipCacheHeader = "X-Skip-Cache"

// HTTPSource fetches payloads from a URL template with {z}, {x} and {y}
// placeholders. 204 and 404 responses count as empty tiles.
type HTTPSource struct {
	template   string
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

func NewHTTPSource(template string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{
		template:   template,
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "vtileraster/1.0",
		logger:     logger,
	}
}

func (s *HTTPSource) URL(req Request) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(req.Coord.Z),
		"{x}", strconv.Itoa(req.Coord.X),
		"{y}", strconv.Itoa(req.Coord.Y),
	)
	return r.Replace(s.template)
}

func (s *HTTPSource) FetchBytes(ctx context.Context, req Request) ([]byte, error) {
	url := s.URL(req)
	s.logger.Debug("fetching vector tile", zap.String("url", url), zap.Bool("bypass", req.Bypass))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", s.userAgent)
	if req.Bypass {
		httpReq.Header.Set(SkipCacheHeader, "*")
	}

	start := time.Now()
	metrics.UpstreamRequests.Inc()
	resp, err := s.httpClient.Do(httpReq)
	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vector tile: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector tile: %w", err)
	}
	return data, nil
}
