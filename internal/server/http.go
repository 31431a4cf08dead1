package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matt-riley/flagchain/internal/core"
	"github.com/matt-riley/flagchain/internal/middleware"
)

const (
	defaultMaxJSONBodyBytes int64 = 1 << 20
	maxBatchKeys                  = 100
	healthCheckTimeout            = 2 * time.Second
)

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	evaluator       Evaluator
	maxJSONBodySize int64
	metricsHandler  http.Handler
	health          Pinger
}

// HTTPOption configures the HTTP handler.
type HTTPOption func(*HTTPServer)

// WithMaxJSONBodySize caps request bodies; non-positive values keep the 1MiB
// default.
func WithMaxJSONBodySize(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxJSONBodySize = n
		}
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) HTTPOption {
	return func(s *HTTPServer) { s.metricsHandler = h }
}

// WithHealthCheck makes GET /healthz report 503 while p fails.
func WithHealthCheck(p Pinger) HTTPOption {
	return func(s *HTTPServer) { s.health = p }
}

type evaluateJSONRequest struct {
	Key     string                 `json:"key,omitempty"`
	Keys    []string               `json:"keys,omitempty"`
	Context core.EvaluationContext `json:"context"`
}

type evaluateJSONResponse struct {
	Key string `json:"key"`
	core.EvaluationResult
}

type evaluateBatchJSONResponse struct {
	Results map[string]core.EvaluationResult `json:"results"`
}

type variationJSONRequest struct {
	Key     string                 `json:"key"`
	Default core.Value             `json:"default"`
	Context core.EvaluationContext `json:"context"`
}

type variationJSONResponse struct {
	Key   string     `json:"key"`
	Value core.Value `json:"value"`
}

func NewHTTPHandler(evaluator Evaluator, opts ...HTTPOption) http.Handler {
	if evaluator == nil {
		panic("evaluator is nil")
	}

	server := &HTTPServer{
		evaluator:       evaluator,
		maxJSONBodySize: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", server.handleEvaluate)
	mux.HandleFunc("POST /v1/variation", server.handleVariation)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if server.metricsHandler != nil {
		mux.Handle("GET /metrics", server.metricsHandler)
	}

	return mux
}

func (s *HTTPServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var request evaluateJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	key := strings.TrimSpace(request.Key)
	switch {
	case len(request.Keys) > 0 && key != "":
		writeJSONError(w, http.StatusBadRequest, "use either key or keys")
	case len(request.Keys) > maxBatchKeys:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("at most %d keys per request", maxBatchKeys))
	case len(request.Keys) > 0:
		keys, err := normalizeKeys(request.Keys)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		results := s.evaluator.EvaluateAll(r.Context(), keys, request.Context)
		writeJSON(w, http.StatusOK, evaluateBatchJSONResponse{Results: results})
	case key != "":
		result := s.evaluator.Evaluate(r.Context(), key, request.Context)
		logEvaluation(r.Context(), key, result)
		writeJSON(w, http.StatusOK, evaluateJSONResponse{Key: key, EvaluationResult: result})
	default:
		writeJSONError(w, http.StatusBadRequest, "key or keys is required")
	}
}

func (s *HTTPServer) handleVariation(w http.ResponseWriter, r *http.Request) {
	var request variationJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	key := strings.TrimSpace(request.Key)
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "key is required")
		return
	}

	value := s.evaluator.ResolveVariation(r.Context(), key, request.Default, request.Context)
	writeJSON(w, http.StatusOK, variationJSONResponse{Key: key, Value: value})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			middleware.LoggerFromContext(r.Context()).WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func logEvaluation(ctx context.Context, key string, result core.EvaluationResult) {
	middleware.LoggerFromContext(ctx).DebugContext(ctx, "flag evaluated",
		"flag_key", key,
		"enabled", result.Enabled,
		"variation", result.Variation,
		"handler", result.Handler,
	)
}

func normalizeKeys(keys []string) ([]string, error) {
	normalized := make([]string, 0, len(keys))
	for idx, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("keys[%d] is required", idx)
		}
		normalized = append(normalized, key)
	}
	return normalized, nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodySize))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
