// Package handlers provides HTTP handlers for the analytics API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxinsight/internal/api/middleware"
	"github.com/drfirst/go-rxinsight/internal/domain/volume"
	"github.com/drfirst/go-rxinsight/internal/lookup"
	"github.com/drfirst/go-rxinsight/internal/service"
	"github.com/drfirst/go-rxinsight/pkg/circuitbreaker"
)

// Analyzer computes the encoded payloads served by the API
type Analyzer interface {
	ExecuteQuery(ctx context.Context, brandCodes, genericCodes []string) ([]byte, error)
	CompareFiles(ctx context.Context) ([]byte, error)
	Summary(ctx context.Context, key volume.ProductKey, f volume.Filter) ([]byte, error)
	Resolver() *lookup.Resolver
}

// Query parameters
const (
	ParamBrandList   = "cip_list"
	ParamGenericList = "gen_list"
)

// Volume sources accepted by /volume/{source}
var sources = map[string]volume.ProductKey{
	"medication": volume.KeyBrand,
	"generic":    volume.KeyGeneric,
}

// AnalyticsHandler handles the analytics endpoints
type AnalyticsHandler struct {
	analyzer Analyzer
	logger   *zap.Logger
}

// NewAnalyticsHandler creates a new handler
func NewAnalyticsHandler(analyzer Analyzer, logger *zap.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsHandler{analyzer: analyzer, logger: logger}
}

// Routes returns the handler routes
func (h *AnalyticsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/execute-query", h.ExecuteQuery)
	r.Get("/brand-vs-generic", h.BrandVsGeneric)
	r.Get("/volume/{source}", h.Volume)
	r.Get("/master/{dimension}", h.Master)
	return r
}

// ExecuteQuery handles GET /execute-query?cip_list=..&gen_list=..
func (h *AnalyticsHandler) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("analytics-handler")
	ctx, span := tracer.Start(ctx, "execute_query")
	defer span.End()

	q := r.URL.Query()
	brand := splitList(q[ParamBrandList])
	generic := splitList(q[ParamGenericList])
	if len(brand) == 0 {
		h.jsonError(w, ParamBrandList+" is required", http.StatusBadRequest)
		return
	}
	if len(generic) == 0 {
		h.jsonError(w, ParamGenericList+" is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.Int("brand_codes", len(brand)),
		attribute.Int("generic_codes", len(generic)),
	)

	b, err := h.analyzer.ExecuteQuery(ctx, brand, generic)
	if err != nil {
		span.RecordError(err)
		h.computeError(w, r, "execute query", err)
		return
	}

	h.logger.Info("query executed",
		zap.Int("brand_codes", len(brand)),
		zap.Int("generic_codes", len(generic)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	h.writeRaw(w, b)
}

// BrandVsGeneric handles GET /brand-vs-generic over the configured extracts
func (h *AnalyticsHandler) BrandVsGeneric(w http.ResponseWriter, r *http.Request) {
	b, err := h.analyzer.CompareFiles(r.Context())
	if err != nil {
		h.computeError(w, r, "compare files", err)
		return
	}
	h.writeRaw(w, b)
}

// Volume handles GET /volume/{source}?sex=..&age=..&region=..&product=..
func (h *AnalyticsHandler) Volume(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	key, ok := sources[strings.ToLower(source)]
	if !ok {
		h.jsonError(w, "unknown source "+source+" (want medication or generic)", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	f := volume.Filter{
		Sex:     splitList(q["sex"]),
		Age:     splitList(q["age"]),
		Region:  splitList(q["region"]),
		Product: splitList(q["product"]),
	}

	b, err := h.analyzer.Summary(r.Context(), key, f)
	if err != nil {
		h.computeError(w, r, "volume summary", err)
		return
	}
	h.writeRaw(w, b)
}

// Master handles GET /master/{dimension} and returns the sorted lookup codes
func (h *AnalyticsHandler) Master(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "dimension")
	dim, ok := lookup.ParseDimension(strings.ToLower(name))
	if !ok {
		h.jsonError(w, "unknown dimension "+name, http.StatusNotFound)
		return
	}

	codes := h.analyzer.Resolver().Codes(dim)
	if codes == nil {
		codes = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(codes)
}

func (h *AnalyticsHandler) computeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		code = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrUpstream):
		code = http.StatusBadGateway
	}

	h.logger.Error(op+" failed",
		zap.Error(err),
		zap.Int("status", code),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)
	h.jsonError(w, "cannot compute: "+err.Error(), code)
}

func (h *AnalyticsHandler) writeRaw(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (h *AnalyticsHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// splitList accepts repeated parameters as well as comma-separated values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
