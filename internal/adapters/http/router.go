package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/velumhealth/grounded-query/internal/core/ports"
	"github.com/velumhealth/grounded-query/internal/observability/metrics"
)

// TrafficConfig tunes the admission middleware in front of the query API.
type TrafficConfig struct {
	RateLimitRPS     int
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

type Router struct {
	pipeline ports.QueryPipeline
	corpus   ports.CorpusIndex
	metrics  *metrics.APIMetrics
	traffic  TrafficConfig
}

func NewRouter(
	pipeline ports.QueryPipeline,
	corpus ports.CorpusIndex,
	apiMetrics *metrics.APIMetrics,
	traffic TrafficConfig,
) *Router {
	return &Router{
		pipeline: pipeline,
		corpus:   corpus,
		metrics:  apiMetrics,
		traffic:  traffic,
	}
}

// Handler assembles the route table. Traffic control guards only the query
// API; health and metrics stay reachable under overload.
func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/queries", rt.submitQuery)
	api.HandleFunc("/v1/queries/", rt.queryResource)

	var apiHandler http.Handler = api
	apiHandler = backpressureMiddleware(apiHandler, rt.traffic.MaxInFlight, rt.traffic.BackpressureWait)
	apiHandler = rateLimitMiddleware(apiHandler, rt.traffic.RateLimitRPS, rt.traffic.RateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", apiHandler)

	var handler http.Handler = mux
	handler = metricsMiddleware(handler, rt.metrics)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	documents := 0
	if rt.corpus != nil {
		if count, err := rt.corpus.DocumentCount(r.Context()); err == nil {
			documents = count
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"documents": documents,
	})
}

func (rt *Router) submitQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	queryID, err := rt.pipeline.SubmitQuery(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"query_id": queryID})
}

// queryResource dispatches /v1/queries/{id} and its consent/cancel subpaths.
func (rt *Router) queryResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/queries/")
	queryID, action, _ := strings.Cut(rest, "/")
	if queryID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query id is required"})
		return
	}

	switch action {
	case "":
		rt.getQueryState(w, r, queryID)
	case "consent":
		rt.consentToExternal(w, r, queryID)
	case "cancel":
		rt.cancelQuery(w, r, queryID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
	}
}

func (rt *Router) getQueryState(w http.ResponseWriter, r *http.Request, queryID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	snapshot, err := rt.pipeline.GetQueryState(r.Context(), queryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (rt *Router) consentToExternal(w http.ResponseWriter, r *http.Request, queryID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		ProviderID string `json:"provider_id"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	if err := rt.pipeline.ConsentToExternal(r.Context(), queryID, req.ProviderID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (rt *Router) cancelQuery(w http.ResponseWriter, r *http.Request, queryID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if err := rt.pipeline.CancelQuery(r.Context(), queryID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
