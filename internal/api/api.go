// Package api exposes the coaching pipeline over HTTP and MCP. The HTTP
// surface serves content generation, domain discovery, async document
// ingestion and progress summaries; errors leave as a flat
// {"error", "message"} payload with the status mapped from the pipeline's
// sentinel errors.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/coach/internal/agent"
	"github.com/kalambet/coach/internal/composer"
	"github.com/kalambet/coach/internal/document"
	"github.com/kalambet/coach/internal/gateway"
	"github.com/kalambet/coach/internal/orchestrator"
	"github.com/kalambet/coach/internal/progress"
	"github.com/kalambet/coach/internal/retrieval"
	"github.com/kalambet/coach/internal/storage"
)

const maxGenerateBodySize = 1 << 20 // 1MB
const maxIngestBodySize = 10 << 20  // 10MB

// Deps carries everything the HTTP handlers need. Artifacts is optional;
// without it save=true on training requests is silently ignored. An empty
// Token disables auth on the protected routes.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Index        *retrieval.SQLiteIndexes
	Store        *storage.Store
	Progress     *progress.Manager
	Artifacts    *document.Writer
	Token        string
}

// NewRouter builds the HTTP surface. Generation and domain discovery are
// open; ingestion and progress sit behind bearer auth when a token is
// configured.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/training", handleTraining(deps))
		r.Post("/mentor", handleMentor(deps))
		r.Post("/assessment/questions", handleAssessmentQuestions(deps))
		r.Post("/assessment/evaluate", handleAssessmentEvaluate(deps))
		r.Get("/domains", handleDomains(deps))

		r.Group(func(r chi.Router) {
			if deps.Token != "" {
				r.Use(BearerAuth(deps.Token))
			}
			r.Post("/ingest", handleIngest(deps))
			r.Get("/ingest/{id}", handleIngestStatus(deps))
			r.Get("/progress", handleProgress(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "coach",
	})
}

// GenerateRequest is the body shared by the four generation endpoints.
// Which fields matter depends on the endpoint; User attributes the progress
// entry and Save renders a markdown artifact for training content.
type GenerateRequest struct {
	Domain   string `json:"domain"`
	Level    string `json:"level"`
	Query    string `json:"query"`
	Topic    string `json:"topic"`
	Scenario string `json:"scenario"`
	Count    int    `json:"count"`
	User     string `json:"user"`
	Save     bool   `json:"save"`
}

func (g GenerateRequest) agentRequest() agent.Request {
	return agent.Request{
		Domain:   g.Domain,
		Level:    g.Level,
		Query:    g.Query,
		Topic:    g.Topic,
		Scenario: g.Scenario,
		Count:    g.Count,
	}
}

func decodeGenerate(w http.ResponseWriter, r *http.Request) (GenerateRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBodySize)
	defer r.Body.Close()

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return GenerateRequest{}, false
	}
	return req, true
}

func handleTraining(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerate(w, r)
		if !ok {
			return
		}

		result, err := deps.Orchestrator.Handle(r.Context(), orchestrator.KindTraining, req.agentRequest())
		if err != nil {
			respondError(w, err)
			return
		}
		recordProgress(deps, req.User, req.Domain, req.Level, "training", 0)

		resp := struct {
			*agent.Result
			Artifact string `json:"artifact,omitempty"`
		}{Result: result}

		if req.Save && deps.Artifacts != nil {
			path, err := deps.Artifacts.Save(document.Artifact{
				Title:   strings.ToUpper(req.Domain) + " Training",
				Domain:  req.Domain,
				Level:   result.Meta.Level,
				Content: result.Content,
			})
			if err != nil {
				slog.Warn("saving training artifact failed", "domain", req.Domain, "error", err)
			} else {
				resp.Artifact = path
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleMentor(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerate(w, r)
		if !ok {
			return
		}

		result, err := deps.Orchestrator.Handle(r.Context(), orchestrator.KindMentor, req.agentRequest())
		if err != nil {
			respondError(w, err)
			return
		}
		recordProgress(deps, req.User, req.Domain, "", "mentor", 0)

		writeJSON(w, http.StatusOK, result)
	}
}

func handleAssessmentQuestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerate(w, r)
		if !ok {
			return
		}

		result, err := deps.Orchestrator.Handle(r.Context(), orchestrator.KindAssessmentQuestions, req.agentRequest())
		if err != nil {
			respondError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Topic string `json:"topic"`
			*agent.Result
		}{Topic: req.Topic, Result: result})
	}
}

func handleAssessmentEvaluate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeGenerate(w, r)
		if !ok {
			return
		}

		result, err := deps.Orchestrator.Handle(r.Context(), orchestrator.KindAssessmentEvaluate, req.agentRequest())
		if err != nil {
			respondError(w, err)
			return
		}

		domain := req.Domain
		if domain == "" {
			domain = req.Topic
		}
		score := 0
		if result.Evaluation != nil {
			score = result.Evaluation.Score
		}
		recordProgress(deps, req.User, domain, "", "assessment", score)

		writeJSON(w, http.StatusOK, result)
	}
}

type domainInfo struct {
	Name      string `json:"name"`
	Fragments int    `json:"fragments"`
}

func handleDomains(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Index.Domains()
		if err != nil {
			respondError(w, err)
			return
		}

		infos := make([]domainInfo, 0, len(names))
		for _, name := range names {
			n, err := deps.Index.Count(name)
			if err != nil {
				slog.Warn("sizing index failed", "domain", name, "error", err)
			}
			infos = append(infos, domainInfo{Name: name, Fragments: n})
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": infos})
	}
}

// IngestRequest enqueues one document for background indexing. Type is
// text, html or url; url jobs carry the address in URL, the others carry
// the raw document in Content. PDF files go through `coach index`, which
// reads them from disk directly.
type IngestRequest struct {
	Domain  string `json:"domain"`
	Title   string `json:"title"`
	Type    string `json:"type"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Domain == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "domain is required")
			return
		}
		if !retrieval.ValidDomain(req.Domain) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid domain %q: lowercase letters, digits, - and _ only", req.Domain)
			return
		}
		if req.Type == "" {
			if req.URL != "" {
				req.Type = "url"
			} else {
				req.Type = "text"
			}
		}

		var payload string
		switch req.Type {
		case "text", "html":
			if req.Content == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required for type %q", req.Type)
				return
			}
			payload = req.Content
		case "url":
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required for type \"url\"")
				return
			}
			payload = req.URL
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported ingest type %q (text, html, url)", req.Type)
			return
		}

		job := storage.Job{
			ID:      uuid.New().String(),
			Domain:  req.Domain,
			Title:   req.Title,
			Kind:    req.Type,
			Payload: payload,
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			respondError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     job.ID,
			"status": "queued",
		})
	}
}

type jobStatus struct {
	ID       string `json:"id"`
	Domain   string `json:"domain"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func handleIngestStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, jobStatus{
			ID:       job.ID,
			Domain:   job.Domain,
			Status:   job.Status,
			Attempts: job.Attempts,
			Error:    job.LastError,
		})
	}
}

func handleProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := deps.Progress.Summary(r.URL.Query().Get("user"))
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// recordProgress logs a completed activity. Progress is bookkeeping on top
// of an already-successful generation, so failures are logged and swallowed
// rather than turned into a 5xx for content the caller already has.
func recordProgress(deps Deps, user, domain, level, activity string, score int) {
	if deps.Progress == nil {
		return
	}
	if domain == "" {
		domain = "general"
	}
	if err := deps.Progress.Record(user, domain, level, activity, score); err != nil {
		slog.Warn("recording progress failed", "activity", activity, "domain", domain, "error", err)
	}
}

// respondError maps pipeline sentinel errors onto HTTP statuses. Anything
// unrecognized is a 500.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, retrieval.ErrIndexNotFound):
		httpError(w, http.StatusNotFound, "index_not_found", "%v", err)
	case errors.Is(err, composer.ErrInvalidLevel),
		errors.Is(err, agent.ErrInvalidRequest),
		errors.Is(err, orchestrator.ErrUnknownKind):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, gateway.ErrAuthentication):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
	case errors.Is(err, gateway.ErrConnection):
		httpError(w, http.StatusBadGateway, "connection_error", "%v: check that the llm endpoint is reachable", err)
	case errors.Is(err, gateway.ErrTimeout):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%v: try a lower level or a narrower request", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, kind string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"message": fmt.Sprintf(format, args...),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
