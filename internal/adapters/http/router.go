package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/kirillkom/tenant-rag/internal/config"
	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
)

// Metrics is the slice of the Prometheus server metrics the router needs.
type Metrics interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
	RecordRejected(reason string)
}

type Router struct {
	answers   ports.AnswerResolver
	documents ports.TenantDocumentService
	sections  ports.SectionLookup
	models    ports.ModelAdmin
	metrics   Metrics

	rateLimitRPS     float64
	rateLimitBurst   int
	trustedProxies   []string
	maxInFlight      int
	backpressureWait time.Duration
	maxUploadBytes   int64
}

func NewRouter(
	cfg config.Config,
	answers ports.AnswerResolver,
	documents ports.TenantDocumentService,
	sections ports.SectionLookup,
	models ports.ModelAdmin,
	metrics Metrics,
) *Router {
	maxUpload := int64(cfg.APIMaxUploadMegabytes) << 20
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Router{
		answers:          answers,
		documents:        documents,
		sections:         sections,
		models:           models,
		metrics:          metrics,
		rateLimitRPS:     cfg.APIRateLimitRPS,
		rateLimitBurst:   cfg.APIRateLimitBurst,
		trustedProxies:   cfg.APITrustedProxies,
		maxInFlight:      cfg.APIMaxInFlight,
		backpressureWait: time.Duration(cfg.APIBackpressureWaitMS) * time.Millisecond,
		maxUploadBytes:   maxUpload,
	}
}

// Handler builds the full middleware chain. It fails when the embedded
// OpenAPI document does not load.
func (rt *Router) Handler() (http.Handler, error) {
	contract, err := loadAPIContract()
	if err != nil {
		return nil, err
	}
	proxies, err := parseTrustedProxies(rt.trustedProxies)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.json", contract.serve)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/chat", rt.chat)
	api.HandleFunc("DELETE /v1/tenants/{tenant}", rt.deleteTenant)
	api.HandleFunc("GET /v1/tenants/{tenant}/documents", rt.listDocuments)
	api.HandleFunc("POST /v1/tenants/{tenant}/documents", rt.uploadDocument)
	api.HandleFunc("GET /v1/tenants/{tenant}/documents/{document_id}", rt.getDocument)
	api.HandleFunc("PUT /v1/tenants/{tenant}/documents/{document_id}", rt.updateDocument)
	api.HandleFunc("DELETE /v1/tenants/{tenant}/documents/{document_id}", rt.deleteDocument)
	api.HandleFunc("GET /v1/tenants/{tenant}/sections", rt.lookupSection)
	api.HandleFunc("GET /v1/models", rt.listModels)
	api.HandleFunc("POST /v1/models/reload", rt.reloadModels)

	var onReject func(string)
	if rt.metrics != nil {
		onReject = rt.metrics.RecordRejected
	}
	var apiHandler http.Handler = contract.validationMiddleware(api)
	apiHandler = backpressureMiddleware(apiHandler, rt.maxInFlight, rt.backpressureWait, onReject)
	apiHandler = rateLimitMiddleware(apiHandler, rt.rateLimitRPS, rt.rateLimitBurst, proxies, onReject)
	mux.Handle("/v1/", apiHandler)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler, nil
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	tenants, err := rt.documents.CountTenants(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "tenants": 0, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tenants": tenants})
}

type chatRequest struct {
	Query         string `json:"query"`
	TenantID      string `json:"tenant_id"`
	TopK          int    `json:"top_k"`
	UseGeneration *bool  `json:"use_generation"`
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	useGeneration := true
	if req.UseGeneration != nil {
		useGeneration = *req.UseGeneration
	}

	answer, err := rt.answers.Resolve(r.Context(), domain.AnswerRequest{
		TenantID:      req.TenantID,
		Query:         req.Query,
		TopK:          req.TopK,
		UseGeneration: useGeneration,
	})
	if err != nil {
		writeDomainError(w, r, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) deleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := rt.documents.DeleteTenant(r.Context(), r.PathValue("tenant")); err != nil {
		writeDomainError(w, r, "delete_tenant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.documents.List(r.Context(), r.PathValue("tenant"))
	if err != nil {
		writeDomainError(w, r, "list_documents", err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	file, header, ok := rt.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	doc, err := rt.documents.Upload(r.Context(), r.PathValue("tenant"), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeDomainError(w, r, "upload_document", err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.documents.Get(r.Context(), r.PathValue("tenant"), r.PathValue("document_id"))
	if err != nil {
		writeDomainError(w, r, "get_document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) updateDocument(w http.ResponseWriter, r *http.Request) {
	file, header, ok := rt.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	doc, err := rt.documents.Update(
		r.Context(),
		r.PathValue("tenant"),
		r.PathValue("document_id"),
		header.Filename,
		header.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeDomainError(w, r, "update_document", err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.documents.Delete(r.Context(), r.PathValue("tenant"), r.PathValue("document_id")); err != nil {
		writeDomainError(w, r, "delete_document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) lookupSection(w http.ResponseWriter, r *http.Request) {
	section, err := rt.sections.LookupSection(r.Context(), r.PathValue("tenant"), r.URL.Query().Get("title"))
	if err != nil {
		writeDomainError(w, r, "lookup_section", err)
		return
	}
	writeJSON(w, http.StatusOK, section)
}

type modelsResponse struct {
	Tiers        []domain.ModelTierConfig `json:"tiers"`
	Installed    []string                 `json:"installed"`
	CatalogError string                   `json:"catalog_error,omitempty"`
}

func (rt *Router) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.modelsSnapshot(r))
}

func (rt *Router) reloadModels(w http.ResponseWriter, r *http.Request) {
	if err := rt.models.Reload(); err != nil {
		writeDomainError(w, r, "reload_models", err)
		return
	}
	writeJSON(w, http.StatusOK, rt.modelsSnapshot(r))
}

func (rt *Router) modelsSnapshot(r *http.Request) modelsResponse {
	resp := modelsResponse{Tiers: rt.models.Tiers(), Installed: []string{}}
	installed, err := rt.models.InstalledModels(r.Context())
	if err != nil {
		resp.CatalogError = err.Error()
	} else if installed != nil {
		resp.Installed = installed
	}
	return resp
}

func (rt *Router) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return nil, nil, false
	}
	return file, header, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
