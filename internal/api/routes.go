package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cdc-collector-service/internal/collector"
	"cdc-collector-service/internal/pipeline"
	"cdc-collector-service/internal/store"
)

type Handler struct {
	manager  *collector.Manager
	reactor  *pipeline.Reactor
	triggers *store.TriggerOnlineStore
}

func NewHandler(manager *collector.Manager, reactor *pipeline.Reactor, triggers *store.TriggerOnlineStore) *Handler {
	return &Handler{
		manager:  manager,
		reactor:  reactor,
		triggers: triggers,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware) // Placeholder for auth

		r.Post("/capture", h.Capture)
		r.Get("/changes", h.ListChanges)
		r.Post("/trigger", h.Trigger)
		r.Get("/triggers/{id}", h.GetTrigger)
		r.Get("/locks/held", h.LockHeld)
		r.Get("/collector/status", h.CollectorStatus)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var input collector.CaptureInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, rec, err := h.manager.Capture(r.Context(), input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"result":    string(result),
		"record_id": rec.RecordID,
	})
}

type triggerRequest struct {
	TopicID      string                 `json:"topic_id"`
	TenantID     string                 `json:"tenant_id"`
	PreviousData map[string]interface{} `json:"previous_data"`
	CurrentData  map[string]interface{} `json:"current_data"`
}

func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	trigger, err := h.reactor.Trigger(r.Context(), req.TopicID, req.TenantID, req.PreviousData, req.CurrentData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeTrigger(w, trigger)
}

func (h *Handler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid trigger id", http.StatusBadRequest)
		return
	}

	trigger, err := h.triggers.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if trigger == nil {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}

	writeTrigger(w, trigger)
}

func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	table := q.Get("table")
	key := q.Get("uniqueKeyValue")
	if table == "" || key == "" {
		http.Error(w, "table and uniqueKeyValue are required", http.StatusBadRequest)
		return
	}

	records, err := h.manager.ListChanges(r.Context(), table, key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(records)
}

func (h *Handler) LockHeld(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := store.LockKey{
		ResourceID: q.Get("resourceId"),
		ModelName:  q.Get("modelName"),
		ObjectID:   q.Get("objectId"),
		TenantID:   q.Get("tenantId"),
	}

	held, err := h.manager.IsLockHeld(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"held": held})
}

func (h *Handler) CollectorStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": h.manager.GetStatus()})
}

func writeTrigger(w http.ResponseWriter, t *store.TriggerOnline) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"online_trigger_id": t.OnlineTriggerID,
		"tenant_id":         t.TenantID,
		"status":            t.Status,
		"code":              t.Code,
		"trace_id":          t.TraceID,
		"result":            t.Result,
	})
}

// Middleware placeholders
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// TODO: check the configured bearer token once the deployment story settles
		next.ServeHTTP(w, r)
	})
}
