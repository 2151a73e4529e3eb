package opsapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"renewbot-backend/services/accounts"
	"renewbot-backend/services/auditlog"
	"renewbot-backend/services/renewal"
	"renewbot-backend/services/reporter"
	"renewbot-backend/services/summary"
	"renewbot-backend/services/userstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler is the operator-facing HTTP surface: trigger batches, page
// through registered result sets, inspect accounts and credit stats.
type Handler struct {
	store    *userstore.Store
	executor *renewal.Executor
	reporter *reporter.Reporter
	accounts *accounts.Service
	audit    *auditlog.Service
	summary  *summary.Service
}

func NewHandler(
	store *userstore.Store,
	executor *renewal.Executor,
	rep *reporter.Reporter,
	accountsSvc *accounts.Service,
	audit *auditlog.Service,
	summarySvc *summary.Service,
) http.Handler {
	h := &Handler{
		store:    store,
		executor: executor,
		reporter: rep,
		accounts: accountsSvc,
		audit:    audit,
		summary:  summarySvc,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/summary", h.runSummary)
		r.Get("/results/{resultId}/pages/{page}", h.getPage)
		r.Delete("/results/{resultId}", h.forgetResults)
		r.Route("/users/{uid}", func(r chi.Router) {
			r.Post("/batch", h.runUserBatch)
			r.Get("/accounts", h.listAccounts)
			r.Post("/accounts", h.addAccount)
			r.Delete("/accounts/{site}/{account}", h.removeAccount)
			r.Put("/schedule", h.setSchedule)
			r.Put("/modes/{site}", h.setMode)
			r.Get("/stats", h.creditStats)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) runSummary(w http.ResponseWriter, r *http.Request) {
	page, err := h.summary.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) runUserBatch(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.accounts.RequireAccounts(uid); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, accounts.ErrNoAccounts) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}

	data, err := h.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	targets := renewal.TargetsForUser(data, uid)
	out := h.executor.Run(r.Context(), renewal.BatchRequest{
		Targets: targets,
		Modes:   renewal.ModesFor(data, targets),
		Source:  renewal.SourceManual,
		Actor:   renewal.ActorAdmin,
	})

	resp := map[string]any{"results": out.Results}
	if out.PersistErr != nil {
		resp["persistError"] = out.PersistErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getPage(w http.ResponseWriter, r *http.Request) {
	resultId := chi.URLParam(r, "resultId")
	pageNum, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("page must be an integer"))
		return
	}

	page, err := h.reporter.GetPage(resultId, pageNum)
	if errors.Is(err, reporter.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) forgetResults(w http.ResponseWriter, r *http.Request) {
	h.reporter.Forget(chi.URLParam(r, "resultId"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten"})
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	views, err := h.accounts.List(r.Context(), uid)
	if errors.Is(err, accounts.ErrNoAccounts) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) addAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"displayName"`
		Site        string `json:"site"`
		Account     string `json:"account"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Site == "" || body.Account == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("site, account and password are required"))
		return
	}

	err := h.accounts.Add(r.Context(), accounts.AddParams{
		Uid:         chi.URLParam(r, "uid"),
		DisplayName: body.DisplayName,
		Site:        body.Site,
		Account:     body.Account,
		Password:    body.Password,
	})
	if errors.Is(err, accounts.ErrUnknownSite) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (h *Handler) removeAccount(w http.ResponseWriter, r *http.Request) {
	err := h.accounts.Remove(r.Context(),
		chi.URLParam(r, "uid"), chi.URLParam(r, "site"), chi.URLParam(r, "account"))
	if errors.Is(err, accounts.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) setSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hour   int `json:"hour"`
		Minute int `json:"minute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := h.accounts.SetSchedule(r.Context(), chi.URLParam(r, "uid"), body.Hour, body.Minute)
	if errors.Is(err, userstore.ErrScheduleRange) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if errors.Is(err, accounts.ErrNoAccounts) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rescheduled"})
}

func (h *Handler) setMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := h.accounts.SetMode(r.Context(), chi.URLParam(r, "uid"), chi.URLParam(r, "site"), body.Enabled)
	if errors.Is(err, accounts.ErrUnknownSite) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if errors.Is(err, accounts.ErrNoAccounts) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) creditStats(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("days must be a positive integer"))
			return
		}
		days = parsed
	}

	stats, err := h.audit.Stats(r.Context(), uid, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
