package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jmorales/debt-ledger/internal/models"
	service "github.com/jmorales/debt-ledger/internal/services"
	pkgerrors "github.com/jmorales/debt-ledger/pkg/errors"
)

type Handler struct {
	service service.DebtService
}

func NewHandler(s service.DebtService) *Handler {
	return &Handler{service: s}
}

type errorResponse struct {
	Error string `json:"error"`
}

// amountValue accepts a JSON number or a numeric string, matching the
// lenient parsing clients already rely on.
type amountValue struct {
	value float64
	set   bool
}

func (a *amountValue) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return pkgerrors.ErrInvalidAmount
	}
	a.value = f
	a.set = true
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// serviceError maps service failures to HTTP statuses: validation → 400,
// missing debt → 404, everything else → 500.
func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrMissingFields),
		errors.Is(err, pkgerrors.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrDebtNotFound):
		h.writeError(w, http.StatusNotFound, err)
	default:
		slog.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListDebts).Methods("GET")
	r.HandleFunc("/", h.ListDebts).Methods("GET")
	r.HandleFunc("", h.CreateDebt).Methods("POST")
	r.HandleFunc("/", h.CreateDebt).Methods("POST")
	r.HandleFunc("/{id}", h.GetDebt).Methods("GET")
	r.HandleFunc("/{id}", h.DeleteDebt).Methods("DELETE")
	r.HandleFunc("/{id}/increase", h.IncreaseDebt).Methods("PUT")
	r.HandleFunc("/{id}/pay", h.PayDebt).Methods("PUT")
	r.HandleFunc("/{id}/payall", h.PayAllDebt).Methods("PUT")
	r.HandleFunc("/{id}/transactions", h.GetDebtHistory).Methods("GET")
}

func debtID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, pkgerrors.ErrInvalidDebtID
	}
	return id, nil
}

func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	debtType := r.URL.Query().Get("type")
	q := r.URL.Query().Get("q")

	debts, err := h.service.ListDebts(r.Context(), debtType, q)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, debts)
}

func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	id, err := debtID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	debt, err := h.service.GetDebt(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, debt)
}

func (h *Handler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string      `json:"name"`
		Amount amountValue `json:"amount"`
		Type   string      `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.Type == "" || !req.Amount.set {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrMissingFields)
		return
	}

	debt, created, err := h.service.CreateOrAccumulate(r.Context(), req.Name, req.Amount.value, req.Type)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, debt)
}

func (h *Handler) IncreaseDebt(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.service.Increase)
}

func (h *Handler) PayDebt(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.service.Pay)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64, amount float64) (*models.Debt, error)) {
	id, err := debtID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Amount amountValue `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Amount.set {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidAmount)
		return
	}

	debt, err := op(r.Context(), id, req.Amount.value)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, debt)
}

func (h *Handler) PayAllDebt(w http.ResponseWriter, r *http.Request) {
	id, err := debtID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	debt, err := h.service.PayAll(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, debt)
}

func (h *Handler) DeleteDebt(w http.ResponseWriter, r *http.Request) {
	id, err := debtID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	// Deleting an id that never existed still reports success.
	if err := h.service.DeleteDebt(r.Context(), id); err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) GetDebtHistory(w http.ResponseWriter, r *http.Request) {
	id, err := debtID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	transactions, err := h.service.GetHistory(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}
