package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"catpanel/internal/eventbus"
	"catpanel/internal/feeding"
	"catpanel/internal/history"
	"catpanel/internal/inventory"
	"catpanel/internal/lists"
	"catpanel/internal/reminder"
	"catpanel/internal/state"
	logx "catpanel/pkg/logx"
)

type Handlers struct {
	feeding  *feeding.Tracker
	food     *inventory.Counter
	lists    *lists.Service
	hist     history.Store // may be nil
	bus      eventbus.Bus
	reminder *reminder.Service // may be nil
	log      logx.Logger

	heartbeat time.Duration
}

func NewHandlers(tracker *feeding.Tracker, food *inventory.Counter, ls *lists.Service, hist history.Store, bus eventbus.Bus, rem *reminder.Service, log logx.Logger) *Handlers {
	return &Handlers{
		feeding:   tracker,
		food:      food,
		lists:     ls,
		hist:      hist,
		bus:       bus,
		reminder:  rem,
		log:       log,
		heartbeat: eventbus.DefaultHeartbeat,
	}
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.reminder != nil {
		resp["reminder"] = h.reminder.Snapshot()
	}
	h.jsonOK(w, resp)
}

func (h *Handlers) getFeeding(w http.ResponseWriter, r *http.Request) {
	snap, err := h.feeding.Snapshot()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]any{"feeding": snap})
}

func (h *Handlers) setFeeding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time string `json:"time"`
		Fed  bool   `json:"fed"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.feeding.Set(req.Time, req.Fed)
	if err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"feeding": snap})
}

func (h *Handlers) getFood(w http.ResponseWriter, r *http.Request) {
	rec, err := h.food.Get()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]any{"pouches_left": rec.Count})
}

func (h *Handlers) addFood(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.food.Adjust(req.Amount)
	if err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"pouches_left": rec.Count})
}

func (h *Handlers) setFood(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Total int `json:"total"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.food.Set(req.Total)
	if err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"pouches_left": rec.Count})
}

func (h *Handlers) recentAlerts(w http.ResponseWriter, r *http.Request) {
	if h.hist == nil {
		h.jsonOK(w, map[string]any{"alerts": []history.Entry{}})
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := h.hist.Recent(r.Context(), limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	h.jsonOK(w, map[string]any{"alerts": entries})
}

func (h *Handlers) listNames(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]any{"lists": h.lists.Names()})
}

func (h *Handlers) createList(w http.ResponseWriter, r *http.Request) {
	name, doc, err := h.lists.Create(chi.URLParam(r, "name"))
	if err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"name": name, "list": doc})
}

func (h *Handlers) getList(w http.ResponseWriter, r *http.Request) {
	doc, err := h.lists.Get(chi.URLParam(r, "name"))
	if err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"list": doc})
}

func (h *Handlers) deleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.lists.Delete(chi.URLParam(r, "name")); err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"deleted": true})
}

func (h *Handlers) addListItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.lists.AddItem(chi.URLParam(r, "name"), req.Text)
	if err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"item": item})
}

func (h *Handlers) updateListItem(w http.ResponseWriter, r *http.Request) {
	var req lists.ItemPatch
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.lists.UpdateItem(chi.URLParam(r, "name"), chi.URLParam(r, "id"), req)
	if err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"item": item})
}

func (h *Handlers) removeListItem(w http.ResponseWriter, r *http.Request) {
	if err := h.lists.RemoveItem(chi.URLParam(r, "name"), chi.URLParam(r, "id")); err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"removed": true})
}

func (h *Handlers) clearDone(w http.ResponseWriter, r *http.Request) {
	n, err := h.lists.ClearDone(chi.URLParam(r, "name"))
	if err != nil {
		h.jsonError(w, err.Error(), statusFor(err))
		return
	}
	h.jsonOK(w, map[string]any{"cleared": n})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, feeding.ErrUnknownSlot),
		errors.Is(err, lists.ErrItemNotFound),
		errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lists.ErrBadName),
		errors.Is(err, lists.ErrEmptyText):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
