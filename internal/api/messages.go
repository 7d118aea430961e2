package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"happin/internal/bus"
	"happin/internal/domain"
)

// ListMessages serves GET /api/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ListFilter{Cursor: q.Get("startAfter")}

	if c := q.Get("channel"); c != "" {
		f.Channel = domain.Channel(c)
		if !f.Channel.Valid() {
			h.Error(w, http.StatusBadRequest, "unknown channel "+strconv.Quote(c))
			return
		}
	}
	f.UnreadOnly = q.Get("unreadOnly") == "true"
	f.UnprocessedOnly = q.Get("unprocessedOnly") == "true"
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			h.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	msgs, err := h.store.List(r.Context(), f)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	var next string
	if len(msgs) > 0 && len(msgs) == f.NormalizedLimit() {
		next = msgs[len(msgs)-1].ID
	}
	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "messages": msgs, "nextCursor": next})
}

// GetMessage serves GET /api/messages/{id}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

type patchRequest struct {
	MessageID string `json:"messageId"`
	Action    string `json:"action"`
	Priority  *int   `json:"priority"`
	Reason    string `json:"reason"`
}

// PatchMessage serves PATCH /api/messages.
func (h *Handler) PatchMessage(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if req.MessageID == "" || req.Action == "" {
		h.Error(w, http.StatusBadRequest, "missing messageId or action")
		return
	}

	yes, no := true, false
	var u domain.MessageUpdate
	switch req.Action {
	case "markRead":
		u.Read = &yes
	case "markUnread":
		u.Read = &no
	case "archive":
		u.Archived = &yes
	case "unarchive":
		u.Archived = &no
	case "updatePriority":
		if req.Priority == nil {
			h.Error(w, http.StatusBadRequest, "priority must be a number")
			return
		}
		u.Priority = req.Priority
		if req.Reason != "" {
			u.PriorityReason = &req.Reason
		}
	default:
		h.Error(w, http.StatusBadRequest, "unknown action "+strconv.Quote(req.Action))
		return
	}

	if err := h.store.Update(r.Context(), req.MessageID, u); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.events.Emit(bus.Event{
		Type:      bus.EventMessageUpdated,
		Source:    "api",
		MessageID: req.MessageID,
		Payload:   map[string]any{"action": req.Action},
	})
	h.JSON(w, http.StatusOK, map[string]any{"ok": true})
}
