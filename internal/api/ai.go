package api

import (
	"net/http"
	"strconv"
	"time"

	"happin/internal/domain"
)

type summarizeRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	Channel   string `json:"channel"`
}

type analysisResponse struct {
	Summary        string           `json:"summary"`
	KeyPoints      []string         `json:"keyPoints"`
	ActionItems    []string         `json:"actionItems"`
	Priority       int              `json:"priority"`
	PriorityReason string           `json:"priorityReason"`
	Category       domain.Category  `json:"category"`
	Tags           []string         `json:"tags"`
	Sentiment      domain.Sentiment `json:"sentiment"`
	Intent         string           `json:"intent,omitempty"`
	ActionRequired bool             `json:"actionRequired"`
}

// Summarize serves POST /api/ai/summarize. Nothing is persisted.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	var msg *domain.Message
	switch {
	case req.MessageID != "":
		m, err := h.store.Get(r.Context(), req.MessageID)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		msg = m
	case req.Text != "":
		ch := domain.ChannelGeneric
		if req.Channel != "" {
			ch = domain.Channel(req.Channel)
			if !ch.Valid() {
				h.Error(w, http.StatusBadRequest, "unknown channel "+strconv.Quote(req.Channel))
				return
			}
		}
		now := time.Now().UTC()
		msg = &domain.Message{
			Channel:    ch,
			ChannelID:  "temp",
			From:       domain.Participant{Name: "User"},
			Body:       req.Text,
			ReceivedAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	default:
		h.Error(w, http.StatusBadRequest, "either messageId or text is required")
		return
	}

	p, s := h.analyzer.Analyze(r.Context(), msg)
	h.JSON(w, http.StatusOK, analysisResponse{
		Summary:        s.Summary,
		KeyPoints:      nonNil(s.KeyPoints),
		ActionItems:    nonNil(s.ActionItems),
		Priority:       domain.ClampPriority(p.Priority),
		PriorityReason: p.Reason,
		Category:       p.Category,
		Tags:           nonNil(p.Tags),
		Sentiment:      p.Sentiment,
		Intent:         p.Intent,
		ActionRequired: p.ActionRequired,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
