package api

import (
	"io"
	"net/http"
	"strings"

	"happin/internal/channel"
	"happin/internal/ingest"
)

func (h *Handler) webhook(a channel.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			h.Error(w, http.StatusNotFound, "channel not configured")
			return
		}
		out, err := h.receive(r, a)
		if err != nil {
			h.Fail(w, r, err)
			return
		}
		switch {
		case out.Challenge != "":
			h.JSON(w, http.StatusOK, map[string]string{"challenge": out.Challenge})
		case out.Skipped != "":
			h.JSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": out.Skipped})
		default:
			resp := map[string]any{"ok": true, "id": out.ID, "messageId": out.ID}
			if out.Duplicate {
				resp["duplicate"] = true
			}
			h.JSON(w, http.StatusOK, resp)
		}
	}
}

// TwilioWebhook answers with an empty TwiML document so Twilio sends no reply.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if h.adapters.Twilio == nil {
		h.Error(w, http.StatusNotFound, "channel not configured")
		return
	}
	if _, err := h.receive(r, h.adapters.Twilio); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, channel.TwiMLAck)
}

func (h *Handler) receive(r *http.Request, a channel.Adapter) (ingest.Outcome, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return ingest.Outcome{}, err
	}
	in := channel.Inbound{
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		Header:      r.Header,
		URL:         h.externalURL(r),
	}
	return h.ingest.Ingest(r.Context(), a, in)
}

func (h *Handler) externalURL(r *http.Request) string {
	if h.publicURL != "" {
		return strings.TrimRight(h.publicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
