package channel

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"happin/internal/domain"
)

// GenericPayload is an arbitrary JSON object from a custom integration.
type GenericPayload struct {
	Fields map[string]any
	Raw    []byte
}

func (GenericPayload) Channel() domain.Channel { return domain.ChannelGeneric }

// GenericConfig configures the generic JSON webhook.
type GenericConfig struct {
	Secret string // HMAC-SHA256 secret for X-Signature-256; empty disables verification
}

// Generic accepts any JSON object and maps well-known field names.
type Generic struct {
	secret string
}

func NewGeneric(cfg GenericConfig) *Generic {
	return &Generic{secret: cfg.Secret}
}

func (g *Generic) Name() string { return "generic" }

func (g *Generic) Verify(in Inbound) error {
	if g.secret == "" {
		return nil
	}
	sig := in.Header.Get("X-Signature-256")
	if sig == "" {
		return ErrMissingSignature
	}
	if !verifyHMAC(in.Body, g.secret, sig) {
		return ErrInvalidSignature
	}
	return nil
}

func (g *Generic) Decode(in Inbound) (Payload, error) {
	return DecodeGeneric(in.Body)
}

// DecodeGeneric parses a JSON object body.
func DecodeGeneric(body []byte) (GenericPayload, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return GenericPayload{}, domain.Invalid("body", "expected a JSON object")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return GenericPayload{}, domain.Invalid("body", "expected a JSON object")
	}
	return GenericPayload{Fields: fields, Raw: compact.Bytes()}, nil
}

func (p GenericPayload) normalize(now time.Time) (Result, error) {
	f := p.Fields
	ch := domain.ChannelGeneric
	if c := domain.Channel(stringField(f, "channel")); c.Valid() {
		ch = c
	}

	msg := &domain.Message{
		Channel:     ch,
		ChannelID:   stringField(f, "id"),
		ThreadID:    stringField(f, "threadId", "thread_id"),
		From:        genericSender(f),
		To:          participants(f["to"]),
		Subject:     stringField(f, "subject", "title"),
		Body:        stringField(f, "body", "text", "message"),
		ReceivedAt:  now,
		ChannelData: f,
	}
	if msg.Body == "" {
		msg.Body = string(p.Raw)
	}
	if msg.ChannelID == "" {
		msg.ChannelID = fallbackID(domain.ChannelGeneric, now)
	}
	if t, ok := timeField(f, "timestamp"); ok {
		msg.ReceivedAt = t
	}
	if t, ok := timeField(f, "sentAt", "sent_at"); ok {
		msg.SentAt = &t
	}
	return Result{Message: msg}, nil
}

func genericSender(f map[string]any) domain.Participant {
	for _, key := range []string{"from", "sender"} {
		if v, ok := f[key]; ok {
			if p, ok := participant(v); ok {
				return p
			}
		}
	}
	return domain.Participant{Name: "Unknown", Email: stringField(f, "email")}
}

// participant accepts "Name <addr>" strings or {name, email, phone, userId}
// objects.
func participant(v any) (domain.Participant, bool) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return domain.Participant{}, false
		}
		if strings.Contains(t, "@") {
			return ParseParticipant(t), true
		}
		return domain.Participant{Name: strings.TrimSpace(t)}, true
	case map[string]any:
		p := domain.Participant{
			Name:   stringField(t, "name"),
			Email:  stringField(t, "email"),
			Phone:  stringField(t, "phone"),
			UserID: stringField(t, "userId", "user_id", "id"),
		}
		if p == (domain.Participant{}) {
			return p, false
		}
		return p, true
	}
	return domain.Participant{}, false
}

func participants(v any) []domain.Participant {
	var out []domain.Participant
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range t {
			if p, ok := participant(item); ok {
				out = append(out, p)
			}
		}
	case string:
		if strings.Contains(t, "@") {
			return ParseParticipantList(t)
		}
		if p, ok := participant(t); ok {
			out = append(out, p)
		}
	default:
		if p, ok := participant(t); ok {
			out = append(out, p)
		}
	}
	return out
}

// stringField returns the first non-empty string or number among keys.
func stringField(f map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func timeField(f map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			if t, ok := ParseTime(v); ok {
				return t, true
			}
		case json.Number:
			if n, err := v.Float64(); err == nil {
				if t, ok := epochNumber(n); ok {
					return t, true
				}
			}
		case float64:
			if t, ok := epochNumber(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
