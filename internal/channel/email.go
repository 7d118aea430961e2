package channel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/mail"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"happin/internal/domain"
)

// EmailFormat names the inbound-parse provider that produced a payload.
type EmailFormat string

const (
	FormatSendGrid EmailFormat = "sendgrid"
	FormatMailgun  EmailFormat = "mailgun"
)

// EmailPayload is an inbound email relayed by SendGrid or Mailgun.
type EmailPayload struct {
	Format      EmailFormat
	From        string
	To          []string
	Subject     string
	Text        string
	HTML        string
	MessageID   string
	InReplyTo   string
	References  string
	Date        string
	Headers     map[string]string // lower-cased header names
	Attachments []domain.Attachment
	// Verified is set when the delivery passed token verification. Raw HTML
	// is only kept for verified deliveries.
	Verified bool
}

func (EmailPayload) Channel() domain.Channel { return domain.ChannelEmail }

// EmailConfig configures the inbound email webhook.
type EmailConfig struct {
	// Token, when set, must match the "token" query parameter of the
	// configured inbound-parse URL.
	Token string
}

type Email struct {
	token string
}

func NewEmail(cfg EmailConfig) *Email {
	return &Email{token: cfg.Token}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Verify(in Inbound) error {
	if e.token == "" {
		return nil
	}
	tok := queryParam(in.URL, "token")
	if tok == "" {
		return ErrMissingSignature
	}
	if !constantTimeEqual(tok, e.token) {
		return ErrInvalidSignature
	}
	return nil
}

func (e *Email) Decode(in Inbound) (Payload, error) {
	fields, err := decodeFields(in)
	if err != nil {
		return nil, err
	}
	p, err := DecodeEmail(fields)
	if err != nil {
		return nil, err
	}
	// Verify runs before Decode, so a configured token has been checked.
	p.Verified = e.token != ""
	return p, nil
}

// decodeFields flattens a JSON object or form body into a field map.
func decodeFields(in Inbound) (map[string]any, error) {
	if in.IsForm() {
		vals, err := in.Form()
		if err != nil {
			return nil, err
		}
		fields := make(map[string]any, len(vals))
		for k, v := range vals {
			if len(v) == 1 {
				fields[k] = v[0]
			} else {
				items := make([]any, len(v))
				for i := range v {
					items[i] = v[i]
				}
				fields[k] = items
			}
		}
		return fields, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(in.Body, &fields); err != nil || fields == nil {
		return nil, domain.Invalid("body", "expected a JSON object or form body")
	}
	return fields, nil
}

// DecodeEmail detects the provider format from the field set.
func DecodeEmail(f map[string]any) (EmailPayload, error) {
	switch {
	case f["headers"] != nil:
		return decodeSendGrid(f)
	case f["sender"] != nil || f["recipient"] != nil:
		return decodeMailgun(f), nil
	}
	return EmailPayload{}, domain.Invalid("", "unsupported email format")
}

func decodeSendGrid(f map[string]any) (EmailPayload, error) {
	headers, err := headerMap(f["headers"])
	if err != nil {
		return EmailPayload{}, err
	}
	p := EmailPayload{
		Format:     FormatSendGrid,
		From:       firstNonEmpty(headers["from"], stringField(f, "from")),
		Subject:    firstNonEmpty(headers["subject"], stringField(f, "subject")),
		Text:       stringField(f, "text", "body-plain"),
		HTML:       stringField(f, "html", "body-html"),
		MessageID:  firstNonEmpty(headers["message-id"], stringField(f, "Message-Id", "message-id")),
		InReplyTo:  headers["in-reply-to"],
		References: headers["references"],
		Date:       firstNonEmpty(headers["date"], stringField(f, "Date")),
		Headers:    headers,
	}
	if to := headers["to"]; to != "" {
		p.To = []string{to}
	} else {
		p.To = stringList(f["to"])
	}
	atts, err := parseAttachments(f["attachments"])
	if err != nil {
		return EmailPayload{}, err
	}
	if len(atts) == 0 {
		atts, err = parseAttachments(f["attachment-info"])
		if err != nil {
			return EmailPayload{}, err
		}
	}
	p.Attachments = atts
	return p, nil
}

func decodeMailgun(f map[string]any) EmailPayload {
	p := EmailPayload{
		Format:     FormatMailgun,
		From:       stringField(f, "sender", "from", "From"),
		To:         stringList(firstValue(f, "recipient", "to", "To")),
		Subject:    stringField(f, "subject", "Subject"),
		Text:       stringField(f, "body-plain", "text", "stripped-text"),
		HTML:       stringField(f, "body-html", "html", "stripped-html"),
		MessageID:  stringField(f, "Message-Id", "message-id"),
		InReplyTo:  stringField(f, "In-Reply-To", "in-reply-to"),
		References: stringField(f, "References", "references"),
		Date:       stringField(f, "Date", "date"),
	}
	// Mailgun attachment metadata is best-effort; a malformed list is ignored.
	p.Attachments, _ = parseAttachments(f["attachments"])
	return p
}

func (p EmailPayload) normalize(now time.Time) (Result, error) {
	if strings.TrimSpace(p.From) == "" {
		return Result{}, domain.Invalid("from", "missing sender")
	}
	msg := &domain.Message{
		Channel:     domain.ChannelEmail,
		ChannelID:   p.MessageID,
		ThreadID:    firstNonEmpty(p.InReplyTo, p.References),
		From:        ParseParticipant(p.From),
		Subject:     p.Subject,
		Body:        resolveBody(p.Text, nil, p.HTML),
		Attachments: p.Attachments,
		ReceivedAt:  now,
	}
	for _, to := range p.To {
		msg.To = append(msg.To, ParseParticipantList(to)...)
	}
	if msg.Body == "" {
		msg.Body = p.Subject
	}
	if p.Verified {
		msg.HTMLBody = p.HTML
	}
	if msg.ChannelID == "" {
		msg.ChannelID = fallbackID(domain.ChannelEmail, now)
	}
	if t, ok := parseMailDate(p.Date); ok {
		msg.SentAt = &t
	}

	data := map[string]any{"emailProvider": string(p.Format), "emailVerified": p.Verified}
	if p.MessageID != "" {
		data["emailMessageId"] = p.MessageID
	}
	if msg.ThreadID != "" {
		data["emailThreadId"] = msg.ThreadID
	}
	if len(p.Headers) > 0 {
		data["emailHeaders"] = p.Headers
	}
	msg.ChannelData = data
	return Result{Message: msg}, nil
}

func parseMailDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t.UTC(), true
	}
	return ParseTime(s)
}

// headerMap accepts a JSON object of headers or a raw RFC 5322 header block.
func headerMap(v any) (map[string]string, error) {
	out := map[string]string{}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if s, ok := val.(string); ok {
				out[strings.ToLower(k)] = s
			}
		}
	case string:
		r := textproto.NewReader(bufio.NewReader(strings.NewReader(strings.TrimRight(t, "\r\n") + "\r\n\r\n")))
		h, err := r.ReadMIMEHeader()
		if err != nil && len(h) == 0 {
			return nil, domain.Invalid("headers", "malformed header block")
		}
		for k, vals := range h {
			if len(vals) > 0 {
				out[strings.ToLower(k)] = vals[0]
			}
		}
	default:
		return nil, domain.Invalid("headers", "expected an object or header block")
	}
	return out, nil
}

// parseAttachments reads either a name→url object, a list of attachment
// objects, or the JSON text of either.
func parseAttachments(v any) ([]domain.Attachment, error) {
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, domain.Invalid("attachments", "malformed JSON")
		}
	}
	var out []domain.Attachment
	switch t := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch item := t[k].(type) {
			case string:
				out = append(out, domain.Attachment{Name: k, URL: item})
			case map[string]any:
				a := attachmentObject(item)
				if a.Name == "" {
					a.Name = k
				}
				out = append(out, a)
			}
		}
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, attachmentObject(m))
			}
		}
	default:
		return nil, domain.Invalid("attachments", fmt.Sprintf("unexpected %T", v))
	}
	return out, nil
}

func attachmentObject(m map[string]any) domain.Attachment {
	a := domain.Attachment{
		Name:     stringField(m, "name", "filename"),
		URL:      stringField(m, "url"),
		MimeType: stringField(m, "content-type", "type", "contentType"),
	}
	if n, err := strconv.ParseInt(stringField(m, "size"), 10, 64); err == nil {
		a.Size = n
	}
	return a
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t != "" {
			return []string{t}
		}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func firstValue(f map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
