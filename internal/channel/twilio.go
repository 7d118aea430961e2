package channel

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"happin/internal/domain"
)

// TwiMLAck is the empty TwiML document Twilio expects in reply.
const TwiMLAck = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioPayload is a Twilio Messaging webhook (SMS or WhatsApp).
type TwilioPayload struct {
	MessageSid    string
	AccountSid    string
	From          string
	To            string
	Body          string
	ProfileName   string
	MessageStatus string
	DateSent      string
	Media         []domain.Attachment
}

// Channel derives sms or whatsapp from the sender address prefix.
func (p TwilioPayload) Channel() domain.Channel {
	if strings.HasPrefix(p.From, "whatsapp:") {
		return domain.ChannelWhatsApp
	}
	return domain.ChannelSMS
}

// TwilioConfig configures the Twilio webhook.
type TwilioConfig struct {
	AuthToken string // validates X-Twilio-Signature; empty disables verification
}

type Twilio struct {
	authToken string
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	return &Twilio{authToken: cfg.AuthToken}
}

func (t *Twilio) Name() string { return "twilio" }

func (t *Twilio) Verify(in Inbound) error {
	if t.authToken == "" {
		return nil
	}
	sig := in.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return ErrMissingSignature
	}
	params, err := in.Form()
	if err != nil {
		return ErrInvalidSignature
	}
	if !constantTimeEqual(twilioSignature(t.authToken, in.URL, params), sig) {
		return ErrInvalidSignature
	}
	return nil
}

func (t *Twilio) Decode(in Inbound) (Payload, error) {
	vals, err := in.Form()
	if err != nil {
		return nil, err
	}
	return DecodeTwilio(vals)
}

// maxTwilioMedia is the most media items Twilio attaches to one message.
const maxTwilioMedia = 10

// DecodeTwilio reads the form fields of a Twilio message webhook.
func DecodeTwilio(v url.Values) (TwilioPayload, error) {
	p := TwilioPayload{
		MessageSid:    v.Get("MessageSid"),
		AccountSid:    v.Get("AccountSid"),
		From:          v.Get("From"),
		To:            v.Get("To"),
		Body:          v.Get("Body"),
		ProfileName:   v.Get("ProfileName"),
		MessageStatus: v.Get("MessageStatus"),
		DateSent:      v.Get("DateSent"),
	}
	if p.MessageSid == "" || p.From == "" || p.Body == "" {
		return TwilioPayload{}, domain.Invalid("", "missing required fields MessageSid, From or Body")
	}
	n, _ := strconv.Atoi(v.Get("NumMedia"))
	n = min(max(n, 0), maxTwilioMedia)
	for i := 0; i < n; i++ {
		u := v.Get("MediaUrl" + strconv.Itoa(i))
		if u == "" {
			continue
		}
		p.Media = append(p.Media, domain.Attachment{
			Name:     "attachment-" + strconv.Itoa(i),
			URL:      u,
			MimeType: v.Get("MediaContentType" + strconv.Itoa(i)),
		})
	}
	return p, nil
}

func (p TwilioPayload) normalize(now time.Time) (Result, error) {
	from := phoneNumber(p.From)
	name := p.ProfileName
	if name == "" {
		name = "+" + from
	}
	msg := &domain.Message{
		Channel:     p.Channel(),
		ChannelID:   p.MessageSid,
		From:        domain.Participant{Name: name, Phone: from},
		Body:        p.Body,
		Attachments: p.Media,
		ReceivedAt:  now,
		ChannelData: map[string]any{
			"twilioSid": p.MessageSid,
			"fromRaw":   p.From,
		},
	}
	if p.AccountSid != "" {
		msg.ChannelData["accountSid"] = p.AccountSid
	}
	if p.MessageStatus != "" {
		msg.ChannelData["messageStatus"] = p.MessageStatus
	}
	if p.To != "" {
		to := phoneNumber(p.To)
		msg.To = []domain.Participant{{Name: "+" + to, Phone: to}}
	}
	if t, ok := ParseTime(p.DateSent); ok {
		msg.SentAt = &t
	}
	return Result{Message: msg}, nil
}

func phoneNumber(addr string) string {
	addr = strings.TrimPrefix(strings.TrimSpace(addr), "whatsapp:")
	return strings.TrimPrefix(addr, "+")
}
