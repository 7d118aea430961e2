package channel

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"happin/internal/domain"
)

// SlackPayload is an Events API envelope.
type SlackPayload struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge"`
	TeamID    string      `json:"team_id"`
	EventID   string      `json:"event_id"`
	Event     *SlackEvent `json:"event"`
}

type SlackEvent struct {
	Type     string            `json:"type"`
	Subtype  string            `json:"subtype"`
	Text     string            `json:"text"`
	User     string            `json:"user"`
	BotID    string            `json:"bot_id"`
	Channel  string            `json:"channel"`
	TS       string            `json:"ts"`
	ThreadTS string            `json:"thread_ts"`
	Files    []SlackFile       `json:"files"`
	Blocks   []json.RawMessage `json:"blocks"`
}

type SlackFile struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	URLPrivate string `json:"url_private"`
	Permalink  string `json:"permalink"`
	Mimetype   string `json:"mimetype"`
	Size       int64  `json:"size"`
}

func (SlackPayload) Channel() domain.Channel { return domain.ChannelSlack }

// SlackConfig configures the Slack Events API webhook.
type SlackConfig struct {
	SigningSecret string // empty disables request verification
}

type Slack struct {
	signingSecret string
}

func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{signingSecret: cfg.SigningSecret}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Verify(in Inbound) error {
	if s.signingSecret == "" {
		return nil
	}
	if in.Header.Get("X-Slack-Signature") == "" {
		return ErrMissingSignature
	}
	sv, err := slack.NewSecretsVerifier(in.Header, s.signingSecret)
	if err != nil {
		return ErrInvalidSignature
	}
	if _, err := sv.Write(in.Body); err != nil {
		return ErrInvalidSignature
	}
	if err := sv.Ensure(); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Slack) Decode(in Inbound) (Payload, error) {
	return DecodeSlack(in.Body)
}

func DecodeSlack(body []byte) (SlackPayload, error) {
	var p SlackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return SlackPayload{}, domain.Invalid("body", "expected a Slack event envelope")
	}
	if p.Type == "" {
		return SlackPayload{}, domain.Invalid("type", "missing envelope type")
	}
	return p, nil
}

// Subtypes that still carry a user-authored message.
var acceptedSubtypes = map[string]bool{
	"thread_broadcast": true,
}

func (p SlackPayload) normalize(now time.Time) (Result, error) {
	switch p.Type {
	case slackevents.URLVerification:
		if p.Challenge == "" {
			return Result{}, domain.Invalid("challenge", "missing")
		}
		return Result{Challenge: p.Challenge}, nil
	case slackevents.CallbackEvent:
	default:
		return Result{Skipped: "event type"}, nil
	}

	ev := p.Event
	if ev == nil {
		return Result{}, domain.Invalid("event", "missing")
	}
	if ev.Type != "message" && ev.Type != "app_mention" {
		return Result{Skipped: "event type"}, nil
	}
	if ev.Subtype != "" && !acceptedSubtypes[ev.Subtype] {
		return Result{Skipped: "subtype"}, nil
	}
	if ev.BotID != "" && ev.User == "" {
		return Result{Skipped: "bot"}, nil
	}
	if ev.Text == "" && len(ev.Files) == 0 && len(ev.Blocks) == 0 {
		return Result{Skipped: "no content"}, nil
	}

	body := resolveBody(ev.Text, blockTexts(ev.Blocks), "")
	if body == "" {
		// Blocks without text (images, dividers) carry nothing to store.
		if len(ev.Files) == 0 {
			return Result{Skipped: "no content"}, nil
		}
		body = filesBody(ev.Files)
	}

	user := ev.User
	if user == "" {
		user = "unknown"
	}
	slackChannel := ev.Channel
	if slackChannel == "" {
		slackChannel = "unknown"
	}

	msg := &domain.Message{
		Channel:    domain.ChannelSlack,
		ThreadID:   ev.ThreadTS,
		From:       domain.Participant{Name: user, UserID: ev.User},
		Body:       body,
		ReceivedAt: now,
		ChannelData: map[string]any{
			"slackChannel": slackChannel,
		},
	}
	if ts, ok := parseEpoch(ev.TS); ok {
		msg.ReceivedAt = ts
		msg.SentAt = &ts
		// ts is only unique within one conversation.
		msg.ChannelID = slackChannel + ":" + ev.TS
	} else {
		msg.ChannelID = fallbackID(domain.ChannelSlack, now)
	}
	for _, f := range ev.Files {
		name := f.Name
		if name == "" {
			name = "attachment"
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Name:     name,
			URL:      firstNonEmpty(f.URLPrivate, f.Permalink),
			MimeType: f.Mimetype,
			Size:     f.Size,
		})
	}
	if p.TeamID != "" {
		msg.ChannelData["slackTeam"] = p.TeamID
	}
	if ev.ThreadTS != "" {
		msg.ChannelData["slackThreadTs"] = ev.ThreadTS
	}
	if len(ev.Blocks) > 0 {
		msg.ChannelData["slackBlocks"] = ev.Blocks
	}
	if p.EventID != "" {
		msg.ChannelData["slackEventId"] = p.EventID
	}
	return Result{Message: msg}, nil
}

func filesBody(files []SlackFile) string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		if n := firstNonEmpty(f.Title, f.Name); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "Shared a file"
	}
	return "Shared file(s): " + strings.Join(names, ", ")
}

type blockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type     string            `json:"type"`
	Text     *blockText        `json:"text"`
	Fields   []blockText       `json:"fields"`
	Elements []json.RawMessage `json:"elements"`
}

// blockTexts extracts one text line per block, in document order.
func blockTexts(raw []json.RawMessage) []string {
	var out []string
	for _, r := range raw {
		var b block
		if err := json.Unmarshal(r, &b); err != nil {
			continue
		}
		switch b.Type {
		case "section", "header":
			var parts []string
			if b.Text != nil && b.Text.Text != "" {
				parts = append(parts, b.Text.Text)
			}
			for _, f := range b.Fields {
				if f.Text != "" {
					parts = append(parts, f.Text)
				}
			}
			if len(parts) > 0 {
				out = append(out, strings.Join(parts, "\n"))
			}
		case "context":
			var parts []string
			for _, e := range b.Elements {
				var t blockText
				if json.Unmarshal(e, &t) == nil && t.Text != "" && t.Type != "image" {
					parts = append(parts, t.Text)
				}
			}
			if len(parts) > 0 {
				out = append(out, strings.Join(parts, " "))
			}
		case "rich_text":
			for _, e := range b.Elements {
				if s := richText(e); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

type richElement struct {
	Type     string            `json:"type"`
	Text     string            `json:"text"`
	URL      string            `json:"url"`
	UserID   string            `json:"user_id"`
	Name     string            `json:"name"`
	Elements []json.RawMessage `json:"elements"`
}

func richText(raw json.RawMessage) string {
	var e richElement
	if err := json.Unmarshal(raw, &e); err != nil {
		return ""
	}
	switch e.Type {
	case "text":
		return e.Text
	case "link":
		return firstNonEmpty(e.Text, e.URL)
	case "user":
		return "<@" + e.UserID + ">"
	case "emoji":
		return ":" + e.Name + ":"
	case "rich_text_list":
		var lines []string
		for _, child := range e.Elements {
			if s := richText(child); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n")
	}
	var b strings.Builder
	for _, child := range e.Elements {
		b.WriteString(richText(child))
	}
	return b.String()
}
