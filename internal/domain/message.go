package domain

import "time"

// Message is the canonical, channel-independent record of one inbound message.
type Message struct {
	ID          string        `json:"id"`
	Channel     Channel       `json:"channel"`
	ChannelID   string        `json:"channelId"`
	ThreadID    string        `json:"threadId,omitempty"`
	From        Participant   `json:"from"`
	To          []Participant `json:"to,omitempty"`
	Subject     string        `json:"subject,omitempty"`
	Body        string        `json:"body"`
	HTMLBody    string        `json:"htmlBody,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	ReceivedAt  time.Time     `json:"receivedAt"`
	SentAt      *time.Time    `json:"sentAt,omitempty"`

	Read     bool `json:"read"`
	Archived bool `json:"archived"`

	Priority       *int      `json:"priority,omitempty"` // 1 (highest) .. 5
	PriorityReason string    `json:"priorityReason,omitempty"`
	Category       Category  `json:"category,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Sentiment      Sentiment `json:"sentiment,omitempty"`
	Intent         string    `json:"intent,omitempty"`
	ActionRequired *bool     `json:"actionRequired,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	KeyPoints      []string  `json:"keyPoints,omitempty"`
	ActionItems    []string  `json:"actionItems,omitempty"`

	AIProcessed   bool       `json:"aiProcessed"`
	AIProcessedAt *time.Time `json:"aiProcessedAt,omitempty"`

	ChannelData map[string]any `json:"channelData,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Participant identifies a sender or recipient. Any field may be empty.
type Participant struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	UserID string `json:"userId,omitempty"`
}

type Attachment struct {
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Category string

const (
	CategoryUrgent    Category = "urgent"
	CategoryQuestion  Category = "question"
	CategoryTask      Category = "task"
	CategoryRequest   Category = "request"
	CategoryComplaint Category = "complaint"
	CategorySpam      Category = "spam"
	CategoryInfo      Category = "info"
	CategoryOther     Category = "other"
)

// ParseCategory maps free text onto a known category, defaulting to info.
func ParseCategory(s string) Category {
	switch c := Category(s); c {
	case CategoryUrgent, CategoryQuestion, CategoryTask, CategoryRequest,
		CategoryComplaint, CategorySpam, CategoryInfo, CategoryOther:
		return c
	}
	return CategoryInfo
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ParseSentiment maps free text onto a known sentiment, defaulting to neutral.
func ParseSentiment(s string) Sentiment {
	switch v := Sentiment(s); v {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return v
	}
	return SentimentNeutral
}

const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

// ClampPriority coerces p into [MinPriority, MaxPriority]. Zero means unset and
// yields DefaultPriority.
func ClampPriority(p int) int {
	switch {
	case p == 0:
		return DefaultPriority
	case p < MinPriority:
		return MinPriority
	case p > MaxPriority:
		return MaxPriority
	}
	return p
}

// PriorityResult is the output of priority analysis.
type PriorityResult struct {
	Priority       int       `json:"priority"`
	Reason         string    `json:"reason"`
	Category       Category  `json:"category"`
	Tags           []string  `json:"tags"`
	Sentiment      Sentiment `json:"sentiment"`
	Intent         string    `json:"intent,omitempty"`
	ActionRequired bool      `json:"actionRequired"`
}

// SummaryResult is the output of summarization.
type SummaryResult struct {
	Summary     string    `json:"summary"`
	KeyPoints   []string  `json:"keyPoints"`
	ActionItems []string  `json:"actionItems"`
	Sentiment   Sentiment `json:"sentiment,omitempty"`
}

// MessageUpdate is a field-level patch. Nil fields are left untouched.
type MessageUpdate struct {
	Read           *bool
	Archived       *bool
	Priority       *int
	PriorityReason *string
	Category       *Category
	Tags           *[]string
	Sentiment      *Sentiment
	Intent         *string
	ActionRequired *bool
	Summary        *string
	KeyPoints      *[]string
	ActionItems    *[]string
	AIProcessed    *bool
	AIProcessedAt  *time.Time
}

// Empty reports whether the update touches no field.
func (u MessageUpdate) Empty() bool {
	return u.Read == nil && u.Archived == nil && u.Priority == nil &&
		u.PriorityReason == nil && u.Category == nil && u.Tags == nil &&
		u.Sentiment == nil && u.Intent == nil && u.ActionRequired == nil &&
		u.Summary == nil && u.KeyPoints == nil && u.ActionItems == nil &&
		u.AIProcessed == nil && u.AIProcessedAt == nil
}

// Validate rejects out-of-range priorities.
func (u MessageUpdate) Validate() error {
	if u.Priority != nil && (*u.Priority < MinPriority || *u.Priority > MaxPriority) {
		return &ValidationError{Field: "priority", Reason: "must be between 1 and 5"}
	}
	return nil
}

// EnrichmentUpdate builds the single write that marks a message processed.
func EnrichmentUpdate(p PriorityResult, s SummaryResult, at time.Time) MessageUpdate {
	priority := ClampPriority(p.Priority)
	category := p.Category
	sentiment := p.Sentiment
	tags := nonNil(p.Tags)
	keyPoints := nonNil(s.KeyPoints)
	actionItems := nonNil(s.ActionItems)
	processed := true
	u := MessageUpdate{
		Priority:       &priority,
		PriorityReason: &p.Reason,
		Category:       &category,
		Tags:           &tags,
		Sentiment:      &sentiment,
		ActionRequired: &p.ActionRequired,
		Summary:        &s.Summary,
		KeyPoints:      &keyPoints,
		ActionItems:    &actionItems,
		AIProcessed:    &processed,
		AIProcessedAt:  &at,
	}
	if p.Intent != "" {
		u.Intent = &p.Intent
	}
	return u
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ListFilter selects and pages messages. Cursor is the id of the last message
// of the previous page.
type ListFilter struct {
	Channel         Channel
	UnreadOnly      bool
	UnprocessedOnly bool
	Limit           int
	Cursor          string
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// NormalizedLimit applies the default and upper bound to Limit.
func (f ListFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}
