package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"happin/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

// encodeMessage returns column values in messageColumns order. Unset optional
// fields become NULL.
func encodeMessage(m *domain.Message) ([]any, error) {
	sender, err := json.Marshal(m.From)
	if err != nil {
		return nil, fmt.Errorf("encode sender: %w", err)
	}
	recipients, err := jsonColumn(m.To, len(m.To) == 0)
	if err != nil {
		return nil, err
	}
	attachments, err := jsonColumn(m.Attachments, len(m.Attachments) == 0)
	if err != nil {
		return nil, err
	}
	tags, err := jsonColumn(m.Tags, m.Tags == nil)
	if err != nil {
		return nil, err
	}
	keyPoints, err := jsonColumn(m.KeyPoints, m.KeyPoints == nil)
	if err != nil {
		return nil, err
	}
	actionItems, err := jsonColumn(m.ActionItems, m.ActionItems == nil)
	if err != nil {
		return nil, err
	}
	channelData, err := jsonColumn(m.ChannelData, len(m.ChannelData) == 0)
	if err != nil {
		return nil, err
	}

	return []any{
		m.ID,
		string(m.Channel),
		m.ChannelID,
		nullString(m.ThreadID),
		string(sender),
		recipients,
		nullString(m.Subject),
		m.Body,
		nullString(m.HTMLBody),
		attachments,
		m.ReceivedAt.UnixNano(),
		nullTime(m.SentAt),
		m.Read,
		m.Archived,
		nullInt(m.Priority),
		nullString(m.PriorityReason),
		nullString(string(m.Category)),
		tags,
		nullString(string(m.Sentiment)),
		nullString(m.Intent),
		nullBool(m.ActionRequired),
		nullString(m.Summary),
		keyPoints,
		actionItems,
		m.AIProcessed,
		nullTime(m.AIProcessedAt),
		channelData,
		m.CreatedAt.UnixNano(),
		m.UpdatedAt.UnixNano(),
	}, nil
}

func scanMessage(s scanner) (*domain.Message, error) {
	var (
		m                                              domain.Message
		channel, sender                                string
		threadID, recipients, subject, htmlBody        sql.NullString
		attachments, reason, category, tags, sentiment sql.NullString
		intent, summary, keyPoints, actionItems        sql.NullString
		channelData                                    sql.NullString
		receivedAt, createdAt, updatedAt               int64
		sentAt, processedAt                            sql.NullInt64
		priority                                       sql.NullInt64
		actionRequired                                 sql.NullBool
	)
	err := s.Scan(
		&m.ID, &channel, &m.ChannelID, &threadID, &sender, &recipients, &subject, &m.Body, &htmlBody,
		&attachments, &receivedAt, &sentAt, &m.Read, &m.Archived, &priority, &reason, &category,
		&tags, &sentiment, &intent, &actionRequired, &summary, &keyPoints, &actionItems, &m.AIProcessed,
		&processedAt, &channelData, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Channel = domain.Channel(channel)
	m.ThreadID = threadID.String
	m.Subject = subject.String
	m.HTMLBody = htmlBody.String
	m.PriorityReason = reason.String
	m.Category = domain.Category(category.String)
	m.Sentiment = domain.Sentiment(sentiment.String)
	m.Intent = intent.String
	m.Summary = summary.String
	m.ReceivedAt = fromNanos(receivedAt)
	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updatedAt)
	if sentAt.Valid {
		t := fromNanos(sentAt.Int64)
		m.SentAt = &t
	}
	if processedAt.Valid {
		t := fromNanos(processedAt.Int64)
		m.AIProcessedAt = &t
	}
	if priority.Valid {
		p := int(priority.Int64)
		m.Priority = &p
	}
	if actionRequired.Valid {
		v := actionRequired.Bool
		m.ActionRequired = &v
	}

	if err := json.Unmarshal([]byte(sender), &m.From); err != nil {
		return nil, fmt.Errorf("decode sender: %w", err)
	}
	for _, c := range []struct {
		col  sql.NullString
		dest any
	}{
		{recipients, &m.To},
		{attachments, &m.Attachments},
		{tags, &m.Tags},
		{keyPoints, &m.KeyPoints},
		{actionItems, &m.ActionItems},
		{channelData, &m.ChannelData},
	} {
		if !c.col.Valid {
			continue
		}
		if err := json.Unmarshal([]byte(c.col.String), c.dest); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

// updateColumns maps the set fields of u to SET clauses.
func updateColumns(u domain.MessageUpdate) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	setJSON := func(col string, v *[]string) error {
		b, err := json.Marshal(*v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", col, err)
		}
		set(col, string(b))
		return nil
	}

	if u.Read != nil {
		set("is_read", *u.Read)
	}
	if u.Archived != nil {
		set("is_archived", *u.Archived)
	}
	if u.Priority != nil {
		set("priority", *u.Priority)
	}
	if u.PriorityReason != nil {
		set("priority_reason", nullString(*u.PriorityReason))
	}
	if u.Category != nil {
		set("category", nullString(string(*u.Category)))
	}
	if u.Tags != nil {
		if err := setJSON("tags", u.Tags); err != nil {
			return nil, nil, err
		}
	}
	if u.Sentiment != nil {
		set("sentiment", nullString(string(*u.Sentiment)))
	}
	if u.Intent != nil {
		set("intent", nullString(*u.Intent))
	}
	if u.ActionRequired != nil {
		set("action_required", *u.ActionRequired)
	}
	if u.Summary != nil {
		set("summary", nullString(*u.Summary))
	}
	if u.KeyPoints != nil {
		if err := setJSON("key_points", u.KeyPoints); err != nil {
			return nil, nil, err
		}
	}
	if u.ActionItems != nil {
		if err := setJSON("action_items", u.ActionItems); err != nil {
			return nil, nil, err
		}
	}
	if u.AIProcessed != nil {
		set("ai_processed", *u.AIProcessed)
	}
	if u.AIProcessedAt != nil {
		set("ai_processed_at", u.AIProcessedAt.UnixNano())
	}
	return sets, args, nil
}

func jsonColumn(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
