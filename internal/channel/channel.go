// Package channel turns channel-native webhook payloads into canonical
// messages. Decoders and Normalize do no I/O.
package channel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"happin/internal/domain"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Inbound is one raw webhook delivery.
type Inbound struct {
	Body        []byte
	ContentType string
	Header      http.Header
	URL         string // externally visible request URL, used by signature schemes that sign it
}

// IsForm reports whether the body is form encoded (urlencoded or multipart).
func (in Inbound) IsForm() bool {
	mt, _, _ := mime.ParseMediaType(in.ContentType)
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

// Form decodes a form-encoded body. Multipart file parts are skipped.
func (in Inbound) Form() (url.Values, error) {
	mt, params, err := mime.ParseMediaType(in.ContentType)
	if err != nil {
		mt = ""
	}
	if mt != "multipart/form-data" {
		vals, err := url.ParseQuery(string(in.Body))
		if err != nil {
			return nil, domain.Invalid("body", "malformed form encoding")
		}
		return vals, nil
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, domain.Invalid("body", "multipart body without boundary")
	}
	vals := url.Values{}
	mr := multipart.NewReader(bytes.NewReader(in.Body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return vals, nil
		}
		if err != nil {
			return nil, domain.Invalid("body", "malformed multipart body")
		}
		if part.FileName() != "" {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, domain.Invalid("body", "malformed multipart body")
		}
		vals.Add(part.FormName(), string(data))
	}
}

// Payload is one decoded channel-native payload. The set of implementations is
// closed: GenericPayload, EmailPayload, SlackPayload and TwilioPayload.
type Payload interface {
	Channel() domain.Channel
	normalize(now time.Time) (Result, error)
}

// Result is the outcome of normalizing a payload. Exactly one of Message,
// Skipped or Challenge is set.
type Result struct {
	Message   *domain.Message
	Skipped   string // reason the payload carries no message, e.g. "subtype"
	Challenge string // Slack URL verification token to echo back
}

// Normalize converts a decoded payload into a canonical message. now is the
// ingestion time, substituted for absent timestamps and fallback ids.
func Normalize(p Payload, now time.Time) (Result, error) {
	if p == nil {
		return Result{}, domain.Invalid("", "empty payload")
	}
	res, err := p.normalize(now)
	if err != nil {
		return Result{}, err
	}
	if m := res.Message; m != nil {
		if strings.TrimSpace(m.Body) == "" {
			return Result{}, domain.Invalid("body", "message has no content")
		}
		if !m.Channel.Valid() {
			return Result{}, domain.Invalid("channel", fmt.Sprintf("unknown channel %q", m.Channel))
		}
		if m.ReceivedAt.IsZero() {
			m.ReceivedAt = now
		}
	}
	return res, nil
}

// Adapter decodes and authenticates deliveries for one webhook endpoint.
type Adapter interface {
	Name() string
	// Verify checks the delivery signature. Adapters without a configured
	// secret accept everything.
	Verify(in Inbound) error
	Decode(in Inbound) (Payload, error)
}

// fallbackID builds "{channel}-{ingestionEpochMillis}".
func fallbackID(ch domain.Channel, now time.Time) string {
	return fmt.Sprintf("%s-%d", ch, now.UnixMilli())
}
