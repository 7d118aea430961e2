package channel

import (
	"regexp"
	"strings"

	"happin/internal/domain"
)

var displayAddr = regexp.MustCompile(`(.+?)\s*<(.+?)>`)

// ParseParticipant extracts a name and address from "Display Name <address>".
// Without angle brackets the raw string is both name and address, the name
// reduced to the local part when it looks like an address.
func ParseParticipant(raw string) domain.Participant {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Participant{Name: "Unknown"}
	}
	if m := displayAddr.FindStringSubmatch(raw); m != nil {
		addr := strings.TrimSpace(m[2])
		name := strings.Trim(strings.TrimSpace(m[1]), `"'`)
		name = strings.TrimSpace(name)
		if name == "" {
			name = localPart(addr)
		}
		return domain.Participant{Name: name, Email: addr}
	}
	addr := strings.TrimSpace(strings.Trim(raw, "<>"))
	return domain.Participant{Name: localPart(addr), Email: addr}
}

// ParseParticipantList splits an address header on commas that are not inside
// quotes or angle brackets.
func ParseParticipantList(raw string) []domain.Participant {
	var (
		out   []domain.Participant
		start int
		quote bool
		angle int
	)
	flush := func(end int) {
		if s := strings.TrimSpace(raw[start:end]); s != "" {
			out = append(out, ParseParticipant(s))
		}
	}
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '"':
			quote = !quote
		case '<':
			if !quote {
				angle++
			}
		case '>':
			if !quote && angle > 0 {
				angle--
			}
		case ',':
			if !quote && angle == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(raw))
	return out
}

func localPart(addr string) string {
	if i := strings.Index(addr, "@"); i > 0 {
		return addr[:i]
	}
	if addr == "" {
		return "Unknown"
	}
	return addr
}
