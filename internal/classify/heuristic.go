package classify

import (
	"context"
	"regexp"
	"strings"

	"happin/internal/domain"
)

const (
	summaryFallbackRunes = 150
	maxKeyPoints         = 4
	maxActionItems       = 3
	longSentenceRunes    = 50
	broadcastRecipients  = 3
)

// rule is one keyword check in the priority pipeline. Rules run in order.
type rule struct {
	name     string
	pattern  *regexp.Regexp
	priority int
	force    bool // set priority unconditionally instead of tightening
	category domain.Category
	intent   string
	reason   string
	action   bool
}

var priorityRules = []rule{
	{
		name:     "urgent",
		pattern:  regexp.MustCompile(`(?i)\b(urgent|asap|immediately|emergency|critical|important|deadline|today|now)\b`),
		priority: 1,
		category: domain.CategoryUrgent,
		reason:   "Contains urgent keywords",
		action:   true,
	},
	{
		name:     "question",
		pattern:  regexp.MustCompile(`(?i)\b(question|help|support|issue|problem|how|what|when|where|why)\b`),
		priority: 2,
		category: domain.CategoryQuestion,
		intent:   "question",
		reason:   "Asks a question",
		action:   true,
	},
	{
		name:     "task",
		pattern:  regexp.MustCompile(`(?i)\b(task|todo|action|required|need|please|can you|could you|would you)\b`),
		priority: 2,
		category: domain.CategoryTask,
		intent:   "request",
		reason:   "Contains a request",
		action:   true,
	},
	{
		name:     "complaint",
		pattern:  regexp.MustCompile(`(?i)\b(complaint|unhappy|dissatisfied|wrong|error|mistake|problem|issue|bad service)\b`),
		priority: 2,
		category: domain.CategoryComplaint,
		intent:   "complaint",
		reason:   "Contains complaint indicators",
		action:   true,
	},
	{
		name:     "spam",
		pattern:  regexp.MustCompile(`(?i)\b(spam|unsubscribe|opt-out|click here|limited time|act now|buy now|free money)\b`),
		priority: 5,
		force:    true,
		category: domain.CategorySpam,
		intent:   "spam",
		reason:   "Looks like spam",
		action:   false,
	},
}

var (
	positivePattern = regexp.MustCompile(`(?i)\b(great|thanks|thank you|excellent|awesome|good|happy|pleased|appreciate|love)\b`)
	negativePattern = regexp.MustCompile(`(?i)\b(bad|terrible|angry|frustrated|disappointed|problem|issue|error|hate|worst)\b`)

	sentenceEnd      = regexp.MustCompile(`[.!?]+`)
	importantPattern = regexp.MustCompile(`(?i)\b(must|should|need|required|action|task|important|deadline|urgent)\b`)
	requestPattern   = regexp.MustCompile(`(?i)\b(please|can you|could you|need to|must|should|action|task|todo)\b`)
	leadingPlease    = regexp.MustCompile(`(?i)^please\s+`)
)

// Heuristic is the deterministic keyword strategy. It never fails.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (*Heuristic) Name() string { return StrategyHeuristic }

func (h *Heuristic) Priority(_ context.Context, msg *domain.Message) (domain.PriorityResult, error) {
	return HeuristicPriority(msg), nil
}

func (h *Heuristic) Summary(_ context.Context, msg *domain.Message) (domain.SummaryResult, error) {
	return HeuristicSummary(msg), nil
}

// HeuristicPriority scores msg with the fixed keyword rules. Category, intent
// and reason come from the rule that last lowered the priority, or from the
// spam rule when it fires. Tags and actionRequired accumulate from every
// matching rule.
func HeuristicPriority(msg *domain.Message) domain.PriorityResult {
	text := strings.ToLower(msg.Subject) + " " + strings.ToLower(msg.Body)

	res := domain.PriorityResult{
		Priority:  domain.DefaultPriority,
		Reason:    "Standard priority",
		Category:  domain.CategoryInfo,
		Tags:      []string{},
		Sentiment: domain.SentimentNeutral,
		Intent:    "info",
	}

	for _, r := range priorityRules {
		matched := r.pattern.MatchString(text)
		if r.name == "question" && strings.Contains(msg.Body, "?") {
			matched = true
		}
		if !matched {
			continue
		}

		owns := false
		switch {
		case r.force:
			res.Priority = r.priority
			owns = true
		case r.priority < res.Priority:
			res.Priority = r.priority
			owns = true
		}
		if owns {
			res.Category = r.category
			res.Reason = r.reason
			if r.intent != "" {
				res.Intent = r.intent
			}
		}
		res.Tags = append(res.Tags, r.name)
		res.ActionRequired = r.action
	}

	switch {
	case positivePattern.MatchString(text):
		res.Sentiment = domain.SentimentPositive
		res.Tags = append(res.Tags, "positive")
	case negativePattern.MatchString(text):
		res.Sentiment = domain.SentimentNegative
		res.Priority = min(res.Priority, 2)
		res.Tags = append(res.Tags, "negative")
	}

	if msg.Channel.IsPersonal() {
		res.Priority = min(res.Priority, 2)
		res.Tags = append(res.Tags, "personal")
	}
	if msg.Channel == domain.ChannelEmail && len(msg.To) > broadcastRecipients {
		res.Priority = min(res.Priority, 4)
	}
	return res
}

type sentence struct {
	text     string // untrimmed segment
	question bool   // terminated by a '?'
}

func splitSentences(body string) []sentence {
	var out []sentence
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(body, -1) {
		seg := body[last:loc[0]]
		if strings.TrimSpace(seg) != "" {
			out = append(out, sentence{text: seg, question: strings.Contains(body[loc[0]:loc[1]], "?")})
		}
		last = loc[1]
	}
	if tail := body[last:]; strings.TrimSpace(tail) != "" {
		out = append(out, sentence{text: tail})
	}
	return out
}

// HeuristicSummary extracts a summary, key points and action items from the
// message body.
func HeuristicSummary(msg *domain.Message) domain.SummaryResult {
	sentences := splitSentences(msg.Body)

	// A body without any sentence boundary is only cut when it is long.
	summary := truncateSummary(msg.Body)
	if len(sentences) > 0 &&
		(sentenceEnd.MatchString(msg.Body) || len([]rune(sentences[0].text)) <= summaryFallbackRunes) {
		summary = strings.TrimSpace(sentences[0].text)
	}

	keyPoints := []string{}
	actionItems := []string{}
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s.text)
		if len(keyPoints) < maxKeyPoints &&
			(s.question || importantPattern.MatchString(s.text) || len([]rune(s.text)) > longSentenceRunes) {
			keyPoints = append(keyPoints, trimmed)
		}
		if len(actionItems) < maxActionItems && requestPattern.MatchString(s.text) {
			actionItems = append(actionItems, leadingPlease.ReplaceAllString(trimmed, ""))
		}
	}
	if len(keyPoints) == 0 {
		keyPoints = []string{summary}
	}

	return domain.SummaryResult{
		Summary:     summary,
		KeyPoints:   keyPoints,
		ActionItems: actionItems,
	}
}

// truncateSummary is the summary used when no sentence can be extracted.
func truncateSummary(body string) string {
	r := []rune(body)
	if len(r) > summaryFallbackRunes {
		r = r[:summaryFallbackRunes]
	}
	return string(r) + "..."
}
