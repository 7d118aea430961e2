package classify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"happin/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func msg(ch domain.Channel, body string) *domain.Message {
	return &domain.Message{Channel: ch, Body: body, From: domain.Participant{Name: "Test"}}
}

type stubProvider struct {
	replies []string
	err     error
	calls   int
}

func (s *stubProvider) Name() string                  { return "stub" }
func (s *stubProvider) Healthy(context.Context) error { return nil }

func (s *stubProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	s.calls++
	if !req.JSONMode {
		return nil, errors.New("expected JSON mode")
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &domain.ChatResponse{}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return &domain.ChatResponse{Content: r}, nil
}

// --- Heuristic priority ---

func TestHeuristicPriority_UrgentRequestScenario(t *testing.T) {
	got := HeuristicPriority(msg(domain.ChannelGeneric, "URGENT: please send the report ASAP, thanks!"))
	want := domain.PriorityResult{
		Priority:       1,
		Reason:         "Contains urgent keywords",
		Category:       domain.CategoryUrgent,
		Tags:           []string{"urgent", "task", "positive"},
		Sentiment:      domain.SentimentPositive,
		Intent:         "info",
		ActionRequired: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestHeuristicPriority_QuestionScenario(t *testing.T) {
	got := HeuristicPriority(msg(domain.ChannelGeneric, "Can you help me, I have a question about my order?"))
	if got.Category != domain.CategoryQuestion || got.Intent != "question" {
		t.Fatalf("expected question/question, got %s/%s", got.Category, got.Intent)
	}
	if got.Priority > 2 {
		t.Fatalf("expected priority <= 2, got %d", got.Priority)
	}
	if !got.ActionRequired {
		t.Fatal("expected actionRequired")
	}
}

func TestHeuristicPriority_QuestionMarkOnlyInBody(t *testing.T) {
	m := msg(domain.ChannelEmail, "Lunch at noon")
	m.Subject = "Lunch?"
	if got := HeuristicPriority(m); got.Category == domain.CategoryQuestion {
		t.Fatal("a '?' in the subject alone should not mark a question")
	}
	if got := HeuristicPriority(msg(domain.ChannelEmail, "Lunch at noon?")); got.Category != domain.CategoryQuestion {
		t.Fatalf("expected question, got %s", got.Category)
	}
}

func TestHeuristicPriority_SpamOverridesUrgent(t *testing.T) {
	got := HeuristicPriority(msg(domain.ChannelGeneric, "URGENT offer inside, unsubscribe anytime"))
	if got.Priority != 5 || got.Category != domain.CategorySpam {
		t.Fatalf("expected spam priority 5, got %d %s", got.Priority, got.Category)
	}
	if got.ActionRequired {
		t.Fatal("spam should not require action")
	}
	if diff := cmp.Diff([]string{"urgent", "spam"}, got.Tags); diff != "" {
		t.Errorf("earlier tags should be kept (-want +got):\n%s", diff)
	}
}

func TestHeuristicPriority_NegativeSentimentTightens(t *testing.T) {
	got := HeuristicPriority(msg(domain.ChannelGeneric, "This was terrible"))
	if got.Sentiment != domain.SentimentNegative || got.Priority != 2 {
		t.Fatalf("expected negative p2, got %s p%d", got.Sentiment, got.Priority)
	}
	if got.Category != domain.CategoryInfo {
		t.Fatalf("sentiment should not change category, got %s", got.Category)
	}
}

func TestHeuristicPriority_PositiveShortCircuitsNegative(t *testing.T) {
	got := HeuristicPriority(msg(domain.ChannelGeneric, "Thanks, even though the worst is over"))
	if got.Sentiment != domain.SentimentPositive {
		t.Fatalf("expected positive, got %s", got.Sentiment)
	}
	for _, tag := range got.Tags {
		if tag == "negative" {
			t.Fatal("negative tag should not be added")
		}
	}
}

func TestHeuristicPriority_ChannelAdjustments(t *testing.T) {
	sms := HeuristicPriority(msg(domain.ChannelSMS, "see you later"))
	if sms.Priority != 2 || !contains(sms.Tags, "personal") {
		t.Fatalf("expected personal p2, got %+v", sms)
	}

	wa := HeuristicPriority(msg(domain.ChannelWhatsApp, "see you later"))
	if wa.Priority != 2 {
		t.Fatalf("expected whatsapp p2, got %d", wa.Priority)
	}

	broadcast := msg(domain.ChannelEmail, "Limited time deal, click here")
	broadcast.To = []domain.Participant{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	if got := HeuristicPriority(broadcast); got.Priority != 4 {
		t.Fatalf("expected broadcast email capped at 4, got %d", got.Priority)
	}
}

func TestHeuristicPriority_Default(t *testing.T) {
	got := HeuristicPriority(msg(domain.ChannelSlack, "lunch menu attached"))
	want := domain.PriorityResult{
		Priority:  3,
		Reason:    "Standard priority",
		Category:  domain.CategoryInfo,
		Tags:      []string{},
		Sentiment: domain.SentimentNeutral,
		Intent:    "info",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestHeuristic_Deterministic(t *testing.T) {
	m := msg(domain.ChannelEmail, "Please fix the error today. Why is the build broken? Thanks.")
	p1, s1 := HeuristicPriority(m), HeuristicSummary(m)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(p1, HeuristicPriority(m)); diff != "" {
			t.Fatalf("priority changed on run %d:\n%s", i, diff)
		}
		if diff := cmp.Diff(s1, HeuristicSummary(m)); diff != "" {
			t.Fatalf("summary changed on run %d:\n%s", i, diff)
		}
	}
}

// --- Heuristic summary ---

func TestHeuristicSummary_Sentences(t *testing.T) {
	got := HeuristicSummary(msg(domain.ChannelEmail, "Hi team. Please review the deck by Friday! Can we meet tomorrow?"))
	want := domain.SummaryResult{
		Summary:     "Hi team",
		KeyPoints:   []string{"Can we meet tomorrow"},
		ActionItems: []string{"review the deck by Friday"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestHeuristicSummary_Caps(t *testing.T) {
	body := strings.Repeat("You must do this task now. ", 6)
	got := HeuristicSummary(msg(domain.ChannelGeneric, body))
	if len(got.KeyPoints) != 4 {
		t.Errorf("expected 4 key points, got %d", len(got.KeyPoints))
	}
	if len(got.ActionItems) != 3 {
		t.Errorf("expected 3 action items, got %d", len(got.ActionItems))
	}
}

func TestHeuristicSummary_KeyPointsDefaultToSummary(t *testing.T) {
	got := HeuristicSummary(msg(domain.ChannelGeneric, "ok. see you."))
	if diff := cmp.Diff([]string{"ok"}, got.KeyPoints); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got.ActionItems == nil || len(got.ActionItems) != 0 {
		t.Errorf("expected empty non-nil action items, got %#v", got.ActionItems)
	}
}

func TestHeuristicSummary_NoBoundary(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := HeuristicSummary(msg(domain.ChannelGeneric, long))
	if got.Summary != strings.Repeat("a", 150)+"..." {
		t.Errorf("expected truncated summary, got %q", got.Summary)
	}

	short := HeuristicSummary(msg(domain.ChannelGeneric, "  on my way  "))
	if short.Summary != "on my way" {
		t.Errorf("expected short body kept, got %q", short.Summary)
	}

	punct := HeuristicSummary(msg(domain.ChannelGeneric, "?!"))
	if punct.Summary != "?!..." {
		t.Errorf("expected fallback for punctuation-only body, got %q", punct.Summary)
	}
}

// --- LLM parsing ---

func TestParsePriority_ClampsAndDefaults(t *testing.T) {
	cases := []struct {
		content string
		want    int
	}{
		{`{"priority": 9}`, 5},
		{`{"priority": -2}`, 1},
		{`{"priority": 0}`, 3},
		{`{}`, 3},
		{`{"priority": "2"}`, 2},
		{`{"priority": 1.6}`, 2},
		{`{"priority": 1e300}`, 5},
		{`{"priority": 9.3e18}`, 5},
		{`{"priority": -1e300}`, 1},
		{`{"priority": 0.4}`, 1},
		{`{"priority": -0.4}`, 1},
		{`{"priority": 4.5}`, 5},
	}
	for _, tc := range cases {
		got, err := parsePriority(tc.content)
		if err != nil {
			t.Errorf("parsePriority(%s): %v", tc.content, err)
			continue
		}
		if got.Priority != tc.want {
			t.Errorf("parsePriority(%s) = %d, want %d", tc.content, got.Priority, tc.want)
		}
	}

	got, _ := parsePriority(`{"priority": 2, "category": "Nonsense", "sentiment": "ecstatic", "tags": "x"}`)
	want := domain.PriorityResult{
		Priority:       2,
		Reason:         "AI-analyzed priority",
		Category:       domain.CategoryInfo,
		Tags:           []string{},
		Sentiment:      domain.SentimentNeutral,
		ActionRequired: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePriority_FencedAndWrapped(t *testing.T) {
	fenced := "```json\n{\"priority\": 1, \"category\": \"urgent\", \"actionRequired\": false}\n```"
	got, err := parsePriority(fenced)
	if err != nil {
		t.Fatalf("fenced: %v", err)
	}
	if got.Priority != 1 || got.Category != domain.CategoryUrgent || got.ActionRequired {
		t.Fatalf("unexpected %+v", got)
	}

	wrapped := `Here you go: {"priority": 4, "reason": "newsletter {weekly}"} hope that helps`
	got, err = parsePriority(wrapped)
	if err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if got.Priority != 4 || got.Reason != "newsletter {weekly}" {
		t.Fatalf("unexpected %+v", got)
	}

	if _, err := parsePriority("not json at all"); err == nil {
		t.Fatal("expected error for unparsable content")
	}
}

func TestParseSummary_Defaults(t *testing.T) {
	got, err := parseSummary(`{"keyPoints": ["a", 3, "b"]}`, "short body")
	if err != nil {
		t.Fatal(err)
	}
	want := domain.SummaryResult{
		Summary:     "short body...",
		KeyPoints:   []string{"a", "b"},
		ActionItems: []string{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

// --- Engine ---

func TestEngine_UsesLLMResult(t *testing.T) {
	p := &stubProvider{replies: []string{
		`{"priority": 2, "reason": "customer waiting", "category": "question", "tags": ["customer"], "sentiment": "negative", "intent": "question", "actionRequired": true}`,
		`{"summary": "Customer asks about an order.", "keyPoints": ["order"], "actionItems": ["reply"]}`,
	}}
	eng := NewEngine(NewLLM(LLMConfig{Provider: p, Logger: testLogger()}), testLogger())

	pr, sr := eng.Analyze(context.Background(), msg(domain.ChannelEmail, "Where is my order"))
	if pr.Reason != "customer waiting" || pr.Priority != 2 {
		t.Fatalf("unexpected priority %+v", pr)
	}
	if sr.Summary != "Customer asks about an order." {
		t.Fatalf("unexpected summary %+v", sr)
	}
	if sr.Sentiment != domain.SentimentNegative {
		t.Fatalf("expected summary sentiment filled from priority, got %q", sr.Sentiment)
	}
	if p.calls != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", p.calls)
	}
}

func TestEngine_UnparsableFallsBackToHeuristic(t *testing.T) {
	m := msg(domain.ChannelGeneric, "URGENT: please send the report ASAP, thanks!")
	heuristic := NewEngine(NewHeuristic(), testLogger())
	wantP, wantS := heuristic.Analyze(context.Background(), m)

	p := &stubProvider{replies: []string{"I cannot help with that", "<html>oops</html>"}}
	eng := NewEngine(NewLLM(LLMConfig{Provider: p, Logger: testLogger()}), testLogger())
	gotP, gotS := eng.Analyze(context.Background(), m)

	if diff := cmp.Diff(wantP, gotP); diff != "" {
		t.Errorf("priority fallback mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantS, gotS); diff != "" {
		t.Errorf("summary fallback mismatch (-want +got):\n%s", diff)
	}
	if p.calls != 2 {
		t.Fatalf("expected exactly one attempt per call, got %d", p.calls)
	}
}

func TestEngine_ProviderErrorAndEmptyFallBack(t *testing.T) {
	m := msg(domain.ChannelSMS, "running late")
	want := HeuristicPriority(m)

	for name, p := range map[string]*stubProvider{
		"error": {err: errors.New("quota exceeded")},
		"empty": {},
	} {
		eng := NewEngine(NewLLM(LLMConfig{Provider: p, Logger: testLogger()}), testLogger())
		got, _ := eng.Analyze(context.Background(), m)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestEngine_PartialFallback(t *testing.T) {
	m := msg(domain.ChannelGeneric, "Quarterly numbers are in. Take a look.")
	p := &stubProvider{replies: []string{`{"priority": 4, "reason": "fyi"}`, "garbage"}}
	eng := NewEngine(NewLLM(LLMConfig{Provider: p, Logger: testLogger()}), testLogger())

	pr, sr := eng.Analyze(context.Background(), m)
	if pr.Reason != "fyi" {
		t.Fatalf("expected LLM priority kept, got %+v", pr)
	}
	if sr.Summary != "Quarterly numbers are in" {
		t.Fatalf("expected heuristic summary, got %q", sr.Summary)
	}
}

func TestNew_StrategySelection(t *testing.T) {
	p := &stubProvider{}
	cases := []struct {
		name     string
		provider domain.Provider
		want     string
		wantErr  bool
	}{
		{"auto", p, StrategyLLM, false},
		{"auto", nil, StrategyHeuristic, false},
		{"heuristic", p, StrategyHeuristic, false},
		{"llm", p, StrategyLLM, false},
		{"llm", nil, "", true},
		{"random", p, "", true},
	}
	for _, tc := range cases {
		eng, err := New(tc.name, LLMConfig{Provider: tc.provider, Logger: testLogger()})
		if tc.wantErr {
			if err == nil {
				t.Errorf("New(%q): expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%q): %v", tc.name, err)
			continue
		}
		if eng.Strategy() != tc.want {
			t.Errorf("New(%q) strategy = %s, want %s", tc.name, eng.Strategy(), tc.want)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
