// Package classify scores and summarizes messages. The heuristic strategy is
// deterministic; the LLM strategy falls back to it on any failure.
package classify

import (
	"context"
	"fmt"
	"log/slog"

	"happin/internal/domain"
	"happin/internal/metrics"
)

// Strategy names accepted by New.
const (
	StrategyAuto      = "auto"
	StrategyLLM       = "llm"
	StrategyHeuristic = "heuristic"
)

// Strategy produces priority and summary results for a message.
type Strategy interface {
	Name() string
	Priority(ctx context.Context, msg *domain.Message) (domain.PriorityResult, error)
	Summary(ctx context.Context, msg *domain.Message) (domain.SummaryResult, error)
}

// Analyzer is what the enrichment pipeline depends on.
type Analyzer interface {
	Analyze(ctx context.Context, msg *domain.Message) (domain.PriorityResult, domain.SummaryResult)
}

// Engine runs the configured strategy and recovers every failure with the
// heuristic result for that call.
type Engine struct {
	strategy Strategy
	logger   *slog.Logger
}

var _ Analyzer = (*Engine)(nil)

func NewEngine(strategy Strategy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if strategy == nil {
		strategy = NewHeuristic()
	}
	return &Engine{strategy: strategy, logger: logger}
}

// New builds an engine for the named strategy. "auto" uses the LLM when a
// provider is available and heuristics otherwise; "llm" requires one.
func New(name string, llm LLMConfig) (*Engine, error) {
	switch name {
	case StrategyHeuristic:
		return NewEngine(NewHeuristic(), llm.Logger), nil
	case StrategyLLM:
		if llm.Provider == nil {
			return nil, fmt.Errorf("classifier strategy %q requires a provider", name)
		}
		return NewEngine(NewLLM(llm), llm.Logger), nil
	case StrategyAuto, "":
		if llm.Provider == nil {
			return NewEngine(NewHeuristic(), llm.Logger), nil
		}
		return NewEngine(NewLLM(llm), llm.Logger), nil
	}
	return nil, fmt.Errorf("unknown classifier strategy %q", name)
}

// Strategy names the active strategy.
func (e *Engine) Strategy() string { return e.strategy.Name() }

// Analyze never fails. Priority and summary degrade independently.
func (e *Engine) Analyze(ctx context.Context, msg *domain.Message) (domain.PriorityResult, domain.SummaryResult) {
	p, err := e.strategy.Priority(ctx, msg)
	if err != nil {
		e.recover("priority", msg, err)
		p = HeuristicPriority(msg)
	} else {
		metrics.Classifications.WithLabelValues(e.strategy.Name(), "priority", "ok").Inc()
	}

	s, err := e.strategy.Summary(ctx, msg)
	if err != nil {
		e.recover("summary", msg, err)
		s = HeuristicSummary(msg)
	} else {
		metrics.Classifications.WithLabelValues(e.strategy.Name(), "summary", "ok").Inc()
	}

	if s.Sentiment == "" {
		s.Sentiment = p.Sentiment
	}
	return p, s
}

func (e *Engine) recover(op string, msg *domain.Message, err error) {
	cerr := &domain.ClassificationError{Strategy: e.strategy.Name(), Op: op, Err: err}
	metrics.Classifications.WithLabelValues(e.strategy.Name(), op, "fallback").Inc()
	e.logger.Warn("classification failed, using heuristics",
		"id", msg.ID,
		"channel", msg.Channel,
		"err", cerr,
	)
}
