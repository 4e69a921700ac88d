package universal

import (
	"context"
	"strings"

	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/search"
	"github.com/locai-dev/locai/pkg/store"
)

// Intent classifies what a query is after.
type Intent string

const (
	IntentFactual     Intent = "factual"
	IntentTemporal    Intent = "temporal"
	IntentRelational  Intent = "relational"
	IntentProcedural  Intent = "procedural"
	IntentComparative Intent = "comparative"
	IntentExploratory Intent = "exploratory"
)

// Strategy names the search strategy the analysis recommends.
type Strategy string

const (
	StrategySemantic Strategy = "semantic"
	StrategyFullText Strategy = "full_text"
	StrategyFuzzy    Strategy = "fuzzy"
	StrategyGraph    Strategy = "graph"
	StrategyHybrid   Strategy = "hybrid"
)

// TemporalExpression is one recognized time phrase in a query.
type TemporalExpression struct {
	Text string
	Kind string // "relative" or "absolute"
}

// QueryAnalysis is the intelligence layer's view of one query.
type QueryAnalysis struct {
	Tokens              []string
	Entities            []string
	TemporalExpressions []TemporalExpression
	Intent              Intent
	Strategy            Strategy
	Confidence          float64
}

// Intelligence analyses queries and tracks sessions.
type Intelligence struct {
	backend  store.StoreBackend
	sessions *SessionStore
}

func NewIntelligence(backend store.StoreBackend) *Intelligence {
	return &Intelligence{backend: backend, sessions: NewSessionStore()}
}

// Sessions exposes the in-process session store.
func (i *Intelligence) Sessions() *SessionStore { return i.sessions }

// temporalPatterns are the relative time phrases the analyzer recognizes.
var temporalPatterns = []string{
	"yesterday", "today", "last week", "last month", "last year",
	"this week", "this month", "recently",
}

// AnalyzeQuery tokenizes the query, detects entity names and temporal
// expressions, classifies intent with keyword heuristics, and recommends a
// strategy.
func (i *Intelligence) AnalyzeQuery(ctx context.Context, query string) (QueryAnalysis, error) {
	analysis := QueryAnalysis{
		Tokens: strings.Fields(strings.ToLower(search.FilterQueryTokens(query))),
	}

	queryLower := strings.ToLower(query)

	for _, pattern := range temporalPatterns {
		if strings.Contains(queryLower, pattern) {
			analysis.TemporalExpressions = append(analysis.TemporalExpressions,
				TemporalExpression{Text: pattern, Kind: "relative"})
		}
	}

	entities, err := i.backend.ListEntities(ctx, model.EntityFilter{}, model.ListOptions{Limit: 200})
	if err == nil {
		for _, e := range entities {
			name := e.Name()
			if name != "" && strings.Contains(queryLower, strings.ToLower(name)) {
				analysis.Entities = append(analysis.Entities, name)
			}
		}
	}

	analysis.Intent = classifyIntent(queryLower, analysis.TemporalExpressions)
	analysis.Strategy = suggestStrategy(analysis.Intent, analysis.Entities, analysis.TemporalExpressions)
	analysis.Confidence = analysisConfidence(analysis)
	return analysis, nil
}

func classifyIntent(queryLower string, temporal []TemporalExpression) Intent {
	if len(temporal) > 0 {
		return IntentTemporal
	}
	switch {
	case containsAny(queryLower, "how", "what", "why"):
		return IntentFactual
	case containsAny(queryLower, "relationship", "connection", "related"):
		return IntentRelational
	case containsAny(queryLower, "compare", "vs", "difference"):
		return IntentComparative
	case containsAny(queryLower, "step", "process", "procedure"):
		return IntentProcedural
	default:
		return IntentExploratory
	}
}

func suggestStrategy(intent Intent, entities []string, temporal []TemporalExpression) Strategy {
	switch {
	case intent == IntentRelational && len(entities) > 0:
		return StrategyGraph
	case intent == IntentTemporal && len(temporal) > 0:
		return StrategyFullText
	case intent == IntentFactual:
		return StrategyHybrid
	case intent == IntentExploratory:
		return StrategySemantic
	default:
		return StrategyFullText
	}
}

// analysisConfidence rises with each recognized signal: tokens alone give a
// floor, detected entities and temporal expressions each add certainty.
func analysisConfidence(a QueryAnalysis) float64 {
	confidence := 0.5
	if len(a.Tokens) > 0 {
		confidence += 0.1
	}
	if len(a.Entities) > 0 {
		confidence += 0.2
	}
	if len(a.TemporalExpressions) > 0 {
		confidence += 0.2
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
