package universal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/derekparker/trie/v3"
	"github.com/google/uuid"

	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

// Session accumulates entities, topics, and temporal focus across the
// queries of one search session.
type Session struct {
	ID            string
	UserID        string
	CreatedAt     time.Time
	LastActive    time.Time
	Entities      []string
	Topics        []string
	TemporalFocus []TemporalExpression
	QueryCount    int
}

// SessionStore is the in-process, per-process session map. State never
// leaves the process; sessions die with it.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]*Session{}}
}

// Create opens a session and returns its id.
func (s *SessionStore) Create(userID string) string {
	now := time.Now().UTC()
	session := &Session{ID: uuid.NewString(), UserID: userID, CreatedAt: now, LastActive: now}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session.ID
}

// Get returns a copy of the session, or nil.
func (s *SessionStore) Get(sessionID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *session
	cp.Entities = append([]string(nil), session.Entities...)
	cp.Topics = append([]string(nil), session.Topics...)
	cp.TemporalFocus = append([]TemporalExpression(nil), session.TemporalFocus...)
	return &cp
}

// Update folds one query's analysis into the session.
func (s *SessionStore) Update(sessionID string, analysis QueryAnalysis) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	session.LastActive = time.Now().UTC()
	session.QueryCount++
	for _, e := range analysis.Entities {
		session.Entities = appendUnique(session.Entities, e)
	}
	for _, tok := range analysis.Tokens {
		session.Topics = appendUnique(session.Topics, tok)
	}
	session.TemporalFocus = append(session.TemporalFocus, analysis.TemporalExpressions...)
	return true
}

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}

// SuggestionKind tags where a suggestion came from.
type SuggestionKind string

const (
	SuggestionCompletion SuggestionKind = "completion"
	SuggestionCorrection SuggestionKind = "correction"
	SuggestionExpansion  SuggestionKind = "expansion"
)

// Suggestion is one proposed query refinement.
type Suggestion struct {
	Text  string
	Kind  SuggestionKind
	Score float64
}

// Suggester combines prefix completion on entity names, fuzzy corrections,
// and context expansion from session entities.
type Suggester struct {
	backend  store.StoreBackend
	sessions *SessionStore

	mu    sync.RWMutex
	names *trie.Trie[string]
}

func NewSuggester(backend store.StoreBackend, sessions *SessionStore) *Suggester {
	return &Suggester{backend: backend, sessions: sessions, names: trie.New[string]()}
}

// RefreshNames rebuilds the prefix trie from stored entity names. Callers
// invoke it after bulk entity writes; suggestions degrade gracefully (no
// completions) until the first refresh.
func (s *Suggester) RefreshNames(ctx context.Context) error {
	entities, err := s.backend.ListEntities(ctx, model.EntityFilter{}, model.ListOptions{})
	if err != nil {
		return err
	}
	fresh := trie.New[string]()
	for _, e := range entities {
		if name := e.Name(); name != "" {
			fresh.Add(strings.ToLower(name), e.ID)
		}
	}
	s.mu.Lock()
	s.names = fresh
	s.mu.Unlock()
	return nil
}

// Suggest returns up to limit suggestions for a partial query, best first.
func (s *Suggester) Suggest(partialQuery, sessionID string, limit int) []Suggestion {
	if limit <= 0 {
		limit = 5
	}
	needle := strings.ToLower(strings.TrimSpace(partialQuery))
	if needle == "" {
		return nil
	}

	var out []Suggestion

	s.mu.RLock()
	completions := s.names.PrefixSearch(needle)
	fuzzy := s.names.FuzzySearch(needle)
	s.mu.RUnlock()

	for _, c := range completions {
		out = append(out, Suggestion{Text: c, Kind: SuggestionCompletion, Score: 0.9})
	}

	seen := map[string]bool{}
	for _, o := range out {
		seen[o.Text] = true
	}
	for _, f := range fuzzy {
		if seen[f] {
			continue
		}
		sim := matchr.JaroWinkler(needle, f, false)
		if sim >= 0.75 {
			out = append(out, Suggestion{Text: f, Kind: SuggestionCorrection, Score: sim * 0.8})
			seen[f] = true
		}
	}

	if session := s.sessions.Get(sessionID); session != nil {
		for _, entity := range session.Entities {
			text := partialQuery + " " + entity
			if !seen[text] && !strings.Contains(strings.ToLower(partialQuery), strings.ToLower(entity)) {
				out = append(out, Suggestion{Text: text, Kind: SuggestionExpansion, Score: 0.5})
				seen[text] = true
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
