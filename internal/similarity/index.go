// Package similarity provides a deterministic, concurrency-safe in-memory
// index over closed tickets, used to surface prior tickets a TA can reuse
// when working a new one. It is intentionally small:
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options for tuning (stop words, result cap, score floor)
//   - Per-course partitions; a ticket never matches outside its course
//   - Deterministic scoring and ordering (stable ranks for a fixed snapshot)
//   - The queried ticket's own id is always excluded from results
//
// Scoring uses Jaccard similarity between token sets drawn from the tickets'
// text (description, summary, solutions, concepts): |A ∩ B| / |A ∪ B|, with a
// small boost when ticket types match.
package similarity

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coursekit/go-officehours-backend/internal/domain"
)

// Match is one ranked result: a closed ticket id and its relevance score.
type Match struct {
	TicketID string
	Score    float64
}

// Index is the contract the service layer consumes. Implementations must be
// safe for concurrent use and deterministic for a fixed snapshot: the same
// ticket queried twice between mutations yields identical results.
type Index interface {
	// Similar returns up to k closed tickets from the same course as t,
	// most relevant first. t itself never appears in the output. An empty
	// slice means "nothing related", not an error.
	Similar(t *domain.Ticket, k int) []Match

	// Upsert adds or refreshes a closed ticket in the index. Non-closed
	// tickets are ignored.
	Upsert(t *domain.Ticket)

	// Remove drops a ticket from the index if present.
	Remove(courseID, ticketID string)
}

// Option configures a Jaccard index.
type Option func(*config)

type config struct {
	stopwords  map[string]struct{}
	maxResults int
	minScore   float64
	typeBoost  float64
}

func defaultConfig() config {
	return config{
		stopwords:  defaultStopwords,
		maxResults: 10,
		minScore:   0.05,
		typeBoost:  0.05,
	}
}

// WithStopwords replaces the default stop-word set.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		c.stopwords = m
	}
}

// WithMaxResults caps the number of matches returned regardless of the k
// passed to Similar. Values <= 0 are ignored.
func WithMaxResults(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithMinScore drops matches scoring below s. Negative values are ignored.
func WithMinScore(s float64) Option {
	return func(c *config) {
		if s >= 0 {
			c.minScore = s
		}
	}
}

// doc is one indexed ticket: its token set plus the fields used for
// deterministic tie-breaking.
type doc struct {
	ticketID string
	ticketTy domain.TicketType
	tokens   map[string]struct{}
	closedAt time.Time
}

// JaccardIndex is the reference Index implementation. Documents are
// partitioned by course; reads take a shared lock so queries run concurrently
// with each other.
type JaccardIndex struct {
	cfg config

	mu      sync.RWMutex
	courses map[string]map[string]doc // courseID → ticketID → doc
}

// NewJaccardIndex returns an empty index.
func NewJaccardIndex(opts ...Option) *JaccardIndex {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &JaccardIndex{cfg: cfg, courses: make(map[string]map[string]doc)}
}

// Warm bulk-loads closed tickets, typically at startup from the store.
func (x *JaccardIndex) Warm(tickets []domain.Ticket) {
	for i := range tickets {
		x.Upsert(&tickets[i])
	}
}

// Upsert indexes a closed ticket. Tickets in any other state are ignored;
// re-upserting refreshes the stored token set.
func (x *JaccardIndex) Upsert(t *domain.Ticket) {
	if t == nil || t.State != domain.StateClosed {
		return
	}
	toks := tokenize(ticketText(t), x.cfg.stopwords)
	if len(toks) == 0 {
		return
	}
	closedAt := t.CreatedAt
	if t.ClosedAt != nil {
		closedAt = *t.ClosedAt
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	byID := x.courses[t.CourseID]
	if byID == nil {
		byID = make(map[string]doc)
		x.courses[t.CourseID] = byID
	}
	byID[t.ID] = doc{
		ticketID: t.ID,
		ticketTy: t.Type,
		tokens:   toks,
		closedAt: closedAt,
	}
}

// Remove drops a ticket from its course partition if present.
func (x *JaccardIndex) Remove(courseID, ticketID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if byID := x.courses[courseID]; byID != nil {
		delete(byID, ticketID)
	}
}

// Similar ranks the closed tickets of t's course against t. Ordering is
// score descending, then most recently closed, then ticket id ascending, so
// results are stable for a fixed snapshot.
func (x *JaccardIndex) Similar(t *domain.Ticket, k int) []Match {
	if t == nil {
		return nil
	}
	if k <= 0 || k > x.cfg.maxResults {
		k = x.cfg.maxResults
	}
	qTokens := tokenize(ticketText(t), x.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	byID := x.courses[t.CourseID]
	if len(byID) == 0 {
		return nil
	}

	type scored struct {
		doc
		score float64
	}
	buf := make([]scored, 0, len(byID))
	for id, d := range byID {
		if id == t.ID {
			continue
		}
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(len(qTokens) + len(d.tokens) - over)
		score := float64(over) / union
		if d.ticketTy == t.Type {
			score += x.cfg.typeBoost
		}
		if score < x.cfg.minScore {
			continue
		}
		buf = append(buf, scored{doc: d, score: score})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if !buf[a].closedAt.Equal(buf[b].closedAt) {
			return buf[a].closedAt.After(buf[b].closedAt)
		}
		return buf[a].ticketID < buf[b].ticketID
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Match, k)
	for i := 0; i < k; i++ {
		out[i] = Match{TicketID: buf[i].ticketID, Score: buf[i].score}
	}
	return out
}

// ticketText concatenates the fields worth matching on. For a queued ticket
// only the student's description contributes; for a closed one the TA's
// response participates too, which is what lets "similar solutions" surface.
func ticketText(t *domain.Ticket) string {
	parts := []string{t.Topic, t.Description, t.MeetingSummary, t.SolutionsUsed, t.ConceptsForReview}
	return strings.Join(parts, " ")
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

// tokenize lowercases s and extracts the unique non-stop-word tokens.
func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// overlap counts tokens shared by a and b, iterating the smaller set.
func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

// defaultStopwords is a minimal English set tuned for help-request prose.
var defaultStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"i": {}, "my": {}, "me": {}, "we": {}, "you": {}, "not": {}, "do": {}, "does": {},
	"have": {}, "has": {}, "how": {}, "what": {}, "when": {}, "why": {}, "cant": {},
	"can": {}, "help": {}, "need": {}, "get": {}, "getting": {}, "but": {},
}
