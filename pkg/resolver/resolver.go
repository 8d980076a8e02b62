// Package resolver maps natural-language turn references ("the first
// one", "previous", "two messages ago", "that one") to stored
// conversation turns.
//
// Reference classes are pattern tables from the patterns package, not
// code paths: a new language or phrasing is a configuration change.
// Resolution is deterministic for a fixed set of stored turns, and the
// resolver never guesses - when no candidate clears the confidence
// threshold it reports ambiguity instead.
package resolver

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/patterns"
	"github.com/ledgerchat/ledgerchat-engine/pkg/repositories"
)

// Status describes the outcome of a resolution attempt.
type Status string

const (
	// StatusResolved means exactly one turn was identified.
	StatusResolved Status = "resolved"
	// StatusNoReference means the utterance contains no turn reference.
	StatusNoReference Status = "no_reference"
	// StatusNoHistory means the session has no retained turns.
	StatusNoHistory Status = "no_history"
	// StatusAmbiguous means several turns are plausible and none clears
	// the confidence threshold; the caller should ask for clarification.
	StatusAmbiguous Status = "ambiguous"
	// StatusUnresolvable means a reference was understood but points
	// outside retained history (e.g. "the fifth one" in a two-turn
	// session). Callers treat this as "no context", not as an error.
	StatusUnresolvable Status = "unresolvable"
)

// Confidence assigned per reference class. Explicit positions resolve with
// more certainty than anchors, which in turn beat demonstratives.
const (
	ordinalConfidence  = 0.95
	relativeConfidence = 0.9
	temporalConfidence = 0.85
	soloDemonstrative  = 0.75
)

// Resolution is the resolver's answer for one utterance.
type Resolution struct {
	Status     Status
	Turn       *models.ConversationTurn
	Confidence float64
}

// Resolver resolves turn references against the Turn Store.
type Resolver interface {
	Resolve(ctx context.Context, sessionID uuid.UUID, utterance, language string) (Resolution, error)
}

// Config holds resolver tuning.
type Config struct {
	MaxRecentTurns      int
	RetentionHorizon    time.Duration
	ConfidenceThreshold float64
	// LookupTimeout bounds the history read so a slow Turn Store degrades
	// the turn to no-context instead of stalling it.
	LookupTimeout time.Duration
}

type resolver struct {
	turns   repositories.TurnRepository
	library *patterns.Library
	cfg     Config
	logger  *zap.Logger
}

// New creates a Resolver reading history from turns.
func New(turns repositories.TurnRepository, library *patterns.Library, cfg Config, logger *zap.Logger) Resolver {
	if cfg.MaxRecentTurns <= 0 {
		cfg.MaxRecentTurns = 10
	}
	if cfg.RetentionHorizon <= 0 {
		cfg.RetentionHorizon = 24 * time.Hour
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	return &resolver{
		turns:   turns,
		library: library,
		cfg:     cfg,
		logger:  logger.Named("resolver"),
	}
}

var _ Resolver = (*resolver)(nil)

// digitOrdinalPattern matches "3rd", "11th" and similar.
var digitOrdinalPattern = regexp.MustCompile(`\b(\d+)(?:st|nd|rd|th)\b`)

// Resolve inspects recent turns and determines whether the utterance
// references one of them. Reads only; the in-flight utterance is not yet
// stored, so "last"/"previous" naturally exclude it.
func (r *resolver) Resolve(ctx context.Context, sessionID uuid.UUID, utterance, language string) (Resolution, error) {
	lang := r.library.Language(language)
	lowered := strings.ToLower(utterance)

	listCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()
	history, err := r.turns.ListRecent(listCtx, sessionID, r.cfg.MaxRecentTurns, r.cfg.RetentionHorizon)
	if err != nil {
		return Resolution{Status: StatusNoReference}, err
	}
	if len(history) == 0 {
		return Resolution{Status: StatusNoHistory}, nil
	}

	// Relative references ("two messages ago") carry an explicit
	// distance, so they are checked before the looser classes.
	if res, ok := r.resolveRelative(lowered, lang, history); ok {
		return res, nil
	}
	if res, ok := r.resolveOrdinal(lowered, lang, history); ok {
		return res, nil
	}
	if res, ok := r.resolveTemporal(lowered, lang, history); ok {
		return res, nil
	}
	if res, ok := r.resolveDemonstrative(lowered, lang, history); ok {
		return res, nil
	}

	return Resolution{Status: StatusNoReference}, nil
}

// resolveRelative handles "<n> messages ago" style references. The newest
// stored turn is one message ago.
func (r *resolver) resolveRelative(utterance string, lang *patterns.LanguagePatterns, history []*models.ConversationTurn) (Resolution, bool) {
	for _, marker := range lang.Relative {
		idx := strings.Index(utterance, marker)
		if idx < 0 {
			continue
		}

		n, ok := trailingNumber(utterance[:idx], lang.NumberWords)
		if !ok {
			continue
		}

		pos := len(history) - n
		if pos < 0 || pos >= len(history) {
			return Resolution{Status: StatusUnresolvable}, true
		}
		return Resolution{Status: StatusResolved, Turn: history[pos], Confidence: relativeConfidence}, true
	}
	return Resolution{}, false
}

// resolveOrdinal handles "first", "the second one", "3rd". Index n is the
// n-th turn in chronological (oldest-first) order; out-of-range indices
// are unresolvable, not errors.
func (r *resolver) resolveOrdinal(utterance string, lang *patterns.LanguagePatterns, history []*models.ConversationTurn) (Resolution, bool) {
	index := 0

	if m := digitOrdinalPattern.FindStringSubmatch(utterance); m != nil {
		index, _ = strconv.Atoi(m[1])
	} else {
		// Longest pattern first so "the first one" wins over "first".
		ordered := make([]patterns.OrdinalPattern, len(lang.Ordinals))
		copy(ordered, lang.Ordinals)
		sort.Slice(ordered, func(i, j int) bool {
			return len(ordered[i].Pattern) > len(ordered[j].Pattern)
		})
		for _, o := range ordered {
			if containsPhrase(utterance, o.Pattern) {
				index = o.Index
				break
			}
		}
	}

	if index == 0 {
		return Resolution{}, false
	}
	if index > len(history) {
		return Resolution{Status: StatusUnresolvable}, true
	}
	return Resolution{Status: StatusResolved, Turn: history[index-1], Confidence: ordinalConfidence}, true
}

// resolveTemporal handles superlatives anchored to either end of retained
// history. "first"/"earliest" mean the oldest retained turn; "last"/
// "previous"/"recent" mean the newest stored turn.
func (r *resolver) resolveTemporal(utterance string, lang *patterns.LanguagePatterns, history []*models.ConversationTurn) (Resolution, bool) {
	ordered := make([]patterns.TemporalPattern, len(lang.Temporal))
	copy(ordered, lang.Temporal)
	sort.Slice(ordered, func(i, j int) bool {
		return len(ordered[i].Pattern) > len(ordered[j].Pattern)
	})

	for _, t := range ordered {
		if !containsPhrase(utterance, t.Pattern) {
			continue
		}
		turn := history[0]
		if t.Anchor == patterns.AnchorNewest {
			turn = history[len(history)-1]
		}
		return Resolution{Status: StatusResolved, Turn: turn, Confidence: temporalConfidence}, true
	}
	return Resolution{}, false
}

// resolveDemonstrative handles "that one" style references, which carry no
// position of their own. With a single retained turn the target is clear;
// otherwise candidates are scored by word overlap with each turn and the
// resolver only commits when exactly one candidate clears the threshold
// with a margin over the runner-up.
func (r *resolver) resolveDemonstrative(utterance string, lang *patterns.LanguagePatterns, history []*models.ConversationTurn) (Resolution, bool) {
	matched := false
	for _, d := range lang.Demonstratives {
		if containsPhrase(utterance, d) {
			matched = true
			break
		}
	}
	if !matched {
		return Resolution{}, false
	}

	if len(history) == 1 {
		return Resolution{Status: StatusResolved, Turn: history[0], Confidence: soloDemonstrative}, true
	}

	type scored struct {
		turn       *models.ConversationTurn
		confidence float64
	}
	candidates := make([]scored, 0, len(history))
	for _, turn := range history {
		sim := wordOverlap(utterance, strings.ToLower(turn.Utterance))
		candidates = append(candidates, scored{turn: turn, confidence: 0.5 + 0.5*sim})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].confidence > candidates[j].confidence
	})

	best := candidates[0]
	const margin = 0.1
	if best.confidence >= r.cfg.ConfidenceThreshold && best.confidence-candidates[1].confidence >= margin {
		return Resolution{Status: StatusResolved, Turn: best.turn, Confidence: best.confidence}, true
	}
	return Resolution{Status: StatusAmbiguous}, true
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// trailingNumber parses the last token before a relative marker as a
// number, either digits or a configured number word.
func trailingNumber(prefix string, numberWords map[string]int) (int, bool) {
	fields := strings.Fields(prefix)
	if len(fields) == 0 {
		return 0, false
	}
	last := fields[len(fields)-1]

	if n, err := strconv.Atoi(last); err == nil && n > 0 {
		return n, true
	}
	if n, ok := numberWords[last]; ok && n > 0 {
		return n, true
	}
	return 0, false
}

// wordOverlap is the Jaccard similarity of the word sets of two strings.
func wordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,!?;:'\"")
		if len(w) > 2 { // skip stopword-sized tokens
			set[w] = true
		}
	}
	return set
}
