// Package orchestrator turns a raw utterance into a structured plan: an
// intent, extracted entities, and either a set of sub-requests ready for
// SQL generation or a clarification demand.
//
// Entity extraction only ever surfaces values present in the utterance or
// carried over from a resolved prior turn. The orchestrator never invents
// an entity to make a request complete; a missing lookup slot becomes a
// clarification, not a guess.
package orchestrator

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/patterns"
	"github.com/ledgerchat/ledgerchat-engine/pkg/resolver"
)

// Orchestrator plans the handling of one utterance.
type Orchestrator interface {
	Orchestrate(ctx context.Context, sessionID uuid.UUID, utterance, language string) (*models.OrchestrationResult, error)
}

// Config holds orchestrator tuning.
type Config struct {
	MaxSubRequests int
}

type orchestrator struct {
	refs    resolver.Resolver
	library *patterns.Library
	cfg     Config
	logger  *zap.Logger
}

// New creates an Orchestrator that resolves turn references through refs.
func New(refs resolver.Resolver, library *patterns.Library, cfg Config, logger *zap.Logger) Orchestrator {
	if cfg.MaxSubRequests <= 0 {
		cfg.MaxSubRequests = 5
	}
	return &orchestrator{
		refs:    refs,
		library: library,
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
	}
}

var _ Orchestrator = (*orchestrator)(nil)

// referenceNumberPattern matches explicit document references such as
// "#1042" or "invoice 1042".
var referenceNumberPattern = regexp.MustCompile(`(?:#|\b(?:invoice|receipt|reference|ref)\s+#?)(\d+)`)

// qualifierSlots are the entity slots broadcast from a compound utterance
// to every sub-request that does not set them locally. The target table is
// never broadcast: each fragment names its own subject.
var qualifierSlots = []string{
	models.SlotProject,
	models.SlotCategory,
	models.SlotCounterparty,
	models.SlotDateRange,
}

// Orchestrate classifies the utterance, resolves any turn reference,
// splits compound questions, and decides between generation and
// clarification.
//
// A turn-store failure during resolution degrades to "no context" rather
// than failing the request: the current utterance is still answerable on
// its own.
func (o *orchestrator) Orchestrate(ctx context.Context, sessionID uuid.UUID, utterance, language string) (*models.OrchestrationResult, error) {
	lang := o.library.Language(language)
	lowered := strings.ToLower(utterance)

	resolution, err := o.refs.Resolve(ctx, sessionID, utterance, language)
	if err != nil {
		o.logger.Warn("reference resolution degraded to no context",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		resolution = resolver.Resolution{Status: resolver.StatusNoReference}
	}

	if resolution.Status == resolver.StatusAmbiguous {
		return &models.OrchestrationResult{
			Intent:             classifyIntent(lowered, lang),
			Entities:           map[string]string{},
			NeedsClarification: true,
			ClarifySlot:        models.SlotTurnReference,
			Confidence:         resolution.Confidence,
		}, nil
	}

	fragments := o.split(lowered, lang)
	parentEntities, _ := extractEntities(lowered, lang)

	subRequests := make([]models.SubRequest, 0, len(fragments))
	for _, fragment := range fragments {
		intent := classifyIntent(fragment, lang)
		entities, _ := extractEntities(fragment, lang)

		// Qualifier broadcast: parent-level qualifiers apply to every
		// fragment unless the fragment sets its own.
		for _, slot := range qualifierSlots {
			if _, ok := entities[slot]; ok {
				continue
			}
			if v, ok := parentEntities[slot]; ok {
				entities[slot] = v
			}
		}

		mergeTurnContext(entities, &intent, resolution)
		subRequests = append(subRequests, models.SubRequest{
			Utterance: fragment,
			Intent:    intent,
			Entities:  entities,
		})
	}

	if len(subRequests) > 1 {
		return &models.OrchestrationResult{
			Intent:      models.IntentMultiQuery,
			Entities:    parentEntities,
			SubRequests: subRequests,
			Confidence:  0.9,
		}, nil
	}

	single := subRequests[0]
	if slot, ok := missingLookupSlot(lowered, single.Entities, lang); ok {
		return &models.OrchestrationResult{
			Intent:             single.Intent,
			Entities:           single.Entities,
			NeedsClarification: true,
			ClarifySlot:        slot,
			Confidence:         0.9,
		}, nil
	}

	confidence := 0.9
	if !hasIntentKeyword(single.Utterance, lang) {
		confidence = 0.7 // defaulted LOOKUP
	}
	// SubRequests stays empty: it is the multi-query fan-out list, and a
	// single question has nothing to fan out.
	return &models.OrchestrationResult{
		Intent:     single.Intent,
		Entities:   single.Entities,
		Confidence: confidence,
	}, nil
}

// split carves a compound utterance into independent fragments on
// configured conjunctions. A fragment only stands alone when it reads as a
// question of its own (an intent keyword or a table noun); otherwise the
// conjunction is treated as part of a single question ("expenses and
// invoices for acme" stays whole).
func (o *orchestrator) split(utterance string, lang *patterns.LanguagePatterns) []string {
	parts := []string{utterance}
	for _, conj := range lang.Conjunctions {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, conj)...)
		}
		parts = next
	}

	var fragments []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if hasIntentKeyword(p, lang) || hasTableNoun(p, lang) {
			fragments = append(fragments, p)
		}
	}

	if len(fragments) < 2 {
		return []string{utterance}
	}
	if len(fragments) > o.cfg.MaxSubRequests {
		o.logger.Warn("compound utterance truncated",
			zap.Int("fragments", len(fragments)),
			zap.Int("max", o.cfg.MaxSubRequests))
		fragments = fragments[:o.cfg.MaxSubRequests]
	}
	return fragments
}

// classifyIntent picks the intent whose keyword matches earliest in the
// utterance; ties go to the longer keyword. Without a match the intent
// defaults to LOOKUP.
func classifyIntent(utterance string, lang *patterns.LanguagePatterns) models.Intent {
	intentByKey := map[string]models.Intent{
		"count":   models.IntentCount,
		"sum":     models.IntentSum,
		"average": models.IntentAverage,
		"locate":  models.IntentLocate,
	}

	best := models.IntentLookup
	bestPos := len(utterance) + 1
	bestLen := 0

	// Iterate in fixed order for deterministic tie-breaking.
	keys := make([]string, 0, len(lang.IntentKeywords))
	for key := range lang.IntentKeywords {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		intent, ok := intentByKey[key]
		if !ok {
			continue
		}
		for _, kw := range lang.IntentKeywords[key] {
			pos := phraseIndex(utterance, kw)
			if pos < 0 {
				continue
			}
			if pos < bestPos || (pos == bestPos && len(kw) > bestLen) {
				best = intent
				bestPos = pos
				bestLen = len(kw)
			}
		}
	}
	return best
}

// extractEntities pulls every recognizable entity out of the utterance:
// target table, lookup-slot values, date ranges and reference numbers.
// The second return lists lookup slots whose cue appeared without a value.
func extractEntities(utterance string, lang *patterns.LanguagePatterns) (map[string]string, []string) {
	entities := make(map[string]string)
	var unfilled []string

	for _, slot := range []string{models.SlotProject, models.SlotCategory, models.SlotCounterparty} {
		cues := lang.SlotCues[slot]
		value, cued := captureSlotValue(utterance, cues, lang)
		if value != "" {
			entities[slot] = value
		} else if cued {
			unfilled = append(unfilled, slot)
		}
	}

	// "project riverside" names a qualifier, not the query subject; with a
	// project value captured, the project noun no longer counts as a table.
	skip := map[string]bool{}
	if _, ok := entities[models.SlotProject]; ok {
		skip["projects"] = true
	}
	if table := findTableNoun(utterance, lang, skip); table != "" {
		entities[models.SlotTable] = table
	}

	for _, cue := range lang.DateCues {
		if phraseIndex(utterance, cue) >= 0 {
			entities[models.SlotDateRange] = cue
			break
		}
	}

	if m := referenceNumberPattern.FindStringSubmatch(utterance); m != nil {
		entities[models.SlotReference] = m[1]
	}

	return entities, unfilled
}

// captureSlotValue looks for a slot cue and captures the value phrase
// following it ("for project riverside" -> "riverside"). cued is true when
// a cue appeared at all, even with nothing capturable after it.
func captureSlotValue(utterance string, cues []string, lang *patterns.LanguagePatterns) (value string, cued bool) {
	for _, cue := range cues {
		pos := phraseIndex(utterance, cue)
		if pos < 0 {
			continue
		}
		cued = true

		rest := utterance[pos+len(cue):]
		if v := valuePhrase(rest, lang); v != "" {
			return v, true
		}
	}
	return "", cued
}

// valueStopWords end a captured value phrase.
var valueStopWords = map[string]bool{
	"and": true, "also": true, "for": true, "in": true, "on": true,
	"during": true, "with": true, "from": true, "by": true, "the": true,
	"a": true, "an": true, "of": true, "this": true, "that": true,
	"last": true, "to": true, "at": true, "how": true, "what": true,
	"which": true, "where": true, "when": true, "show": true, "but": true,
}

// valuePhrase reads the leading value tokens from the text following a
// slot cue, stopping at stop words, date cues and punctuation. Capture is
// capped at three tokens; real entity names are short.
func valuePhrase(rest string, lang *patterns.LanguagePatterns) string {
	rest = strings.TrimLeft(rest, " \t")
	if i := strings.IndexAny(rest, ".,;?!"); i >= 0 {
		rest = rest[:i]
	}

	var captured []string
	for _, token := range strings.Fields(rest) {
		if valueStopWords[token] || isDateCueToken(token, lang) {
			break
		}
		captured = append(captured, token)
		if len(captured) == 3 {
			break
		}
	}
	return strings.Join(captured, " ")
}

func isDateCueToken(token string, lang *patterns.LanguagePatterns) bool {
	for _, cue := range lang.DateCues {
		if strings.HasPrefix(cue, token) {
			return true
		}
	}
	return false
}

// findTableNoun maps the first table noun in the utterance to its backing
// table, skipping tables in skip. Longer nouns win so "cash flow" beats
// "cash".
func findTableNoun(utterance string, lang *patterns.LanguagePatterns, skip map[string]bool) string {
	nouns := make([]string, 0, len(lang.TableNouns))
	for noun := range lang.TableNouns {
		nouns = append(nouns, noun)
	}
	sort.Slice(nouns, func(i, j int) bool {
		if len(nouns[i]) != len(nouns[j]) {
			return len(nouns[i]) > len(nouns[j])
		}
		return nouns[i] < nouns[j]
	})

	for _, noun := range nouns {
		if skip[lang.TableNouns[noun]] {
			continue
		}
		if phraseIndex(utterance, noun) >= 0 {
			return lang.TableNouns[noun]
		}
	}
	return ""
}

func hasTableNoun(utterance string, lang *patterns.LanguagePatterns) bool {
	return findTableNoun(utterance, lang, nil) != ""
}

func hasIntentKeyword(utterance string, lang *patterns.LanguagePatterns) bool {
	for _, kws := range lang.IntentKeywords {
		for _, kw := range kws {
			if phraseIndex(utterance, kw) >= 0 {
				return true
			}
		}
	}
	return false
}

// mergeTurnContext fills entity slots from a resolved prior turn. Local
// extraction wins; only absent slots inherit. A bare follow-up with no
// intent keyword of its own also inherits the prior turn's intent.
func mergeTurnContext(entities map[string]string, intent *models.Intent, resolution resolver.Resolution) {
	if resolution.Status != resolver.StatusResolved || resolution.Turn == nil {
		return
	}
	turn := resolution.Turn

	inheritable := []string{
		models.SlotTable,
		models.SlotProject,
		models.SlotCategory,
		models.SlotCounterparty,
		models.SlotDateRange,
		models.SlotReference,
	}
	for _, slot := range inheritable {
		if _, ok := entities[slot]; ok {
			continue
		}
		if v := turn.MetadataValue(slot); v != "" {
			entities[slot] = v
		}
	}

	if *intent == models.IntentLookup {
		if prior := models.Intent(turn.MetadataValue(models.MetaIntent)); prior.IsValid() && prior != models.IntentMultiQuery {
			*intent = prior
		}
	}
}

// missingLookupSlot reports a lookup slot that needs clarification: its cue
// appeared in the utterance but no value could be captured.
func missingLookupSlot(utterance string, entities map[string]string, lang *patterns.LanguagePatterns) (string, bool) {
	_, unfilled := extractEntities(utterance, lang)
	for _, slot := range unfilled {
		if !models.LookupSlots[slot] {
			continue
		}
		if _, ok := entities[slot]; ok {
			continue // inherited from a resolved turn
		}
		return slot, true
	}
	return "", false
}

// phraseIndex returns the byte offset of phrase in text on word
// boundaries, or -1.
func phraseIndex(text, phrase string) int {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return -1
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return start
		}
		idx = start + 1
	}
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
