package models

// Intent classifies what a user utterance is asking for.
// The set is closed: new intents are additions here plus a handler in the
// pipeline's dispatch table, so a missing case fails at review time rather
// than silently at runtime.
type Intent string

const (
	IntentLookup     Intent = "LOOKUP"
	IntentCount      Intent = "COUNT"
	IntentSum        Intent = "SUM"
	IntentAverage    Intent = "AVERAGE"
	IntentMultiQuery Intent = "MULTI_QUERY"
	IntentLocate     Intent = "LOCATE"
)

// AllIntents lists every valid intent.
var AllIntents = []Intent{
	IntentLookup,
	IntentCount,
	IntentSum,
	IntentAverage,
	IntentMultiQuery,
	IntentLocate,
}

// IsValid reports whether i is a member of the closed intent set.
func (i Intent) IsValid() bool {
	switch i {
	case IntentLookup, IntentCount, IntentSum, IntentAverage, IntentMultiQuery, IntentLocate:
		return true
	default:
		return false
	}
}

// IsAggregate reports whether the intent aggregates rows rather than
// returning them. Aggregate intents are the only ones allowed to omit a
// LIMIT clause and the only ones offered a synthetic "all" clarification
// option.
func (i Intent) IsAggregate() bool {
	switch i {
	case IntentCount, IntentSum, IntentAverage:
		return true
	default:
		return false
	}
}
