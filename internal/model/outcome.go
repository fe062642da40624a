package model

// Outcome classifies how an extraction attempt or a whole document ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeParseFailure      Outcome = "parse_failure"
	OutcomeValidationFailure Outcome = "validation_failure"
	OutcomeNetworkFailure    Outcome = "network_failure"
	OutcomeUnknownSchema     Outcome = "unknown_schema"
	OutcomeUnresolvedSchema  Outcome = "unresolved_schema"
	OutcomeStoreFailure      Outcome = "store_failure"
	OutcomeCancelled         Outcome = "cancelled"
)

// AllOutcomes lists every outcome in display order.
var AllOutcomes = []Outcome{
	OutcomeSuccess,
	OutcomeParseFailure,
	OutcomeValidationFailure,
	OutcomeNetworkFailure,
	OutcomeUnknownSchema,
	OutcomeUnresolvedSchema,
	OutcomeStoreFailure,
	OutcomeCancelled,
}

// IsFailure reports whether the outcome ends a document without a record.
func (o Outcome) IsFailure() bool {
	return o != OutcomeSuccess && o != ""
}

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	for _, known := range AllOutcomes {
		if o == known {
			return true
		}
	}
	return false
}
