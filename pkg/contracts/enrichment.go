package contracts

// Intent is the closed set of inferred event intents.
type Intent string

const (
	IntentDeployNewVersion   Intent = "deploy_new_version"
	IntentAdjustCapacity     Intent = "adjust_capacity"
	IntentSignalDegradation  Intent = "signal_degradation"
	IntentUnknown            Intent = "unknown_intent"
)

// EnrichedEvent is the output of the Enrichment pipeline.
type EnrichedEvent struct {
	EventID         string         `json:"event_id"`
	Original        Event          `json:"original_event"`
	SignerIdentity  string         `json:"signer_identity"`
	Intent          Intent         `json:"intent"`
	Context         map[string]any `json:"context"`
	ExpectedOutcome string         `json:"expected_outcome"`
	Confidence      float64        `json:"confidence"`
	Risk            float64        `json:"risk"`
}
