package provider

// ModelDescriptor holds the context-budget limits for one model. The
// thresholds drive the context manager: TokenThreshold and
// SummarizationThreshold decide when older history gets summarized,
// TokenCeiling bounds the assembled window, ResponseBudget caps the
// completion we ask for.
type ModelDescriptor struct {
	Name                   string
	TokenCeiling           int
	ResponseBudget         int
	SummarizationThreshold int // turn count
	TokenThreshold         int
}

// DefaultModel is used when a requested model is unknown.
const DefaultModel = "gpt-4o-mini"

var modelLimits = map[string]ModelDescriptor{
	"gpt-4o-mini": {
		Name:                   "gpt-4o-mini",
		TokenCeiling:           8000,
		ResponseBudget:         1000,
		SummarizationThreshold: 14,
		TokenThreshold:         5000,
	},
	"gpt-4o": {
		Name:                   "gpt-4o",
		TokenCeiling:           128000,
		ResponseBudget:         1000,
		SummarizationThreshold: 50,
		TokenThreshold:         80000,
	},
	"gpt-3.5-turbo": {
		Name:                   "gpt-3.5-turbo",
		TokenCeiling:           4096,
		ResponseBudget:         1000,
		SummarizationThreshold: 10,
		TokenThreshold:         2500,
	},
	"mistral-large-latest": {
		Name:                   "mistral-large-latest",
		TokenCeiling:           32000,
		ResponseBudget:         1000,
		SummarizationThreshold: 25,
		TokenThreshold:         20000,
	},
	"claude-3-haiku": {
		Name:                   "claude-3-haiku",
		TokenCeiling:           200000,
		ResponseBudget:         1000,
		SummarizationThreshold: 60,
		TokenThreshold:         125000,
	},
	"claude-3-sonnet": {
		Name:                   "claude-3-sonnet",
		TokenCeiling:           200000,
		ResponseBudget:         1000,
		SummarizationThreshold: 60,
		TokenThreshold:         125000,
	},
}

// LimitsFor returns the descriptor for the named model, falling back to the
// DefaultModel descriptor when the name is unknown.
func LimitsFor(modelName string) ModelDescriptor {
	if d, ok := modelLimits[modelName]; ok {
		return d
	}
	return modelLimits[DefaultModel]
}

// AvailableTokens returns the context budget for the model: the ceiling
// minus a 20% reserve for response generation.
func (d ModelDescriptor) AvailableTokens() int {
	return int(float64(d.TokenCeiling) * 0.8)
}
