package router

import "github.com/ghostkellz/zeke/internal/llm"

// EstimateComplexity derives a request's complexity. Precedence:
// explicit tag, intent, then size heuristics.
func EstimateComplexity(req llm.ChatRequest) llm.Complexity {
	switch req.Tags.Complexity {
	case string(llm.ComplexitySimple):
		return llm.ComplexitySimple
	case string(llm.ComplexityMedium):
		return llm.ComplexityMedium
	case string(llm.ComplexityComplex):
		return llm.ComplexityComplex
	}

	switch llm.ParseIntent(req.Tags.Intent) {
	case llm.IntentCompletion:
		return llm.ComplexitySimple
	case llm.IntentArchitecture, llm.IntentReason:
		return llm.ComplexityComplex
	}

	promptLen := len(req.PromptText())
	switch {
	case promptLen < 200 && req.MaxTokens <= 512:
		return llm.ComplexitySimple
	case promptLen > 2000 || req.MaxTokens > 2048:
		return llm.ComplexityComplex
	default:
		return llm.ComplexityMedium
	}
}
