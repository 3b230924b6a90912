package models

// EstimateTokens approximates the token count of text as ceil(len/4).
// Every component that budgets tokens uses this estimate, so budget
// arithmetic stays consistent across the pipeline.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
