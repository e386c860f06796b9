package orchestrator

// DefaultSystemPrompt is used when neither the request nor WithSystemPrompt
// provides one.
const DefaultSystemPrompt = `You are the Rainbow City AI assistant. You answer questions about the Rainbow City system, its AI-IDs, frequency numbers and relationship management.

When a question needs data you do not have, call one of the available tools instead of guessing:
- generate_ai_id creates a new AI-ID.
- generate_frequency derives the frequency number of an AI-ID.
- get_weather looks up a weather forecast.
- web_search and fetch_url find current information online.

If a tool reports a failure, tell the user briefly and answer as well as you can without it. Reply in the language the user writes in.`

// DefaultFatalMessage is the single assistant message shown when a turn
// fails.
const DefaultFatalMessage = "Sorry, I can't reach the AI service right now. Please try again in a moment."

// summaryLimit bounds ExecutedToolCall.ResultSummary.
const summaryLimit = 200

func summarize(s string) string {
	r := []rune(s)
	if len(r) <= summaryLimit {
		return s
	}
	return string(r[:summaryLimit]) + "..."
}
