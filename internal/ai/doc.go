// Package ai provides the LLM participants of a debate.
//
// Each configured backend becomes a Client that can analyze a task, review a
// peer's analysis and take a debate turn. Backend kinds form a closed set:
//
//   - openai: chat completions through go-openai, streamed and assembled
//   - gemini: the same client against Gemini's OpenAI-compatible endpoint
//   - codex: the ChatGPT Codex Responses stream, authorized with OAuth
//   - claude: the local claude CLI in print mode
//
// Responses are sanitized (code fences, trailing commas) and validated before
// they are returned. A response that fails validation is reported as an
// error, never as a weak result. When a backend answers 401 the client
// invalidates its token, re-authenticates once and retries; a second 401 is a
// RetryLimitExceededError.
package ai
