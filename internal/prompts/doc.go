// Package prompts contains the LLM prompt templates Loresmith sends.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates are compiled in, their placeholders are validated by tests, and
// user-facing tuning (instructions, presets) lives in config.yaml instead.
//
// Convention: each prompt category gets its own file (agent.go,
// compression.go) with an exported function that accepts the dynamic parts
// and returns the fully interpolated prompt string.
package prompts
