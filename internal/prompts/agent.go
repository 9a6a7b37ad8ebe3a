package prompts

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how the agent behaves during a run.
type Mode string

const (
	// ModePlan is advisory: the model may propose tool calls but none
	// are executed.
	ModePlan Mode = "plan"
	// ModeBuild lets the agent execute tools and change the workspace.
	ModeBuild Mode = "build"
)

// ParseMode accepts "plan" or "build" in any case. Empty means build.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBuild:
		return ModeBuild, nil
	case ModePlan:
		return ModePlan, nil
	default:
		return "", fmt.Errorf("unknown agent mode %q (valid: plan, build)", s)
	}
}

// Vars are the live values substituted into the agent system prompt.
type Vars struct {
	Character    string // serialized character record
	LoreCount    int
	LoreSummary  string
	ResearchURL  string
	Instructions string // user instructions and preset text
	Tools        string // tool catalog from the registry
}

const sharedContext = `## Current character
{{character}}

## Lorebook
{{lore_count}} entries. {{lore_summary}}

## Research source
{{research_url}}

## Additional instructions
{{instructions}}`

const buildTemplate = `You are Loresmith, an autonomous assistant that builds roleplay character cards and lorebooks.

Work in short think, act, observe cycles. Research the subject with the tools below, store what you find, then write it into the character and lorebook. Each cycle you may call one or more tools; their output is returned to you before the next cycle. When the work is done, or you need the user's input, answer in plain text without calling any tool.

Rules:
- Ground every fact in a stored document. Fetch a page before you write about it.
- Prefer many small lorebook entries with specific keys over one large entry.
- Compress long documents before reading them in full.
- Do not invent tool names. Arguments must be a single JSON object.

` + sharedContext + `

{{tools}}`

const planTemplate = `You are Loresmith, an assistant that plans roleplay character cards and lorebooks.

You are in PLAN mode. Tools are disabled: nothing you request will be executed. Discuss the subject with the user, outline the character fields and lorebook entries you would write, and name the research you would do. If you sketch a tool call, present it as a proposal.

` + sharedContext + `

{{tools}}`

// AgentSystemPrompt returns the system prompt for mode with vars filled in.
func AgentSystemPrompt(mode Mode, v Vars) string {
	tmpl := buildTemplate
	if mode == ModePlan {
		tmpl = planTemplate
	}

	r := strings.NewReplacer(
		"{{character}}", orNone(v.Character),
		"{{lore_count}}", strconv.Itoa(v.LoreCount),
		"{{lore_summary}}", v.LoreSummary,
		"{{research_url}}", orNone(v.ResearchURL),
		"{{instructions}}", orNone(v.Instructions),
		"{{tools}}", v.Tools,
	)
	return strings.TrimSpace(r.Replace(tmpl))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
