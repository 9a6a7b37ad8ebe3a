package prompts

import (
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeBuild, false},
		{"build", ModeBuild, false},
		{" PLAN ", ModePlan, false},
		{"yolo", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAgentSystemPrompt(t *testing.T) {
	v := Vars{
		Character:    `{"name":"Artoria"}`,
		LoreCount:    2,
		LoreSummary:  "2 entries: Excalibur, Avalon",
		ResearchURL:  "https://typemoon.fandom.com",
		Instructions: "Write in English.",
		Tools:        "## Tools\n### wiki_search",
	}

	for _, mode := range []Mode{ModeBuild, ModePlan} {
		t.Run(string(mode), func(t *testing.T) {
			got := AgentSystemPrompt(mode, v)
			for _, want := range []string{
				`{"name":"Artoria"}`,
				"2 entries. 2 entries: Excalibur, Avalon",
				"https://typemoon.fandom.com",
				"Write in English.",
				"### wiki_search",
			} {
				if !strings.Contains(got, want) {
					t.Errorf("prompt missing %q", want)
				}
			}
			if strings.Contains(got, "{{") {
				t.Errorf("unreplaced placeholder in prompt:\n%s", got)
			}
		})
	}

	if !strings.Contains(AgentSystemPrompt(ModePlan, v), "PLAN mode") {
		t.Error("plan prompt should announce plan mode")
	}
}

func TestAgentSystemPrompt_EmptyVars(t *testing.T) {
	got := AgentSystemPrompt(ModeBuild, Vars{})
	if !strings.Contains(got, "(none)") {
		t.Errorf("empty vars should render (none):\n%s", got)
	}
}

func TestAgentSystemPrompt_NoRecursiveExpansion(t *testing.T) {
	got := AgentSystemPrompt(ModeBuild, Vars{Character: "{{tools}}", Tools: "CATALOG"})
	if strings.Count(got, "CATALOG") != 1 {
		t.Errorf("placeholder inside a value was expanded:\n%s", got)
	}
}

func TestCompressionPrompt(t *testing.T) {
	for _, mode := range []string{CompressSummary, CompressCharacter, CompressLore, ""} {
		p, err := CompressionPrompt(mode)
		if err != nil || p == "" {
			t.Errorf("CompressionPrompt(%q) = %q, %v", mode, p, err)
		}
	}
	if _, err := CompressionPrompt("haiku"); err == nil {
		t.Error("unknown mode should error")
	}
}
