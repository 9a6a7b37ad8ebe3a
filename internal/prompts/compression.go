package prompts

import "fmt"

// Compression modes accepted by the compress_document tool.
const (
	CompressSummary   = "summary"
	CompressCharacter = "character"
	CompressLore      = "lore"
)

const compressionSummary = `You compress research documents for a character-card author.
Rewrite the document the user sends as a dense factual summary. Keep names, titles, relationships, abilities, dates and quotes that reveal personality. Drop navigation text, trivia lists and anything unrelated to the subject. Output only the summary, in Markdown.`

const compressionCharacter = `You extract character details for a roleplay character card.
From the document the user sends, keep only what describes the subject as a character: appearance, personality, speech patterns, motivations, relationships, history and notable quotes. Output concise Markdown sections with those headings. Output nothing else.`

const compressionLore = `You extract world lore for a roleplay lorebook.
From the document the user sends, list every distinct place, faction, item, event, technique or term. For each, give a bold name and two or three sentences of facts. Omit the main character's personal details. Output only the list.`

// CompressionPrompt returns the system prompt for a compression mode.
func CompressionPrompt(mode string) (string, error) {
	switch mode {
	case CompressSummary, "":
		return compressionSummary, nil
	case CompressCharacter:
		return compressionCharacter, nil
	case CompressLore:
		return compressionLore, nil
	default:
		return "", fmt.Errorf("unknown compression mode %q (valid: summary, character, lore)", mode)
	}
}
