package extract

import "strings"

const systemPreamble = `You are a precise data extraction assistant. Read unstructured text and extract structured information.

Return ONLY a single valid JSON object matching this contract:

`

const systemRules = `
RULES:
1. Return ONLY the JSON object: no markdown, no code fences, no explanations, no schema.
2. Fill every field with data extracted from the text.
3. For fields you cannot determine, use null (optional fields) or [] (lists).
4. confidence_score: a float between 0.0 and 1.0 reflecting how certain the extraction is.
5. Do NOT return the schema definition; return the EXTRACTED DATA.
6. Do NOT invent or hallucinate data.`

const userPreamble = "Extract structured data from this text:\n\n"

// SystemPrompt builds the system message around a schema contract.
func SystemPrompt(contract string) string {
	var sb strings.Builder
	sb.Grow(len(systemPreamble) + len(contract) + len(systemRules))
	sb.WriteString(systemPreamble)
	sb.WriteString(contract)
	sb.WriteString(systemRules)
	return sb.String()
}

// UserPrompt builds the user message carrying the document text.
func UserPrompt(text string) string {
	return userPreamble + text
}
