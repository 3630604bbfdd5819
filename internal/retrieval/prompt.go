package retrieval

import (
	"strings"

	"docchat/internal/ai"
	"docchat/internal/model"
)

const (
	instruction = "Use the following pieces of context (or previous conversation if needed) to answer the user's question in markdown format."
	decline     = "If you don't know the answer, just say that you don't know, don't try to make up an answer."
	separator   = "\n----------------\n"
)

// AssemblePrompt renders the system instruction and a single user payload
// holding the transcript, the passages and the question. history must be
// oldest first.
func AssemblePrompt(passages []Passage, history []model.Message, question string) []ai.ChatMessage {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n")
	b.WriteString(decline)
	b.WriteString("\n")
	b.WriteString(separator)

	b.WriteString("\nPREVIOUS CONVERSATION:\n")
	for _, msg := range history {
		if msg.IsUserMessage {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(msg.Text)
		b.WriteString("\n")
	}
	b.WriteString(separator)

	b.WriteString("\nCONTEXT:\n")
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	b.WriteString(strings.Join(texts, "\n\n"))
	b.WriteString("\n\n")

	b.WriteString("USER INPUT: ")
	b.WriteString(question)

	return []ai.ChatMessage{
		{Role: "system", Content: instruction + " " + decline},
		{Role: "user", Content: b.String()},
	}
}
