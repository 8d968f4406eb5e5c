package chat

import (
	"fmt"
	"strings"

	"github.com/ashureev/finchat/internal/domain"
)

// Preference keys the orchestrator understands.
const (
	PrefName     = "name"
	PrefCurrency = "currency"
)

const toolInstruction = "If user asks about their data, use the SQL DB via the SQL tool. Keep answers concise, INR by default."

// BuildPrompt composes the agent prompt from the session's preferences, its
// recent turns (oldest first) and the new message.
func BuildPrompt(prefs map[string]domain.Value, recent []domain.Turn, message string) string {
	var persona []string
	if name, ok := prefs[PrefName]; ok && name.Truthy() {
		persona = append(persona, fmt.Sprintf("User prefers to be addressed as %s.", name.Text()))
	}
	if currency, ok := prefs[PrefCurrency]; ok && currency.Truthy() {
		persona = append(persona, fmt.Sprintf("Default currency is %s.", currency.Text()))
	}
	persona = append(persona, toolInstruction)

	turns := make([]string, 0, len(recent))
	for _, t := range recent {
		turns = append(turns, "User: "+t.User+"\nBot: "+t.Bot)
	}

	return strings.Join([]string{
		"Context:",
		strings.Join(persona, "\n"),
		"Conversation (latest first):",
		strings.Join(turns, "\n"),
		"\nUser message:",
		message,
	}, "\n")
}
