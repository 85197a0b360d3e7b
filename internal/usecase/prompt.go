package usecase

import (
	"strconv"
	"strings"

	"incident-assistant/internal/domain/model"
)

const noHistoryMarker = "[No conversation history]"

// failurePatterns is the catalogue the model is asked to match incidents against.
var failurePatterns = []string{
	"Timeouts and latency cascades (slow dependency, exhausted pools, missing deadlines)",
	"Retry storms and thundering herds (synchronized retries, no backoff or jitter)",
	"Resource exhaustion (memory, file descriptors, disk, connection limits)",
	"Bad deploy or config change (regression correlated with a rollout)",
	"Regional or zonal outage (errors isolated to one region, AZ or provider)",
	"Dependency failure (DNS, certificates, third-party API, database failover)",
	"Data or schema mismatch (serialization errors, migrations, contract drift)",
}

// requiredSections are the headings every analysis must contain, in order.
var requiredSections = []string{
	"Most likely pattern",
	"Top 3 hypotheses",
	"What to check next",
	"What would change my mind",
}

// ComposePrompt renders the conversation so far plus the new input into one
// instruction prompt. Output depends on its inputs only.
func ComposePrompt(userText string, history []model.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("You are an experienced site reliability engineer helping to analyse a production incident.\n\n")

	b.WriteString("Known failure patterns:\n")
	for _, p := range failurePatterns {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}

	b.WriteString("\nConversation History:\n")
	b.WriteString(formatHistory(history))
	b.WriteString("\n\n")

	b.WriteString("New Input (Logs / Description):\n")
	b.WriteString(userText)
	b.WriteString("\n\n")

	b.WriteString("User Message:\n")
	b.WriteString(userText)
	b.WriteString("\n\n")

	b.WriteString("Respond with exactly these sections, each on its own line followed by a colon:\n")
	for i, s := range requiredSections {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(s)
		b.WriteString(":\n")
	}
	b.WriteString("\nOnly use facts present in the input or the conversation history. ")
	b.WriteString("Do not invent hostnames, metrics, timestamps or error messages; say what is unknown instead.")
	return b.String()
}

func formatHistory(history []model.ConversationTurn) string {
	if len(history) == 0 {
		return noHistoryMarker
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		lines = append(lines, "["+strings.ToUpper(string(turn.Role))+"]: "+turn.Text)
	}
	return strings.Join(lines, "\n")
}
