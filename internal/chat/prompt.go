package chat

import (
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/uzhavan/uzhavan/internal/rag"
	"github.com/uzhavan/uzhavan/internal/session"
)

// DefaultSystemInstruction is the assistant persona used when no override
// is configured.
const DefaultSystemInstruction = `You are Uzhavan, a knowledgeable farming assistant for farmers in Tamil Nadu, India.

You help farmers with crop selection, irrigation, pest and disease management, soil health, fertilizers, government schemes, and market guidance. Give practical, season-aware advice suited to Tamil Nadu's climate and common local crops such as paddy, sugarcane, banana, groundnut, cotton, and chilli.

Answer clearly and concisely. If the farmer writes in Tamil, reply in Tamil. When you are not sure, say so rather than guessing, and suggest consulting the local agricultural extension office.`

const (
	historyHeader = "Recent conversation:"

	retrievalHeader = "Use the following reference information when it is relevant to the question:"
)

// PromptInput is everything needed to assemble one turn's prompt.
type PromptInput struct {
	// Instruction is the base persona. Blank selects
	// DefaultSystemInstruction.
	Instruction string

	// History is the trimmed conversation window, oldest first.
	History []session.Message

	// Retrieval is the outcome of the retrieval stage. Degraded or empty
	// retrieval contributes no block.
	Retrieval rag.Result

	// UserMessage is the new message for this turn.
	UserMessage string
}

// Prompt is an assembled model request: a system instruction carrying the
// persona, history window, and retrieved context, plus the new user
// message as the sole conversation turn.
type Prompt struct {
	System   string
	Messages []*ai.Message
	// UsedRetrieval records whether a retrieval block was included.
	UsedRetrieval bool
	// UsedHistory records whether a history block was included.
	UsedHistory bool
}

// Assemble builds the model prompt for one turn. It is a pure function:
// same input, same prompt.
//
// Block order in the system instruction is fixed: persona, history,
// retrieved context. Empty blocks are omitted entirely.
func Assemble(in PromptInput) Prompt {
	instruction := in.Instruction
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultSystemInstruction
	}

	blocks := []string{instruction}

	var usedHistory bool
	if block := renderHistory(in.History); block != "" {
		blocks = append(blocks, block)
		usedHistory = true
	}

	var usedRetrieval bool
	if block := renderRetrieval(in.Retrieval); block != "" {
		blocks = append(blocks, block)
		usedRetrieval = true
	}

	return Prompt{
		System: strings.Join(blocks, "\n\n"),
		Messages: []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart(in.UserMessage)),
		},
		UsedRetrieval: usedRetrieval,
		UsedHistory:   usedHistory,
	}
}

// WithoutRetrieval re-assembles the prompt minus the retrieval block.
// Used for the ungrounded fallback attempt after a generation failure.
func WithoutRetrieval(in PromptInput) Prompt {
	in.Retrieval = rag.Result{}
	return Assemble(in)
}

// renderHistory renders the history window as "Role: text" lines.
// Messages with unknown senders or blank content are skipped.
func renderHistory(history []session.Message) string {
	var lines []string
	for _, msg := range history {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		role, ok := roleLabel(msg.Sender)
		if !ok {
			continue
		}
		lines = append(lines, role+": "+text)
	}
	if len(lines) == 0 {
		return ""
	}
	return historyHeader + "\n" + strings.Join(lines, "\n")
}

// renderRetrieval renders retrieved passages separated by blank lines.
// Degraded or empty retrieval yields no block.
func renderRetrieval(res rag.Result) string {
	if res.Degraded || len(res.Passages) == 0 {
		return ""
	}
	texts := make([]string, 0, len(res.Passages))
	for _, p := range res.Passages {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return ""
	}
	return retrievalHeader + "\n\n" + strings.Join(texts, "\n\n")
}

func roleLabel(s session.Sender) (string, bool) {
	switch s {
	case session.SenderUser:
		return "User", true
	case session.SenderAI:
		return "Assistant", true
	case session.SenderSystem:
		return "System", true
	}
	return "", false
}
