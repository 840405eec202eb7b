package completion

import (
	"encoding/json"
	"fmt"
	"strings"

	"stagehand/internal/domain"
	"stagehand/internal/domain/models"
	"stagehand/internal/domain/services"
	"stagehand/internal/turntree"
)

// directiveMarker prefixes out-of-character stage directions in the
// linearized transcript so models can tell them from in-scene dialogue.
const directiveMarker = "[DIRECTIVE] "

// structuredResponseInstruction is the closing system message of every
// completion request. Providers that support a JSON response mode get it
// enforced twice: once here and once at the wire level.
const structuredResponseInstruction = `Respond with a single JSON object and nothing else. Top-level fields:
- "performance" (string, required): your in-character reply.
- "vectors" (object, optional): stage direction strings "location", "posture", "direction", "momentum".
- "evolution" (object, optional): strings "self_perception", "private_knowledge", "note_to_future_self".
- "meta" (string, optional): out-of-character commentary.
Do not wrap the object in markdown fences.`

// PromptFrame brackets the linearized branch: Preamble carries the
// assistant's persona and the production scenario, Closing the structured
// response contract. Both are sent as system messages.
type PromptFrame struct {
	Preamble string
	Closing  string
}

// BuildFrame assembles the prompt frame for one generation.
func BuildFrame(production *models.Production, assistant *models.Assistant) PromptFrame {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", assistant.Name)
	if assistant.Persona != "" {
		b.WriteString("\n\n")
		b.WriteString(assistant.Persona)
	}
	if production.Scenario != "" {
		fmt.Fprintf(&b, "\n\nScenario:\n%s", production.Scenario)
	}
	return PromptFrame{
		Preamble: b.String(),
		Closing:  structuredResponseInstruction,
	}
}

// openingDirective is the user turn synthesized for an empty branch, so
// providers that require at least one non-system message get one. Used
// when an assistant opens a production.
const openingDirective = directiveMarker + "Begin the scene."

// FrameOnly returns the message list for an empty branch: the framing
// system messages around a synthetic opening directive.
func FrameOnly(frame PromptFrame) []services.Message {
	var messages []services.Message
	if frame.Preamble != "" {
		messages = append(messages, services.Message{Role: services.MessageRoleSystem, Text: frame.Preamble})
	}
	messages = append(messages, services.Message{Role: services.MessageRoleUser, Text: openingDirective})
	if frame.Closing != "" {
		messages = append(messages, services.Message{Role: services.MessageRoleSystem, Text: frame.Closing})
	}
	return messages
}

// Linearize flattens the branch ending at leafID into an ordered message
// list, root first, framed by the prompt frame's system messages. User
// turns contribute their performance text (directives marked); assistant
// turns contribute their structured content as compact JSON. Streaming
// placeholders on the path are skipped.
func Linearize(f *turntree.Forest, leafID string, frame PromptFrame) ([]services.Message, error) {
	path := turntree.PathToRoot(f, leafID)
	if path == nil {
		return nil, fmt.Errorf("turn %s: %w", leafID, domain.ErrNotFound)
	}

	messages := make([]services.Message, 0, len(path)+2)
	if frame.Preamble != "" {
		messages = append(messages, services.Message{
			Role: services.MessageRoleSystem,
			Text: frame.Preamble,
		})
	}

	for i := len(path) - 1; i >= 0; i-- {
		turn, _ := f.Get(path[i])
		msg, ok, err := turnMessage(turn)
		if err != nil {
			return nil, err
		}
		if ok {
			messages = append(messages, msg)
		}
	}

	if frame.Closing != "" {
		messages = append(messages, services.Message{
			Role: services.MessageRoleSystem,
			Text: frame.Closing,
		})
	}

	return messages, nil
}

func turnMessage(turn *models.Turn) (services.Message, bool, error) {
	switch turn.Role {
	case models.RoleUser:
		text := turn.Content.Performance
		if turn.IsDirective {
			text = directiveMarker + text
		}
		return services.Message{Role: services.MessageRoleUser, Text: text}, true, nil

	case models.RoleAssistant:
		if turn.IsStreamingPlaceholder() {
			return services.Message{}, false, nil
		}
		encoded, err := json.Marshal(turn.Content)
		if err != nil {
			return services.Message{}, false, fmt.Errorf("encode turn %s content: %w", turn.ID, err)
		}
		return services.Message{Role: services.MessageRoleAssistant, Text: string(encoded)}, true, nil

	default:
		return services.Message{}, false, fmt.Errorf("turn %s has unknown role %q", turn.ID, turn.Role)
	}
}
