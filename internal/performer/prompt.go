package performer

import (
	"fmt"
	"strings"

	"github.com/book-expert/performer-service/internal/core"
)

const (
	soundSectionFmt = "\nAVAILABLE SOUND EFFECTS:\n%s\n\n" +
		`You can play sound effects using @sound("sound-name", "times") syntax, ` +
		`where "times" is optional and defaults to 1. Example: @sound("vineboom", "3")`
	singSection = "\nSING FUNCTION:\nYou can sing songs using the @sing(\"song name\", \"artist\") syntax. " +
		`Use this to initiate singing a song. Example: @sing("Closer", "The Chainsmokers")`
	autonomousHint = "\nYou have decided to talk on your own without being prompted. " +
		"Say something spontaneous, short, and in-character."
)

// buildTurns assembles the system prompt and the conversation window.
func (p *Performer) buildTurns(req Request, history []core.Record) []core.Turn {
	var prompt strings.Builder

	prompt.WriteString(p.settings.Persona)

	if names := p.deps.Sounds.Names(); len(names) > 0 {
		fmt.Fprintf(&prompt, soundSectionFmt, strings.Join(names, ", "))
	}

	prompt.WriteString(singSection)

	if req.Kind.autonomous() {
		prompt.WriteString(autonomousHint)
	}

	prompt.WriteString(p.userContext(req.Username, history))

	p.mu.Lock()
	turns := make([]core.Turn, 0, len(p.window)+1)
	turns = append(turns, core.Turn{Role: core.RoleSystem, Content: prompt.String()})
	turns = append(turns, p.window...)
	p.mu.Unlock()

	return turns
}

// userContext summarizes what a viewer said before.
func (p *Performer) userContext(username string, history []core.Record) string {
	if len(history) == 0 {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "\nUSER CONTEXT for %s:\nThis user has chatted with you %d times. ", username, len(history))

	if len(history) == 1 {
		b.WriteString("This appears to be their first message.")

		return b.String()
	}

	b.WriteString("Here are some of their previous messages:\n")

	for i, record := range history {
		if i >= p.settings.HistoryShown {
			break
		}

		fmt.Fprintf(&b, "- %q\n", record.Content)
	}

	fmt.Fprintf(&b, "Use this context to personalize your response to %s.", username)

	return b.String()
}
