package cli

import (
	"fmt"
	"os"
)

// HintContext provides context for generating relevant next steps.
type HintContext struct {
	// Action is the command that was executed (e.g., "send", "seed", "use").
	Action string

	// UserID is the user involved, by username when known.
	UserID string

	// Selection is the inbox item involved, in deep-link form.
	Selection string
}

// PrintNextSteps prints contextual next steps after a successful command.
// Does nothing in JSON or quiet mode.
func PrintNextSteps(ctx HintContext) {
	if IsJSONOutput() || IsJSONLOutput() || IsQuiet() {
		return
	}

	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}

	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, "Next steps:")
	for _, hint := range hints {
		fmt.Fprintf(os.Stdout, "  %s\n", hint)
	}
}

func generateHints(ctx HintContext) []string {
	switch ctx.Action {
	case "send":
		hints := []string{}
		if ctx.Selection != "" {
			hints = append(hints, fmt.Sprintf("backlot inbox --open %s", ctx.Selection))
		}
		if ctx.UserID != "" {
			hints = append(hints, fmt.Sprintf("backlot inbox --as %s --watch   # watch their inbox", ctx.UserID))
		}
		return hints
	case "seed":
		return []string{
			fmt.Sprintf("backlot use %s", ctx.UserID),
			"backlot inbox",
			"backlot inbox --watch",
		}
	case "use":
		return []string{
			"backlot inbox",
			"backlot inbox --folder personal",
		}
	case "user_add":
		return []string{
			fmt.Sprintf("backlot use %s", ctx.UserID),
			fmt.Sprintf("backlot inbox --with %s", ctx.UserID),
		}
	default:
		return nil
	}
}
