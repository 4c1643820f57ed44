package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/aidanlsb/pbipkit/internal/ui"
)

// stdin answers confirmation prompts; tests replace it along with
// interactive.
var stdin io.Reader = os.Stdin

var interactive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd())
}

// promptForConfirm asks a yes/no question. It answers no without asking
// when output is JSON or nobody is at the terminal.
func promptForConfirm(message string) bool {
	if isJSONOutput() || !interactive() {
		return false
	}
	fmt.Fprintf(stdout, "%s %s ", message, ui.Hint("[y/N]"))
	answer, _ := bufio.NewReader(stdin).ReadString('\n')
	return isYes(answer)
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
