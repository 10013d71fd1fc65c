package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
)

// Asker answers one question. *retrieval.Router implements it.
type Asker interface {
	Ask(ctx context.Context, query string) (*models.Answer, error)
}

// IsExit reports whether line ends the interactive loop.
func IsExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit":
		return true
	}
	return false
}

// RunLoop reads questions from in, one per line, and writes answers to out until exit or
// quit, end of input, or cancellation. A failed question is reported and the loop continues.
func RunLoop(ctx context.Context, in io.Reader, out io.Writer, asker Asker, format OutputFormat) error {
	st := newStyles(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	prompt := func() { fmt.Fprint(out, st.label.Render("? ")) }

	prompt()
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if IsExit(line) {
			fmt.Fprintln(out, st.muted.Render("Bye."))
			return nil
		}
		ans, err := asker.Ask(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", st.remote.Render("error:"), err)
		} else if err := WriteAnswer(out, ans, format); err != nil {
			return err
		}
		prompt()
	}
	return scanner.Err()
}
