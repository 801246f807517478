// Package confirmation asks the operator before destructive commands such as
// deleting expired snapshots.
package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"db-resilience/internal/display"
)

// ConfirmationService prompts for a yes/no answer
type ConfirmationService interface {
	Confirm(ctx context.Context, question string, autoApprove bool) (bool, error)
}

// Prompter reads answers from in and writes prompts to out
type Prompter struct {
	reader *bufio.Reader
	out    io.Writer
	colors display.ColorSystem
}

// NewPrompter creates a prompter. colors may be nil.
func NewPrompter(in io.Reader, out io.Writer, colors display.ColorSystem) *Prompter {
	if colors == nil {
		colors = display.NewColorSystem(display.PlainTextTheme(), false)
	}
	return &Prompter{
		reader: bufio.NewReader(in),
		out:    out,
		colors: colors,
	}
}

// Confirm asks question until the answer is yes or no. An empty answer or
// end of input counts as no. Cancelling ctx aborts the prompt with ctx's
// error.
func (p *Prompter) Confirm(ctx context.Context, question string, autoApprove bool) (bool, error) {
	theme := p.colors.GetTheme()
	if autoApprove {
		fmt.Fprintln(p.out, p.colors.Colorize("Auto-approving", theme.Success))
		return true, nil
	}

	for {
		fmt.Fprint(p.out, p.colors.Colorize(question+" [y/N]: ", theme.Highlight))

		answer, err := p.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(p.out)
				return false, nil
			}
			if ctx.Err() != nil {
				fmt.Fprintln(p.out, "\n"+p.colors.Colorize("Operation cancelled", theme.Warning))
			}
			return false, err
		}

		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		default:
			fmt.Fprintf(p.out, "Invalid input '%s'. Please enter 'y' for yes or 'n' for no.\n", answer)
		}
	}
}

// readLine waits for one line of input or for ctx. A read still pending
// when ctx ends is abandoned.
func (p *Prompter) readLine(ctx context.Context) (string, error) {
	type line struct {
		text string
		err  error
	}
	lines := make(chan line, 1)

	go func() {
		text, err := p.reader.ReadString('\n')
		if err != nil && text != "" && errors.Is(err, io.EOF) {
			err = nil
		}
		lines <- line{text: strings.TrimSpace(text), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-lines:
		return l.text, l.err
	}
}
