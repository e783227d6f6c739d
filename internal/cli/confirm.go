package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirm asks a yes/no question and reports whether the answer was yes.
// An empty answer or end of input counts as no.
func Confirm(ctx context.Context, in *NonBlockingReader, out io.Writer, question string) (bool, error) {
	if _, err := fmt.Fprint(out, FormatPrompt(question+" [y/N]")); err != nil {
		return false, err
	}

	answer, err := in.ReadLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
