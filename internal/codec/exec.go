// Package codec wraps the external SSDV codec and image conversion tools
// named by spec.md §6.2's encode/decode/convert subcommands. None of these
// are part of the framed link protocol; they are CLI conveniences that
// shell out (or, for convert, fall back to the standard library) so the
// repository's CLI surface is complete.
package codec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// runExternal invokes name with args, capturing stdout/stderr, and wraps a
// non-zero exit in an error that includes the captured stderr so callers
// can print a single actionable failure line (spec.md §7's one-shot
// commands "print a single success/failure line").
func runExternal(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return nil
}
