package cmdexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redpill-linpro/evpn-agent/pkg/util"
)

// RunJSON runs args with output captured and decodes stdout as a JSON
// array into a generic tree (the shape `ip -j -d ... show` / `bridge -j -d
// ... show` emit). Output that is not a JSON array, including a single
// top-level object, is a decoding failure. Decoding
// failure fails with a DecodeError rather than a generic error so callers
// can distinguish "command failed" from "command succeeded but produced
// unparsable output" per §7.
func RunJSON(ctx context.Context, runner Runner, args []string) ([]any, error) {
	out, err := runner.Run(ctx, args, Options{Capture: true, Check: true})
	if err != nil {
		return nil, err
	}
	var tree []any
	if err := json.Unmarshal([]byte(out), &tree); err != nil {
		util.WithField("args", args).Warnf("malformed JSON output: %v", err)
		return nil, &DecodeError{Args: args, Cause: err}
	}
	return tree, nil
}

// DecodeError reports that a command produced output that failed to parse
// as the expected JSON shape.
type DecodeError struct {
	Args  []string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed JSON from %v: %v", e.Args, e.Cause)
}

func (e *DecodeError) Unwrap() error { return util.ErrOutputMalformed }
