package engine

import (
	"fmt"
	"strconv"
	"strings"

	"scanpilot/pkg/runner"
)

// Merge renders one labeled block per result in slice order. Nil entries
// (tools that never ran or were discarded) are skipped.
func Merge(results []*runner.Result) string {
	var b strings.Builder
	for _, res := range results {
		if res == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== %s ===\n%s: %s", res.Tool, res.Tool, blockBody(res))
	}
	return b.String()
}

func blockBody(res *runner.Result) string {
	switch res.Kind {
	case runner.ResultOutput:
		body := strings.TrimSpace(res.Output)
		if body == "" {
			body = "(no output)"
		}
		if res.Truncated {
			body += "\n[output truncated]"
		}
		return body
	case runner.ResultTimedOut:
		return "timeout after " + strconv.FormatFloat(res.Timeout.Seconds(), 'f', -1, 64) + "s"
	case runner.ResultNotInstalled:
		return "not installed"
	default:
		return "error: " + res.Message
	}
}
