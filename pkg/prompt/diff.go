package prompt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/wilhg/agentd/pkg/agent"
)

// UnifiedDiff returns a simple unified diff between two strings.
func UnifiedDiff(a, b string) string {
	if a == b {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteString("--- a\n")
	buf.WriteString("+++ b\n")
	al := strings.Split(a, "\n")
	bl := strings.Split(b, "\n")
	i, j := 0, 0
	for i < len(al) || j < len(bl) {
		if i < len(al) && j < len(bl) && al[i] == bl[j] {
			i++
			j++
			continue
		}
		if i < len(al) {
			fmt.Fprintf(&buf, "-%s\n", al[i])
			i++
		}
		if j < len(bl) {
			fmt.Fprintf(&buf, "+%s\n", bl[j])
			j++
		}
	}
	return buf.String()
}

// Version is one system prompt as it appeared in a conversation.
type Version struct {
	Version int           `json:"version"`
	EventID agent.EventID `json:"eventId"`
	Body    string        `json:"body"`
	// Diff against the previous version; empty for the first.
	Diff string `json:"diff,omitempty"`
}

// History lists the SystemPrompt events of a log in order, numbered from 1.
func History(events []agent.Event) []Version {
	var out []Version
	prev := ""
	for _, e := range events {
		sp, ok := e.(agent.SystemPrompt)
		if !ok {
			continue
		}
		v := Version{Version: len(out) + 1, EventID: sp.ID, Body: sp.Content}
		if len(out) > 0 {
			v.Diff = UnifiedDiff(prev, sp.Content)
		}
		out = append(out, v)
		prev = sp.Content
	}
	return out
}
