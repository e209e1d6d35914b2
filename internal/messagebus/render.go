package messagebus

import (
	"fmt"
	"strings"
	"time"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// SendInput is the caller-supplied shape of a notification before a msg_id
// and body are generated.
type SendInput struct {
	FromAgent      string
	FromDisplay    string
	ToAgent        string
	TaskID         string
	TaskTitle      string
	TaskStatus     model.Status
	TaskPath       string
	ParentTaskID   *string
	Subject        string
	Priority       model.MessagePriority
	Channel        string
	ActionRequired bool
	ThreadID       string
	Instructions   string
	// DeadlockCycle, when non-empty, renders the deadlock-specific footer
	// (normalized cycle + remediation) per section 6.4.
	DeadlockCycle []string
}

func renderBody(in SendInput, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", in.Subject)
	b.WriteString("## Metadata\n\n")
	fmt.Fprintf(&b, "- Task: %s\n", in.TaskTitle)
	fmt.Fprintf(&b, "- From: %s\n", in.FromDisplay)
	fmt.Fprintf(&b, "- Priority: %s\n", in.Priority)
	fmt.Fprintf(&b, "- Status: %s\n", in.TaskStatus)
	fmt.Fprintf(&b, "- Timestamp: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Task ID: %s\n", in.TaskID)
	if in.ParentTaskID != nil {
		fmt.Fprintf(&b, "- Parent: %s\n", *in.ParentTaskID)
	}
	b.WriteString("\n## What You Need to Do\n\n")
	if in.Instructions != "" {
		b.WriteString(in.Instructions + "\n\n")
	} else {
		b.WriteString("_Review the linked task and act as appropriate._\n\n")
	}
	fmt.Fprintf(&b, "## Task Path\n\n%s\n", in.TaskPath)

	if len(in.DeadlockCycle) > 0 {
		b.WriteString("\n## Deadlock Cycle\n\n")
		fmt.Fprintf(&b, "%s\n\n", strings.Join(in.DeadlockCycle, " -> "))
		b.WriteString("## Suggested Remediation\n\n")
		b.WriteString("Break the cycle by clearing blocked_by on one of the tasks above, or reassigning one of them so it no longer waits on the others.\n")
	}

	return []byte(b.String())
}
