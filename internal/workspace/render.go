package workspace

import (
	"fmt"
	"strings"
	"time"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// renderPlan renders plan.md: a header block plus Description/Goals/
// Approach/Dependencies/Notes sections for agents to narrate into. The
// Materializer never rewrites these sections on transitions; only initial
// creation populates them.
func renderPlan(t *model.Task, input CreateSpec) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Title)
	fmt.Fprintf(&b, "- id: %s\n", t.ID)
	fmt.Fprintf(&b, "- title: %s\n", t.Title)
	fmt.Fprintf(&b, "- status: %s\n", t.Status)
	fmt.Fprintf(&b, "- priority: %s\n", t.Priority)
	fmt.Fprintf(&b, "- created: %s\n\n", t.CreatedAt.UTC().Format(time.RFC3339))

	b.WriteString("## Description\n\n")
	if input.Description != "" {
		b.WriteString(input.Description + "\n\n")
	} else {
		b.WriteString("_No description provided._\n\n")
	}

	b.WriteString("## Goals\n\n")
	writeBulletsOrPlaceholder(&b, input.Goals, "_No goals specified._")

	b.WriteString("\n## Approach\n\n")
	if input.Approach != "" {
		b.WriteString(input.Approach + "\n\n")
	} else {
		b.WriteString("_To be determined._\n\n")
	}

	b.WriteString("## Dependencies\n\n")
	writeBulletsOrPlaceholder(&b, input.Dependencies, "_None._")

	b.WriteString("\n## Notes\n\n")
	b.WriteString("_No notes yet._\n")

	return []byte(b.String())
}

func writeBulletsOrPlaceholder(b *strings.Builder, items []string, placeholder string) {
	if len(items) == 0 {
		b.WriteString(placeholder + "\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// renderProgress renders progress.md's initial diary entry.
func renderProgress(t *model.Task) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Progress: %s\n\n", t.Title)
	fmt.Fprintf(&b, "## Status\n\n%s\n\n", t.Status)
	fmt.Fprintf(&b, "## Current Progress\n\n%d%%\n\n", t.PercentComplete)
	b.WriteString("## Updates\n\n")
	fmt.Fprintf(&b, "- %s: task created\n\n", t.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString("## Blockers\n\n_None._\n\n")
	b.WriteString("## Next Steps\n\n_Not yet planned._\n")
	return []byte(b.String())
}

// renderSubtasks renders subtasks.md's checklist, prefilled from the
// caller's subtask titles or a single placeholder item.
func renderSubtasks(subtasks []string) []byte {
	var b strings.Builder
	b.WriteString("# Subtasks\n\n")
	if len(subtasks) == 0 {
		b.WriteString("- [ ] _No subtasks defined yet._\n")
		return []byte(b.String())
	}
	for _, s := range subtasks {
		fmt.Fprintf(&b, "- [ ] %s\n", s)
	}
	return []byte(b.String())
}
