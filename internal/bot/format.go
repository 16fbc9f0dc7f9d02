package bot

import (
	"fmt"
	"strings"
	"time"

	"scout/internal/model"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

// FormatSubscriberList formats the subscribers of a chat for display.
func FormatSubscriberList(subs []model.Subscriber, pending map[int64]int) string {
	if len(subs) == 0 {
		return "You have no subscribers yet. Use /new <name> to create one."
	}
	var b strings.Builder
	b.WriteString("Your subscribers:\n")
	for _, s := range subs {
		fmt.Fprintf(&b, "\n#%d %s  (every %s) [%s]\n", s.ID, s.Name, formatInterval(s.Interval), activeLabel(s.IsActive))
		fmt.Fprintf(&b, "   %d keyword(s), %d target(s), %d pending\n", len(s.Keywords), len(s.Targets), pending[s.ID])
	}
	return b.String()
}

// FormatSubscriberInfo formats detailed information about a single subscriber.
func FormatSubscriberInfo(sub *model.Subscriber, counts map[model.MatchStatus]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s [%s]\n", sub.ID, sub.Name, activeLabel(sub.IsActive))
	fmt.Fprintf(&b, "Interval: every %s\n", formatInterval(sub.Interval))

	b.WriteString("\nKeywords:\n")
	if len(sub.Keywords) == 0 {
		b.WriteString("  none, use /keyword to add one\n")
	}
	for _, kw := range sub.Keywords {
		fmt.Fprintf(&b, "  %s\n", kw)
	}

	b.WriteString("\nTargets:\n")
	if len(sub.Targets) == 0 {
		b.WriteString("  none, use /target to add one\n")
	}
	for _, t := range sub.Targets {
		fmt.Fprintf(&b, "  %s\n", t)
	}

	if sub.StylePrompt != "" {
		fmt.Fprintf(&b, "\nStyle: %s\n", sub.StylePrompt)
	}

	fmt.Fprintf(&b, "\nMatches: %d pending, %d done, %d skipped",
		counts[model.StatusPending], counts[model.StatusDone], counts[model.StatusSkipped])
	return b.String()
}

func activeLabel(active bool) string {
	if active {
		return statusActive
	}
	return statusPaused
}

func formatInterval(d time.Duration) string {
	mins := int(d / time.Minute)
	if mins%60 == 0 {
		return fmt.Sprintf("%d h", mins/60)
	}
	return fmt.Sprintf("%d min", mins)
}
