package notifier

import (
	"fmt"
	"strings"
	"time"

	"scout/internal/model"
)

// Action names carried in interaction payloads as "action:matchID".
const (
	ActionDone       = "done"
	ActionSkip       = "skip"
	ActionRegenerate = "regen"
	ActionRefine     = "refine"
	ActionFinalize   = "final"
	ActionCopy       = "copy"
)

const (
	maxBodyRunes  = 1000
	maxDraftRunes = 2500
)

// Action is one interactive control attached to an alert.
type Action struct {
	Name  string
	Label string
}

// Message is a rendered alert.
type Message struct {
	MatchID int64
	Text    string
	Actions []Action
}

// Render formats an alert for match. draft may be nil; a non-empty note is
// shown in place of the draft.
func Render(m *model.Match, draft *model.Draft, note string, now time.Time) Message {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s by %s", locationLabel(m), m.Kind, m.Author)
	if ago := timeAgo(m.CreatedAt, now); ago != "" {
		fmt.Fprintf(&b, " · %s", ago)
	}
	fmt.Fprintf(&b, "\nKeyword: %s\n", m.Keyword)

	if m.Title != "" {
		fmt.Fprintf(&b, "\n%s\n", m.Title)
	}
	if m.Body != "" {
		fmt.Fprintf(&b, "\n%s\n", truncate(m.Body, maxBodyRunes))
	}

	switch {
	case draft != nil:
		label := fmt.Sprintf("Draft v%d", draft.Version)
		if draft.IsFinal {
			label += " (final)"
		}
		fmt.Fprintf(&b, "\n%s:\n%s\n", label, truncate(draft.Content, maxDraftRunes))
	case note != "":
		fmt.Fprintf(&b, "\n%s\n", note)
	}

	if m.Permalink != "" {
		fmt.Fprintf(&b, "\n%s\n", m.Permalink)
	}
	if m.Status.IsTerminal() {
		fmt.Fprintf(&b, "\nStatus: %s\n", m.Status)
	}
	fmt.Fprintf(&b, "Match #%d", m.ID)

	return Message{
		MatchID: m.ID,
		Text:    b.String(),
		Actions: actions(m, draft),
	}
}

func actions(m *model.Match, draft *model.Draft) []Action {
	if m.Status.IsTerminal() {
		return nil
	}
	acts := []Action{
		{Name: ActionDone, Label: "Done"},
		{Name: ActionSkip, Label: "Skip"},
		{Name: ActionRegenerate, Label: "Regenerate"},
		{Name: ActionRefine, Label: "Refine"},
	}
	if draft != nil {
		acts = append(acts,
			Action{Name: ActionFinalize, Label: "Use this draft"},
			Action{Name: ActionCopy, Label: "Copy text"},
		)
	}
	return acts
}

func locationLabel(m *model.Match) string {
	switch m.Source {
	case model.SourceReddit:
		return "r/" + m.Location
	case model.SourceHackerNews:
		return "Hacker News"
	default:
		if m.Location != "" {
			return m.Location
		}
		return string(m.Source)
	}
}

func timeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
