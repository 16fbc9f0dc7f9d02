// Package drafting generates and versions response drafts for matches.
package drafting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"scout/internal/model"
	"scout/internal/storage"
)

var (
	// ErrUnavailable marks transient generator failures worth retrying later.
	ErrUnavailable = errors.New("draft generator unavailable")
	// ErrRejected marks requests the generator refused to answer.
	ErrRejected = errors.New("draft request rejected")
)

// DefaultStyle is the system prompt used when a subscriber has none.
const DefaultStyle = "You help a community manager reply to online discussions. " +
	"Write a short, friendly, helpful reply in plain text. Do not use markdown. " +
	"Do not invent facts and do not sound like an advertisement."

// Request is the input of one generation call.
type Request struct {
	Match    model.Match
	Style    string
	Previous string
	Feedback []string
}

// Generator produces draft text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Message is a chat message sent to the generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const promptTemplate = `Context:
- Source: %s
- Location: %s
- Type: %s
- Author: %s
- Title: %s
- Content: %s
- Matched keyword: %q

Task: Write a reply to this %s that a community member could post as is.`

// Messages builds the chat transcript for req. A refinement request carries
// the previous draft as an assistant turn followed by the collected feedback.
func Messages(req Request) []Message {
	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = DefaultStyle
	}

	m := req.Match
	title := m.Title
	if title == "" {
		title = "(no title)"
	}
	body := m.Body
	if body == "" {
		body = "(no content)"
	}

	msgs := []Message{
		{Role: RoleSystem, Content: style},
		{Role: RoleUser, Content: fmt.Sprintf(promptTemplate,
			m.Source, m.Location, m.Kind, m.Author, title, body, m.Keyword, m.Kind)},
	}

	if req.Previous != "" && len(req.Feedback) > 0 {
		var b strings.Builder
		b.WriteString("Please revise the reply based on this feedback:")
		for _, f := range req.Feedback {
			b.WriteString("\n- ")
			b.WriteString(f)
		}
		msgs = append(msgs,
			Message{Role: RoleAssistant, Content: req.Previous},
			Message{Role: RoleUser, Content: b.String()},
		)
	}
	return msgs
}

// Drafter generates drafts and stores them as new versions.
type Drafter struct {
	store storage.Storage
	gen   Generator
	log   *slog.Logger
}

// NewDrafter creates a Drafter.
func NewDrafter(store storage.Storage, gen Generator, log *slog.Logger) *Drafter {
	return &Drafter{store: store, gen: gen, log: log}
}

// Draft generates a new draft version for match. With feedback, the latest
// stored draft is sent along for revision. Earlier versions are kept.
func (d *Drafter) Draft(ctx context.Context, match *model.Match, sub *model.Subscriber, feedback []string) (model.Draft, error) {
	req := Request{
		Match:    *match,
		Style:    sub.StylePrompt,
		Feedback: feedback,
	}
	if len(feedback) > 0 {
		prev, err := d.store.LatestDraft(ctx, match.ID)
		switch {
		case err == nil:
			req.Previous = prev.Content
		case !errors.Is(err, storage.ErrNotFound):
			return model.Draft{}, fmt.Errorf("load latest draft: %w", err)
		}
	}

	text, err := d.gen.Generate(ctx, req)
	if err != nil {
		return model.Draft{}, fmt.Errorf("generate draft for match %d: %w", match.ID, err)
	}

	draft, err := d.store.AddDraft(ctx, match.ID, text)
	if err != nil {
		return model.Draft{}, fmt.Errorf("store draft: %w", err)
	}
	d.log.Info("draft generated", "match_id", match.ID, "version", draft.Version, "feedback", len(feedback))
	return draft, nil
}
