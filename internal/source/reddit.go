package source

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"sort"
	"strings"
	"time"

	"scout/internal/model"
)

const (
	redditPermalinkBase = "https://reddit.com"
	redditMaxListing    = 100
	redditIDWidth       = 13
)

// Reddit reads the public JSON listings of a subreddit: new posts and
// recent comments.
type Reddit struct {
	client    HTTPClient
	baseURL   string
	userAgent string
	timeout   time.Duration
}

// NewReddit creates a Reddit client.
func NewReddit(client HTTPClient, baseURL, userAgent string, timeout time.Duration) *Reddit {
	return &Reddit{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		timeout:   timeout,
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string      `json:"kind"`
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Subreddit  string  `json:"subreddit"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Body       string  `json:"body"`
	LinkTitle  string  `json:"link_title"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

// FetchSince returns posts and comments of subreddit target newer than
// cursor. Nothing is requested until the sequence is iterated.
func (r *Reddit) FetchSince(ctx context.Context, target, cursor string, limit int) iter.Seq2[model.Item, error] {
	return lazy(func() ([]model.Item, error) {
		return r.fetch(ctx, target, cursor, limit)
	})
}

func (r *Reddit) fetch(ctx context.Context, target, cursor string, limit int) ([]model.Item, error) {
	n := min(max(limit, 1), redditMaxListing)

	var items []model.Item
	for _, listing := range []string{"new", "comments"} {
		u := fmt.Sprintf("%s/r/%s/%s.json?limit=%d&raw_json=1", r.baseURL, url.PathEscape(target), listing, n)
		body, err := get(ctx, r.client, string(model.SourceReddit), u, r.userAgent, r.timeout)
		if err != nil {
			return nil, fmt.Errorf("fetch r/%s %s: %w", target, listing, err)
		}

		var l redditListing
		if err := json.Unmarshal(body, &l); err != nil {
			return nil, fmt.Errorf("%w: decode r/%s %s: %v", ErrUnavailable, target, listing, err)
		}
		for _, c := range l.Data.Children {
			it, ok := redditItem(c.Kind, c.Data, target)
			if !ok || it.Cursor <= cursor {
				continue
			}
			items = append(items, it)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Cursor < items[j].Cursor })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func redditItem(kind string, t redditThing, target string) (model.Item, bool) {
	if t.ID == "" {
		return model.Item{}, false
	}
	author := t.Author
	if author == "" {
		author = "[deleted]"
	}
	location := t.Subreddit
	if location == "" {
		location = target
	}
	created := time.Unix(int64(t.CreatedUTC), 0).UTC()

	it := model.Item{
		Source:    model.SourceReddit,
		Location:  location,
		Author:    author,
		URL:       redditPermalinkBase + t.Permalink,
		CreatedAt: created,
	}
	switch kind {
	case "t3":
		it.ID = "t3_" + t.ID
		it.Kind = model.KindPost
		it.Title = t.Title
		it.Body = t.Selftext
	case "t1":
		it.ID = "t1_" + t.ID
		it.Kind = model.KindComment
		it.Title = t.LinkTitle
		it.Body = t.Body
	default:
		return model.Item{}, false
	}
	it.Cursor = redditPosition(created, it.ID)
	return it, true
}

// redditPosition orders by creation second, then by base36 ID padded to a
// fixed width so that equal-length strings compare numerically.
func redditPosition(created time.Time, fullname string) string {
	kind, id, _ := strings.Cut(fullname, "_")
	if pad := redditIDWidth - len(id); pad > 0 {
		id = strings.Repeat("0", pad) + id
	}
	return fmt.Sprintf("%012d/%s/%s", created.Unix(), id, kind)
}
