package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"

	"scout/internal/model"
)

const rssTimeLayout = "2006-01-02T15:04:05Z"

// RSS reads RSS and Atom feeds. The target is the feed URL.
type RSS struct {
	client    HTTPClient
	userAgent string
	timeout   time.Duration
}

// NewRSS creates a feed client.
func NewRSS(client HTTPClient, userAgent string, timeout time.Duration) *RSS {
	return &RSS{
		client:    client,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// FetchSince returns up to limit feed entries published after cursor,
// oldest first, followed by up to limit entries without a date in feed
// order. Undated entries carry no cursor position and are returned on every
// scan; deduplication of recorded matches keeps them from alerting twice.
func (r *RSS) FetchSince(ctx context.Context, target, cursor string, limit int) iter.Seq2[model.Item, error] {
	return lazy(func() ([]model.Item, error) {
		feed, err := r.fetch(ctx, target)
		if err != nil {
			return nil, err
		}

		var undated, dated []model.Item
		for _, fi := range feed.Items {
			it := rssItem(feed, fi)
			switch {
			case it.Cursor == "":
				undated = append(undated, it)
			case it.Cursor > cursor:
				dated = append(dated, it)
			}
		}
		sort.SliceStable(dated, func(i, j int) bool { return dated[i].Cursor < dated[j].Cursor })

		if len(dated) > limit {
			dated = dated[:limit]
		}
		if len(undated) > limit {
			undated = undated[:limit]
		}
		return append(dated, undated...), nil
	})
}

func (r *RSS) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	body, err := get(ctx, r.client, string(model.SourceRSS), url, r.userAgent, r.timeout)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed %s: %v", ErrUnavailable, url, err)
	}
	return feed, nil
}

// ItemGUID returns the GUID for a feed entry.
// If the entry has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func rssItem(feed *gofeed.Feed, fi *gofeed.Item) model.Item {
	guid := ItemGUID(fi)

	it := model.Item{
		ID:       "rss:" + guid,
		Kind:     model.KindPost,
		Source:   model.SourceRSS,
		Location: feed.Title,
		Title:    fi.Title,
		URL:      fi.Link,
	}

	desc := fi.Description
	if desc == "" {
		desc = fi.Content
	}
	it.Body = PlainText(desc)

	switch {
	case fi.Author != nil && fi.Author.Name != "":
		it.Author = fi.Author.Name
	case len(fi.Authors) > 0 && fi.Authors[0] != nil:
		it.Author = fi.Authors[0].Name
	}

	published := fi.PublishedParsed
	if published == nil {
		published = fi.UpdatedParsed
	}
	if published != nil {
		it.CreatedAt = published.UTC()
		h := sha256.Sum256([]byte(guid))
		it.Cursor = fmt.Sprintf("%s/%x", it.CreatedAt.Format(rssTimeLayout), h[:8])
	}
	return it
}
