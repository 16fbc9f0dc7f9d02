package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"scout/internal/model"
)

const (
	hnItemURL      = "https://news.ycombinator.com/item?id="
	hnLocation     = "hackernews"
	hnChunkSize    = 20
	hnConcurrency  = 8
	hnPositionSize = 12
)

// HackerNews walks the Hacker News item ID space upwards from the cursor
// using the Firebase API. Fetched items are kept in an LRU cache shared by
// all subscribers.
type HackerNews struct {
	client   HTTPClient
	baseURL  string
	timeout  time.Duration
	lookback int
	cache    *lru.Cache[int, hnItem]
}

// NewHackerNews creates a Hacker News client. A first scan starts lookback
// items below the current maximum item ID.
func NewHackerNews(client HTTPClient, baseURL string, timeout time.Duration, lookback, cacheSize int) (*HackerNews, error) {
	cache, err := lru.New[int, hnItem](max(cacheSize, 1))
	if err != nil {
		return nil, fmt.Errorf("create item cache: %w", err)
	}
	return &HackerNews{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
		lookback: max(lookback, 1),
		cache:    cache,
	}, nil
}

type hnItem struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	By      string `json:"by"`
	Time    int64  `json:"time"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	URL     string `json:"url"`
	Deleted bool   `json:"deleted"`
	Dead    bool   `json:"dead"`
}

func (it hnItem) usable() bool {
	if it.ID == 0 || it.Deleted || it.Dead || it.By == "" || it.Time == 0 {
		return false
	}
	return it.Type == "story" || it.Type == "comment"
}

// FetchSince yields stories and comments with IDs above cursor. Items are
// requested in chunks, concurrently within a chunk, and yielded in ID order.
func (h *HackerNews) FetchSince(ctx context.Context, target, cursor string, limit int) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		if target != model.TargetAll {
			yield(model.Item{}, fmt.Errorf("hackernews target %q: only %q is supported", target, model.TargetAll))
			return
		}

		maxID, err := h.maxItem(ctx)
		if err != nil {
			yield(model.Item{}, err)
			return
		}

		start := maxID - h.lookback + 1
		if cursor != "" {
			last, err := strconv.Atoi(cursor)
			if err != nil {
				yield(model.Item{}, fmt.Errorf("parse hackernews cursor %q: %w", cursor, err))
				return
			}
			start = last + 1
		}
		start = max(start, 1)

		yielded := 0
		for lo := start; lo <= maxID && yielded < limit; lo += hnChunkSize {
			hi := min(lo+hnChunkSize-1, maxID)
			items, errs := h.fetchRange(ctx, lo, hi)
			for i, it := range items {
				if errs[i] != nil {
					yield(model.Item{}, errs[i])
					return
				}
				if !it.usable() {
					continue
				}
				if !yield(hnToItem(it), nil) {
					return
				}
				yielded++
				if yielded >= limit {
					return
				}
			}
		}
	}
}

func (h *HackerNews) maxItem(ctx context.Context) (int, error) {
	body, err := get(ctx, h.client, string(model.SourceHackerNews), h.baseURL+"/maxitem.json", "", h.timeout)
	if err != nil {
		return 0, fmt.Errorf("fetch maxitem: %w", err)
	}
	var id int
	if err := json.Unmarshal(body, &id); err != nil {
		return 0, fmt.Errorf("%w: decode maxitem: %v", ErrUnavailable, err)
	}
	return id, nil
}

// fetchRange loads items lo..hi inclusive. Missing items come back as zero
// values; errs[i] holds the failure for position i.
func (h *HackerNews) fetchRange(ctx context.Context, lo, hi int) ([]hnItem, []error) {
	n := hi - lo + 1
	items := make([]hnItem, n)
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(hnConcurrency)
	for i := range n {
		id := lo + i
		if it, ok := h.cache.Get(id); ok {
			items[i] = it
			continue
		}
		g.Go(func() error {
			it, err := h.item(ctx, id)
			if err != nil {
				errs[i] = err
				return nil
			}
			items[i] = it
			if it.ID != 0 {
				h.cache.Add(id, it)
			}
			return nil
		})
	}
	_ = g.Wait()
	return items, errs
}

func (h *HackerNews) item(ctx context.Context, id int) (hnItem, error) {
	u := fmt.Sprintf("%s/item/%d.json", h.baseURL, id)
	body, err := get(ctx, h.client, string(model.SourceHackerNews), u, "", h.timeout)
	if errors.Is(err, errItemNotFound) {
		return hnItem{}, nil
	}
	if err != nil {
		return hnItem{}, fmt.Errorf("fetch item %d: %w", id, err)
	}

	// A missing item is served as the JSON literal null.
	var it hnItem
	if err := json.Unmarshal(body, &it); err != nil {
		return hnItem{}, fmt.Errorf("%w: decode item %d: %v", ErrUnavailable, id, err)
	}
	return it, nil
}

func hnToItem(it hnItem) model.Item {
	kind := model.KindStory
	if it.Type == "comment" {
		kind = model.KindComment
	}
	return model.Item{
		ID:        fmt.Sprintf("hn_%d", it.ID),
		Kind:      kind,
		Source:    model.SourceHackerNews,
		Location:  hnLocation,
		Author:    it.By,
		Title:     it.Title,
		Body:      PlainText(it.Text),
		URL:       hnItemURL + strconv.Itoa(it.ID),
		CreatedAt: time.Unix(it.Time, 0).UTC(),
		Cursor:    fmt.Sprintf("%0*d", hnPositionSize, it.ID),
	}
}
