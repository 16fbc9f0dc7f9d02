package bot

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"scout/internal/model"
)

var subredditRe = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("subscriber ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subscriber ID %q", s)
	}
	return id, nil
}

// ParseIDText extracts a subscriber ID and the free text that follows it.
// The text may be empty.
func ParseIDText(args string) (int64, string, error) {
	idPart, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	if idPart == "" {
		return 0, "", fmt.Errorf("subscriber ID is required")
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid subscriber ID %q", idPart)
	}
	return id, strings.TrimSpace(rest), nil
}

// ParseIntervalArgs extracts a subscriber ID and scan interval.
func ParseIntervalArgs(args string) (int64, time.Duration, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("usage: /interval <id> <minutes>")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid subscriber ID %q", parts[0])
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < 1 || mins > 1440 {
		return 0, 0, fmt.Errorf("interval must be between 1 and 1440 minutes")
	}
	return id, time.Duration(mins) * time.Minute, nil
}

// ParseTarget parses "<source> [name]", e.g. "reddit golang", "r/golang",
// "hackernews" or "rss https://example.com/feed.xml".
func ParseTarget(s string) (model.Target, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "r/"); ok {
		s = "reddit " + rest
	}
	kind, name, _ := strings.Cut(s, " ")
	name = strings.TrimSpace(name)

	switch strings.ToLower(kind) {
	case "reddit":
		name = strings.TrimPrefix(name, "r/")
		if !subredditRe.MatchString(name) {
			return model.Target{}, fmt.Errorf("invalid subreddit %q", name)
		}
		return model.Target{Source: model.SourceReddit, Name: strings.ToLower(name)}, nil
	case "hackernews", "hn":
		if name != "" && name != model.TargetAll {
			return model.Target{}, fmt.Errorf("hacker news only supports the %q target", model.TargetAll)
		}
		return model.Target{Source: model.SourceHackerNews, Name: model.TargetAll}, nil
	case "rss":
		u, err := url.Parse(name)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return model.Target{}, fmt.Errorf("invalid feed URL %q", name)
		}
		return model.Target{Source: model.SourceRSS, Name: name}, nil
	default:
		return model.Target{}, fmt.Errorf("unknown source %q, use: reddit, hackernews, rss", kind)
	}
}
