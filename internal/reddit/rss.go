package reddit

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/model"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// RSSClient fetches Reddit threads via their Atom feeds. Feeds carry no
// scores, so every entry comes back with a nil Score and enters the
// pipeline as pending.
type RSSClient struct {
	baseDomain string
	parser     *gofeed.Parser
}

// NewRSSClient builds an RSS fallback client.
func NewRSSClient() *RSSClient {
	parser := gofeed.NewParser()
	parser.UserAgent = defaultUserAgent
	return &RSSClient{
		baseDomain: "old.reddit.com",
		parser:     parser,
	}
}

// SetBaseDomain overrides the feed host. Used in tests.
func (r *RSSClient) SetBaseDomain(domain string) {
	r.baseDomain = domain
}

// FetchEntryScore reports the entry's score as unknown. Reddit feeds do
// not expose vote counts, so an RSS fallback can never resolve a score;
// the entry stays pending until a JSON fetch succeeds.
func (r *RSSClient) FetchEntryScore(ctx context.Context, permalink, redditID string) (*int, error) {
	return nil, nil
}

// FetchThreadEntries fetches a Reddit thread feed and returns its items as
// raw entries, up to maxItems.
func (r *RSSClient) FetchThreadEntries(ctx context.Context, threadURL string, maxItems int) ([]model.RawEntry, error) {
	if maxItems <= 0 {
		maxItems = 50
	}
	feedURL, err := r.toFeedURL(threadURL)
	if err != nil {
		return nil, err
	}

	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	var entries []model.RawEntry
	for _, item := range feed.Items {
		if len(entries) >= maxItems {
			break
		}
		entries = append(entries, rawFromFeedItem(item, threadURL))
	}

	logrus.Infof("Fetched %d entries via RSS from %s", len(entries), threadURL)
	return entries, nil
}

// toFeedURL normalizes a thread URL and appends .rss.
func (r *RSSClient) toFeedURL(threadURL string) (string, error) {
	threadURL = strings.TrimSpace(threadURL)

	if m := shortlinkPattern.FindStringSubmatch(threadURL); m != nil {
		return fmt.Sprintf("https://%s/comments/%s.rss", r.baseDomain, m[1]), nil
	}
	if m := threadURLPattern.FindStringSubmatch(threadURL); m != nil {
		path := fmt.Sprintf("/r/%s/comments/%s", m[1], m[2])
		if m[3] != "" {
			path += "/" + m[3]
		}
		return fmt.Sprintf("https://%s%s.rss", r.baseDomain, path), nil
	}
	if strings.HasPrefix(threadURL, "http") {
		return strings.TrimSuffix(threadURL, "/") + ".rss", nil
	}
	return "", fmt.Errorf("invalid thread URL %q", threadURL)
}

func rawFromFeedItem(item *gofeed.Item, threadURL string) model.RawEntry {
	permalink := item.Link
	if permalink == "" {
		permalink = threadURL
	}

	body := htmlTagPattern.ReplaceAllString(item.Content, "")
	if body == "" {
		body = htmlTagPattern.ReplaceAllString(item.Description, "")
	}
	body = strings.TrimSpace(body)

	author := "[unknown]"
	if item.Author != nil && item.Author.Name != "" {
		author = item.Author.Name
	}

	createdAt := time.Now().UTC()
	if item.PublishedParsed != nil {
		createdAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		createdAt = item.UpdatedParsed.UTC()
	}

	return model.RawEntry{
		RedditID:        redditIDFromPermalink(permalink),
		Type:            feedItemType(permalink),
		Title:           item.Title,
		Body:            body,
		Author:          author,
		Subreddit:       subredditFromPermalink(permalink),
		Permalink:       permalink,
		Score:           nil,
		RedditCreatedAt: createdAt,
	}
}

// feedItemType infers post vs comment from the permalink depth: comment
// permalinks carry an extra path segment after the thread slug
// (/r/sub/comments/<post>/<slug>/<comment>/).
func feedItemType(permalink string) string {
	u, err := url.Parse(permalink)
	if err != nil {
		return "post"
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "comments" {
			if len(parts)-i-1 > 2 {
				return "comment"
			}
			return "post"
		}
	}
	return "post"
}

func redditIDFromPermalink(permalink string) string {
	parts := strings.Split(permalink, "/")
	for i, part := range parts {
		if part == "comments" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(permalink)))[:8]
}

func subredditFromPermalink(permalink string) string {
	if m := subredditPattern.FindStringSubmatch(permalink); m != nil {
		return m[1]
	}
	return "unknown"
}
