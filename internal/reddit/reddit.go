// Package reddit fetches community feedback from Reddit.
//
// Read paths use the public JSON endpoints (any thread URL with .json
// appended), which need no OAuth. Posting replies requires script-app
// credentials and goes through oauth.reddit.com.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/model"
)

const defaultUserAgent = "echofix/1.0"

var (
	threadURLPattern = regexp.MustCompile(`^https?://(?:www\.|old\.|np\.|new\.)?reddit\.com/r/([^/]+)/comments/([a-z0-9]+)(?:/([^/?#]+))?`)
	shortlinkPattern = regexp.MustCompile(`^https?://redd\.it/([a-z0-9]+)`)
	subredditPattern = regexp.MustCompile(`/r/([^/]+)/`)
)

// Client talks to Reddit's JSON API.
type Client struct {
	baseURL      string
	oauthURL     string
	userAgent    string
	clientID     string
	clientSecret string
	accessToken  string
	http         *resty.Client
}

// Option configures a Client.
type Option func(*Client)

// WithCredentials enables the authenticated write path (posting comments).
func WithCredentials(clientID, clientSecret string) Option {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
	}
}

// WithBaseURL overrides both the public and OAuth endpoints. Used in tests.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
		c.oauthURL = base
	}
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient builds a Reddit client. Retries with backoff on rate limits
// and transient server errors.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   "https://www.reddit.com",
		oauthURL:  "https://oauth.reddit.com",
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch r.StatusCode() {
			case 429, 500, 502, 503, 504:
				return true
			}
			return false
		}).
		SetHeader("User-Agent", c.userAgent)
	return c
}

// CanPost reports whether write credentials are configured.
func (c *Client) CanPost() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// thing is one element of a Reddit listing. Data stays raw because posts
// and comments carry different payloads.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listing struct {
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type postData struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Permalink   string  `json:"permalink"`
	Score       *int    `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	IsVideo     bool    `json:"is_video"`
	Preview     struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
	Media struct {
		RedditVideo struct {
			FallbackURL string `json:"fallback_url"`
		} `json:"reddit_video"`
	} `json:"media"`
}

type commentData struct {
	ID         string  `json:"id"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	Score      *int    `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	// Replies is "" for leaf comments and a listing object otherwise.
	Replies json.RawMessage `json:"replies"`
}

// FetchEntryScore returns the current score of a post or comment, located
// by its permalink. Returns nil when the entry cannot be found in the
// thread listing.
func (c *Client) FetchEntryScore(ctx context.Context, permalink, redditID string) (*int, error) {
	jsonURL, err := c.toJSONURL(permalink)
	if err != nil {
		return nil, err
	}

	var pages []listing
	if err := c.getJSON(ctx, jsonURL, &pages); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("empty listing for %s", jsonURL)
	}

	for _, t := range pages[0].Data.Children {
		if t.Kind != "t3" {
			continue
		}
		var post postData
		if err := json.Unmarshal(t.Data, &post); err != nil {
			continue
		}
		if post.ID == redditID {
			return post.Score, nil
		}
	}

	if len(pages) > 1 {
		return findCommentScore(pages[1].Data.Children, redditID), nil
	}
	return nil, nil
}

func findCommentScore(children []thing, redditID string) *int {
	for _, t := range children {
		if t.Kind != "t1" {
			continue
		}
		var comment commentData
		if err := json.Unmarshal(t.Data, &comment); err != nil {
			continue
		}
		if comment.ID == redditID {
			return comment.Score
		}
		if nested := childListing(comment.Replies); nested != nil {
			if score := findCommentScore(nested, redditID); score != nil {
				return score
			}
		}
	}
	return nil
}

// FetchThreadEntries fetches a thread and returns the post followed by its
// comments, breadth-first, up to maxItems.
func (c *Client) FetchThreadEntries(ctx context.Context, threadURL string, maxItems int) ([]model.RawEntry, error) {
	if maxItems <= 0 {
		maxItems = 50
	}
	jsonURL, err := c.toJSONURL(threadURL)
	if err != nil {
		return nil, err
	}

	var pages []listing
	if err := c.getJSON(ctx, jsonURL, &pages); err != nil {
		return nil, err
	}
	if len(pages) < 2 {
		return nil, fmt.Errorf("unexpected thread listing shape for %s", jsonURL)
	}

	var entries []model.RawEntry
	for _, t := range pages[0].Data.Children {
		if t.Kind != "t3" {
			continue
		}
		var post postData
		if err := json.Unmarshal(t.Data, &post); err != nil {
			logrus.Warnf("Unparseable post in %s: %v", jsonURL, err)
			continue
		}
		entries = append(entries, c.rawFromPost(post))
		break
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no post found in thread %s", threadURL)
	}

	subreddit := entries[0].Subreddit
	queue := append([]thing(nil), pages[1].Data.Children...)
	for len(queue) > 0 && len(entries) < maxItems {
		t := queue[0]
		queue = queue[1:]
		if t.Kind != "t1" {
			continue
		}
		var comment commentData
		if err := json.Unmarshal(t.Data, &comment); err != nil {
			continue
		}
		entries = append(entries, c.rawFromComment(comment, subreddit))
		if nested := childListing(comment.Replies); nested != nil {
			queue = append(queue, nested...)
		}
	}

	logrus.Infof("Fetched %d entries from %s", len(entries), threadURL)
	return entries, nil
}

// SubredditNew returns the newest posts in a subreddit. Comments are not
// expanded; callers ingest interesting threads separately.
func (c *Client) SubredditNew(ctx context.Context, subreddit string, limit int) ([]model.RawEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	listURL := fmt.Sprintf("%s/r/%s/new.json?limit=%d", c.baseURL, url.PathEscape(subreddit), limit)

	var page listing
	if err := c.getJSON(ctx, listURL, &page); err != nil {
		return nil, err
	}

	var entries []model.RawEntry
	for _, t := range page.Data.Children {
		if t.Kind != "t3" {
			continue
		}
		var post postData
		if err := json.Unmarshal(t.Data, &post); err != nil {
			continue
		}
		entries = append(entries, c.rawFromPost(post))
	}
	return entries, nil
}

// SearchSubreddit searches one subreddit for a keyword, newest first.
func (c *Client) SearchSubreddit(ctx context.Context, subreddit, keyword string, limit int) ([]model.RawEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	searchURL := fmt.Sprintf("%s/r/%s/search.json?q=%s&restrict_sr=1&sort=new&limit=%d",
		c.baseURL, url.PathEscape(subreddit), url.QueryEscape(keyword), limit)

	var page listing
	if err := c.getJSON(ctx, searchURL, &page); err != nil {
		return nil, err
	}

	var entries []model.RawEntry
	for _, t := range page.Data.Children {
		if t.Kind != "t3" {
			continue
		}
		var post postData
		if err := json.Unmarshal(t.Data, &post); err != nil {
			continue
		}
		entries = append(entries, c.rawFromPost(post))
	}
	return entries, nil
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) authenticate(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		Post(c.baseURL + "/api/v1/access_token")
	if err != nil {
		return fmt.Errorf("reddit auth: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("reddit auth returned status %d", resp.StatusCode())
	}

	var auth authResponse
	if err := json.Unmarshal(resp.Body(), &auth); err != nil {
		return fmt.Errorf("reddit auth: %w", err)
	}
	if auth.AccessToken == "" {
		return fmt.Errorf("reddit auth: empty access token")
	}
	c.accessToken = auth.AccessToken
	return nil
}

type commentResponse struct {
	JSON struct {
		Data struct {
			Things []struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// PostComment replies to a post or comment and returns the new comment's
// Reddit ID. parentID may carry a t1_/t3_ fullname prefix or be bare, in
// which case it is treated as a post ID.
func (c *Client) PostComment(ctx context.Context, parentID, text string) (string, error) {
	if !c.CanPost() {
		return "", fmt.Errorf("reddit write credentials not configured")
	}
	if c.accessToken == "" {
		if err := c.authenticate(ctx); err != nil {
			return "", err
		}
	}

	fullname := parentID
	if !strings.HasPrefix(fullname, "t1_") && !strings.HasPrefix(fullname, "t3_") {
		fullname = "t3_" + fullname
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.accessToken).
		SetFormData(map[string]string{
			"api_type": "json",
			"thing_id": fullname,
			"text":     text,
		}).
		Post(c.oauthURL + "/api/comment")
	if err != nil {
		return "", fmt.Errorf("post comment to %s: %w", parentID, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("post comment to %s: status %d", parentID, resp.StatusCode())
	}

	var result commentResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("post comment to %s: %w", parentID, err)
	}
	things := result.JSON.Data.Things
	if len(things) == 0 || things[0].Data.ID == "" {
		return "", fmt.Errorf("post comment to %s: no comment id in response", parentID)
	}

	logrus.Infof("Posted comment %s to %s", things[0].Data.ID, parentID)
	return things[0].Data.ID, nil
}

// FetchThingScore looks up the score of any post or comment by fullname
// (t3_xxx or t1_xxx) via the info endpoint.
func (c *Client) FetchThingScore(ctx context.Context, fullname string) (*int, error) {
	infoURL := fmt.Sprintf("%s/api/info.json?id=%s", c.baseURL, url.QueryEscape(fullname))

	var page listing
	if err := c.getJSON(ctx, infoURL, &page); err != nil {
		return nil, err
	}
	for _, t := range page.Data.Children {
		var item struct {
			Score *int `json:"score"`
		}
		if err := json.Unmarshal(t.Data, &item); err != nil {
			continue
		}
		return item.Score, nil
	}
	return nil, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.http.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// toJSONURL normalizes a thread URL or permalink into its .json form under
// the client's base URL.
func (c *Client) toJSONURL(permalink string) (string, error) {
	permalink = strings.TrimSpace(permalink)
	if permalink == "" {
		return "", fmt.Errorf("empty permalink")
	}

	if m := shortlinkPattern.FindStringSubmatch(permalink); m != nil {
		return fmt.Sprintf("%s/comments/%s.json", c.baseURL, m[1]), nil
	}

	if m := threadURLPattern.FindStringSubmatch(permalink); m != nil {
		path := fmt.Sprintf("/r/%s/comments/%s", m[1], m[2])
		if m[3] != "" {
			path += "/" + m[3]
		}
		return c.baseURL + path + ".json", nil
	}

	if strings.HasPrefix(permalink, "/") {
		permalink = c.baseURL + permalink
	}

	u, err := url.Parse(permalink)
	if err != nil {
		return "", fmt.Errorf("invalid permalink %q: %w", permalink, err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	clean := strings.TrimSuffix(u.String(), "/")
	if !strings.HasSuffix(clean, ".json") {
		clean += ".json"
	}
	return clean, nil
}

func childListing(raw json.RawMessage) []thing {
	if len(raw) == 0 || string(raw) == `""` || string(raw) == "null" {
		return nil
	}
	var nested listing
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil
	}
	return nested.Data.Children
}

func (c *Client) rawFromPost(post postData) model.RawEntry {
	var images []string
	for _, img := range post.Preview.Images {
		if img.Source.URL != "" {
			images = append(images, img.Source.URL)
		}
	}
	var video string
	if post.IsVideo {
		video = post.Media.RedditVideo.FallbackURL
	}

	return model.RawEntry{
		RedditID:        post.ID,
		Type:            "post",
		Title:           post.Title,
		Body:            post.Selftext,
		Author:          orDeleted(post.Author),
		Subreddit:       post.Subreddit,
		Permalink:       "https://reddit.com" + post.Permalink,
		Score:           post.Score,
		NumComments:     post.NumComments,
		ImageURLs:       images,
		VideoURL:        video,
		RedditCreatedAt: fromUnix(post.CreatedUTC),
	}
}

func (c *Client) rawFromComment(comment commentData, fallbackSubreddit string) model.RawEntry {
	subreddit := comment.Subreddit
	if subreddit == "" {
		subreddit = fallbackSubreddit
	}
	return model.RawEntry{
		RedditID:        comment.ID,
		Type:            "comment",
		Body:            comment.Body,
		Author:          orDeleted(comment.Author),
		Subreddit:       subreddit,
		Permalink:       "https://reddit.com" + comment.Permalink,
		Score:           comment.Score,
		RedditCreatedAt: fromUnix(comment.CreatedUTC),
	}
}

func orDeleted(author string) string {
	if author == "" {
		return "[deleted]"
	}
	return author
}

func fromUnix(ts float64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(int64(ts), 0).UTC()
}
