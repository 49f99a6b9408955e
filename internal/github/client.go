// Package github wraps the GitHub REST API for issue, branch, and PR
// automation.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Issue is a created GitHub issue.
type Issue struct {
	Number int
	Title  string
	URL    string
	State  string
}

// PullRequest is a created or discovered pull request.
type PullRequest struct {
	Number int
	URL    string
	State  string
}

// Client wraps the GitHub API client with rate limiting.
type Client struct {
	client      *gogithub.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a GitHub client. rateLimit is requests per second.
func NewClient(token string, rateLimit int) *Client {
	return &Client{
		client:      gogithub.NewClient(nil).WithAuthToken(token),
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

// SetBaseURL points the client at a different API endpoint. Used in tests.
func (c *Client) SetBaseURL(baseURL string) error {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	c.client.BaseURL = parsed
	return nil
}

// CreateIssue opens an issue on the repository.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req := &gogithub.IssueRequest{
		Title: gogithub.String(title),
		Body:  gogithub.String(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	issue, _, err := c.client.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}

	logrus.Infof("Created GitHub issue #%d: %s", issue.GetNumber(), issue.GetHTMLURL())
	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		URL:    issue.GetHTMLURL(),
		State:  issue.GetState(),
	}, nil
}

// AddIssueComment posts a comment on an issue.
func (c *Client) AddIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	_, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &gogithub.IssueComment{
		Body: gogithub.String(body),
	})
	if err != nil {
		return fmt.Errorf("add issue comment: %w", err)
	}
	return nil
}

// GetBranchSHA returns the head SHA of a branch, or "" when the branch
// does not exist.
func (c *Client) GetBranchSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	ref, _, err := c.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("get branch %s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates a branch off the base branch. Creating a branch
// that already exists is a no-op returning its current SHA.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, base string) (string, error) {
	existing, err := c.GetBranchSHA(ctx, owner, repo, branch)
	if err != nil {
		return "", err
	}
	if existing != "" {
		logrus.Infof("Branch %s already exists", branch)
		return existing, nil
	}

	baseSHA, err := c.GetBranchSHA(ctx, owner, repo, base)
	if err != nil {
		return "", err
	}
	if baseSHA == "" {
		return "", fmt.Errorf("base branch %s not found", base)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	ref, _, err := c.client.Git.CreateRef(ctx, owner, repo, &gogithub.Reference{
		Ref:    gogithub.String("refs/heads/" + branch),
		Object: &gogithub.GitObject{SHA: gogithub.String(baseSHA)},
	})
	if err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// GetFileSHA returns the blob SHA of a file on a ref, or "" when the file
// does not exist.
func (c *Client) GetFileSHA(ctx context.Context, owner, repo, path, ref string) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	content, _, _, err := c.client.Repositories.GetContents(ctx, owner, repo, path,
		&gogithub.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("get file %s: %w", path, err)
	}
	return content.GetSHA(), nil
}

// UpsertFile creates or updates a file on a branch and returns the new
// content SHA.
func (c *Client) UpsertFile(ctx context.Context, owner, repo, path, branch string, content []byte, message string) (string, error) {
	sha, err := c.GetFileSHA(ctx, owner, repo, path, branch)
	if err != nil {
		return "", err
	}

	opts := &gogithub.RepositoryContentFileOptions{
		Message: gogithub.String(message),
		Content: content,
		Branch:  gogithub.String(branch),
	}
	if sha != "" {
		opts.SHA = gogithub.String(sha)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	resp, _, err := c.client.Repositories.CreateFile(ctx, owner, repo, path, opts)
	if err != nil {
		return "", fmt.Errorf("upsert file %s: %w", path, err)
	}
	return resp.Content.GetSHA(), nil
}

// CreatePullRequest opens a pull request from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &gogithub.NewPullRequest{
		Title: gogithub.String(title),
		Body:  gogithub.String(body),
		Head:  gogithub.String(head),
		Base:  gogithub.String(base),
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	logrus.Infof("Created GitHub PR #%d: %s", pr.GetNumber(), pr.GetHTMLURL())
	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		State:  pr.GetState(),
	}, nil
}

// FindOpenPR returns the open pull request for a head branch, or nil when
// none exists.
func (c *Client) FindOpenPR(ctx context.Context, owner, repo, head string) (*PullRequest, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	prs, _, err := c.client.PullRequests.List(ctx, owner, repo, &gogithub.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + head,
	})
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	pr := prs[0]
	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		State:  pr.GetState(),
	}, nil
}

// MergePR squash-merges a pull request.
func (c *Client) MergePR(ctx context.Context, owner, repo string, number int, message string) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	result, _, err := c.client.PullRequests.Merge(ctx, owner, repo, number, message,
		&gogithub.PullRequestOptions{MergeMethod: "squash"})
	if err != nil {
		return fmt.Errorf("merge pull request #%d: %w", number, err)
	}
	if !result.GetMerged() {
		return fmt.Errorf("merge pull request #%d: %s", number, result.GetMessage())
	}
	logrus.Infof("Merged GitHub PR #%d", number)
	return nil
}

// IsUnprocessable reports whether the error is a 422 response, which
// GitHub returns for duplicate pull requests among other things.
func IsUnprocessable(err error) bool {
	var ghErr *gogithub.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == 422
	}
	return false
}

func isNotFound(err error) bool {
	var ghErr *gogithub.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == 404
	}
	return false
}
