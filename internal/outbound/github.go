// Package outbound implements the side effects the Execution Engine's
// action handlers invoke against external code hosts (spec §4.8's
// "post review comment" action), wiring the teacher's go-github
// dependency to engine.CommentPoster.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v74/github"

	"github.com/reviewforge/engine/internal/apperr"
	"github.com/reviewforge/engine/internal/resilience"
)

// GitHubCommenter posts review comments via the GitHub REST API. It
// implements engine.CommentPoster without importing the engine package,
// matching this module's interface-segregation convention.
type GitHubCommenter struct {
	client  *github.Client
	breaker *resilience.Breaker
}

// NewGitHubCommenter builds a commenter authenticated with token. An
// empty token yields an unauthenticated client, which GitHub rate-limits
// aggressively; callers should always supply one outside local testing.
// Calls are wrapped in a circuit breaker so a GitHub outage fails fast
// instead of letting every queued comment action block out its full
// retry budget against a dependency that is already down.
func NewGitHubCommenter(token string) *GitHubCommenter {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubCommenter{
		client:  client,
		breaker: resilience.New("github-comments", resilience.DefaultConfig()),
	}
}

// PostComment creates an issue comment on resourceID, which must be
// formatted "owner/repo#number" (a pull request is addressed as an issue
// for commenting purposes in GitHub's API). integrationID is accepted to
// satisfy engine.CommentPoster but unused here: credentials are resolved
// once at construction rather than per integration.
func (g *GitHubCommenter) PostComment(ctx context.Context, _ string, resourceID, body string) error {
	owner, repo, number, err := parseResourceID(resourceID)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidRequest, err)
	}
	err = g.breaker.Execute(func() error {
		_, _, err := g.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &body})
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", apperr.ErrProviderUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("%w: create comment: %w", apperr.ErrProviderUnavailable, err)
	}
	return nil
}

// parseResourceID splits "owner/repo#number" into its parts.
func parseResourceID(resourceID string) (owner, repo string, number int, err error) {
	ownerRepo, numStr, ok := strings.Cut(resourceID, "#")
	if !ok {
		return "", "", 0, fmt.Errorf("resource id %q missing '#number' suffix", resourceID)
	}
	owner, repo, ok = strings.Cut(ownerRepo, "/")
	if !ok {
		return "", "", 0, fmt.Errorf("resource id %q missing 'owner/repo' prefix", resourceID)
	}
	number, err = strconv.Atoi(numStr)
	if err != nil {
		return "", "", 0, fmt.Errorf("resource id %q has non-numeric issue number: %w", resourceID, err)
	}
	return owner, repo, number, nil
}
