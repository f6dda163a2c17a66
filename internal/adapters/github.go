package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/ZanzyTHEbar/fundscope/internal/resilience"
)

// DefaultGitHubBaseURL is the public REST endpoint.
const DefaultGitHubBaseURL = "https://api.github.com"

// GitHubCacheTTL matches the provider's hourly statistics refresh.
const GitHubCacheTTL = 3600 * time.Second

// RepoStats is the raw repository data collected for one project.
type RepoStats struct {
	Owner        string     `json:"owner"`
	Name         string     `json:"name"`
	Stars        int        `json:"stars"`
	Forks        int        `json:"forks"`
	Watchers     int        `json:"watchers"`
	Contributors int        `json:"contributors"`
	PushedAt     *time.Time `json:"pushed_at,omitempty"`
	// WeeklyCommits is nil when the provider is still computing statistics.
	WeeklyCommits []int `json:"weekly_commits,omitempty"`
	OpenIssues    int   `json:"open_issues"`
	ClosedIssues  int   `json:"closed_issues"`
	OpenPRs       int   `json:"open_prs"`
	ClosedPRs     int   `json:"closed_prs"`
}

// CommitsLastYear sums the weekly commit buckets.
func (s RepoStats) CommitsLastYear() int {
	total := 0
	for _, c := range s.WeeklyCommits {
		total += c
	}
	return total
}

// GitHubConfig configures the code-hosting adapter.
type GitHubConfig struct {
	Token             string
	BaseURL           string
	RequestsPerSecond float64
	RetryMax          int
}

// GitHubAdapter fetches repository activity from the GitHub REST API.
type GitHubAdapter struct {
	client *Client
	cache  *gocache.Cache
	clk    clock.Clock
	logger *slog.Logger
}

// NewGitHubAdapter creates a code-hosting adapter with an hourly response cache.
func NewGitHubAdapter(cfg GitHubConfig, clk clock.Clock, metrics *monitoring.Metrics, logger *slog.Logger) *GitHubAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGitHubBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = monitoring.Discard()
	}

	headers := map[string]string{"X-GitHub-Api-Version": "2022-11-28"}
	if cfg.Token != "" {
		headers["Authorization"] = "Bearer " + cfg.Token
	}

	client := NewClient(ClientConfig{
		Name:              "github",
		BaseURL:           cfg.BaseURL,
		Headers:           headers,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             1,
		RetryMax:          cfg.RetryMax,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 1,
		},
	}, clk, metrics, logger)

	return &GitHubAdapter{
		client: client,
		cache:  gocache.New(GitHubCacheTTL, 10*time.Minute),
		clk:    clk,
		logger: logger.With("component", "github_adapter"),
	}
}

// ParseRepositoryURL extracts owner and repository name from a GitHub URL
// such as https://github.com/owner/repo(.git).
func ParseRepositoryURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", apperrors.NewValidationError("repository url is empty", "repository_url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", apperrors.NewValidationError("repository url is malformed", "repository_url")
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "github.com" {
		return "", "", apperrors.NewValidationError("repository is not hosted on github.com", "repository_url")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apperrors.NewValidationError("repository url must name owner and repository", "repository_url")
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// FetchRepoStats collects metadata, commit activity, contributors and
// issue/PR counts. Results are cached per repository for an hour.
func (g *GitHubAdapter) FetchRepoStats(ctx context.Context, owner, repo string) (*RepoStats, error) {
	key := strings.ToLower(owner + "/" + repo)
	if cached, ok := g.cache.Get(key); ok {
		return cached.(*RepoStats), nil
	}

	stats, err := g.fetchMetadata(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	if stats.WeeklyCommits, err = g.fetchCommitActivity(ctx, owner, repo); err != nil {
		return nil, err
	}
	if stats.Contributors, err = g.fetchContributors(ctx, owner, repo); err != nil {
		return nil, err
	}

	counts := []struct {
		qualifiers string
		dst        *int
	}{
		{"type:issue state:open", &stats.OpenIssues},
		{"type:issue state:closed", &stats.ClosedIssues},
		{"type:pr state:open", &stats.OpenPRs},
		{"type:pr state:closed", &stats.ClosedPRs},
	}
	for _, c := range counts {
		n, err := g.searchCount(ctx, owner, repo, c.qualifiers)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}

	g.cache.Set(key, stats, gocache.DefaultExpiration)
	return stats, nil
}

// FetchSignal fetches the repository behind repositoryURL and derives the
// repository signal used by outcome scoring.
func (g *GitHubAdapter) FetchSignal(ctx context.Context, repositoryURL string) (analysis.RepositorySignal, error) {
	owner, repo, err := ParseRepositoryURL(repositoryURL)
	if err != nil {
		return analysis.RepositorySignal{}, err
	}
	stats, err := g.FetchRepoStats(ctx, owner, repo)
	if err != nil {
		return analysis.RepositorySignal{}, err
	}
	return analysis.RepositorySignal{
		ActivityScore: ActivityScore(*stats, g.clk.Now()),
		Stars:         stats.Stars,
		Forks:         stats.Forks,
		Contributors:  stats.Contributors,
	}, nil
}

func (g *GitHubAdapter) fetchMetadata(ctx context.Context, owner, repo string) (*RepoStats, error) {
	_, body, err := g.client.Get(ctx, fmt.Sprintf("repos/%s/%s", owner, repo), nil)
	if err != nil {
		return nil, err
	}
	doc := string(body)
	if !gjson.Valid(doc) {
		return nil, apperrors.NewExternalAPIError("github", fmt.Errorf("invalid repository payload"))
	}

	stats := &RepoStats{
		Owner:    owner,
		Name:     repo,
		Stars:    int(gjson.Get(doc, "stargazers_count").Int()),
		Forks:    int(gjson.Get(doc, "forks_count").Int()),
		Watchers: int(gjson.Get(doc, "subscribers_count").Int()),
	}
	if pushed := gjson.Get(doc, "pushed_at").Str; pushed != "" {
		if t, err := time.Parse(time.RFC3339, pushed); err == nil {
			t = t.UTC()
			stats.PushedAt = &t
		}
	}
	return stats, nil
}

// fetchCommitActivity returns 52 weekly commit totals. A 202 means the
// provider is still computing; that is reported as no data, not an error.
func (g *GitHubAdapter) fetchCommitActivity(ctx context.Context, owner, repo string) ([]int, error) {
	status, body, err := g.client.Get(ctx, fmt.Sprintf("repos/%s/%s/stats/commit_activity", owner, repo), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted || len(body) == 0 {
		g.logger.Debug("commit activity not ready", "owner", owner, "repo", repo)
		return nil, nil
	}
	weeks := gjson.Parse(string(body)).Array()
	out := make([]int, 0, len(weeks))
	for _, w := range weeks {
		out = append(out, int(w.Get("total").Int()))
	}
	return out, nil
}

func (g *GitHubAdapter) fetchContributors(ctx context.Context, owner, repo string) (int, error) {
	q := url.Values{"per_page": {"100"}, "anon": {"1"}}
	status, body, err := g.client.Get(ctx, fmt.Sprintf("repos/%s/%s/contributors", owner, repo), q)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNoContent || len(body) == 0 {
		return 0, nil
	}
	return len(gjson.Parse(string(body)).Array()), nil
}

func (g *GitHubAdapter) searchCount(ctx context.Context, owner, repo, qualifiers string) (int, error) {
	q := url.Values{
		"q":        {fmt.Sprintf("repo:%s/%s %s", owner, repo, qualifiers)},
		"per_page": {"1"},
	}
	_, body, err := g.client.Get(ctx, "search/issues", q)
	if err != nil {
		return 0, err
	}
	return int(gjson.GetBytes(body, "total_count").Int()), nil
}

// ActivityScore converts repository statistics into a 0-100 activity
// measure: commit volume over the last year (up to 50), push recency (up to
// 30), closed pull requests (up to 10) and the issue resolution ratio (up to 10).
func ActivityScore(s RepoStats, now time.Time) float64 {
	commits := math.Min(float64(s.CommitsLastYear())/4, 50)

	recency := 0.0
	if s.PushedAt != nil {
		days := now.Sub(*s.PushedAt).Hours() / 24
		switch {
		case days <= 7:
			recency = 30
		case days <= 30:
			recency = 20
		case days <= 90:
			recency = 10
		case days <= 180:
			recency = 5
		}
	}

	prs := math.Min(float64(s.ClosedPRs)/2, 10)

	issues := 0.0
	if total := s.OpenIssues + s.ClosedIssues; total > 0 {
		issues = 10 * float64(s.ClosedIssues) / float64(total)
	}

	return analysis.Clamp100(commits + recency + prs + issues)
}
