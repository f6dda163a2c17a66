// Package signals refreshes the raw repository and on-chain signals of
// projects from their providers.
package signals

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// Source names used in logs, metrics and outcomes.
const (
	SourceRepository = "repository"
	SourceOnChain    = "on_chain"
)

// RepositorySource produces the code-hosting signal for a repository URL.
type RepositorySource interface {
	FetchSignal(ctx context.Context, repositoryURL string) (analysis.RepositorySignal, error)
}

// OnChainSource produces the on-chain signal for a wallet address.
type OnChainSource interface {
	FetchSignal(ctx context.Context, wallet string) (analysis.OnChainSignal, error)
}

// Status is what happened to one source for one project.
type Status string

const (
	StatusUpdated Status = "updated"
	// StatusSkipped means the project has no locator for that source.
	StatusSkipped Status = "skipped"
	// StatusFailed means the fetch failed and the stored signal was kept.
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
)

// Outcome reports the per-source result of refreshing one project.
type Outcome struct {
	ProjectID  string `json:"project_id"`
	Repository Status `json:"repository"`
	OnChain    Status `json:"on_chain"`
}

// Options tunes a collection run.
type Options struct {
	SourceTimeout time.Duration
	Concurrency   int
}

// Collector refreshes stored signals. Either source may be nil, in which
// case it is reported as disabled.
type Collector struct {
	repo    *database.Repository
	repos   RepositorySource
	chain   OnChainSource
	clock   clock.Clock
	opts    Options
	metrics *monitoring.Metrics
	logger  *slog.Logger
}

// NewCollector creates a collector. metrics and logger may be nil.
func NewCollector(repo *database.Repository, repos RepositorySource, chain OnChainSource, clk clock.Clock, opts Options, metrics *monitoring.Metrics, logger *slog.Logger) *Collector {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = monitoring.Discard()
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 2 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Collector{
		repo:    repo,
		repos:   repos,
		chain:   chain,
		clock:   clk,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With("component", "signals"),
	}
}

// RefreshProject fetches both signals of a project independently. A source
// failure is logged, counted and leaves that signal as stored; only a
// missing project or a store failure is returned as an error.
func (c *Collector) RefreshProject(ctx context.Context, projectID string) (*Outcome, error) {
	project, err := c.repo.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("project", projectID)
		}
		return nil, err
	}

	out := &Outcome{ProjectID: projectID, Repository: StatusDisabled, OnChain: StatusDisabled}
	var repoErr, chainErr error

	if c.repos != nil {
		out.Repository, repoErr = collect(ctx, c, project.ID, SourceRepository, project.RepositoryURL, c.repos.FetchSignal,
			func(ctx context.Context, sig analysis.RepositorySignal) error {
				return c.repo.UpdateRepositorySignal(ctx, project.ID, sig, c.clock.Now())
			})
	}
	if c.chain != nil {
		out.OnChain, chainErr = collect(ctx, c, project.ID, SourceOnChain, project.WalletAddress, c.chain.FetchSignal,
			func(ctx context.Context, sig analysis.OnChainSignal) error {
				return c.repo.UpdateOnChainSignal(ctx, project.ID, sig, c.clock.Now())
			})
	}
	return out, errors.Join(repoErr, chainErr)
}

// collect runs one source under its own deadline and stores the result.
// Provider errors are absorbed into StatusFailed; store errors are returned.
func collect[T any](
	ctx context.Context,
	c *Collector,
	projectID, source, locator string,
	fetch func(context.Context, string) (T, error),
	store func(context.Context, T) error,
) (Status, error) {
	if locator == "" {
		return StatusSkipped, nil
	}
	if err := ctx.Err(); err != nil {
		return StatusFailed, err
	}

	sctx, cancel := context.WithTimeout(ctx, c.opts.SourceTimeout)
	sig, err := fetch(sctx, locator)
	cancel()
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordSignalFailure(source)
		}
		c.logger.Warn("Signal fetch failed, keeping stored signal",
			"project_id", projectID,
			"source", source,
			"error", err,
		)
		return StatusFailed, nil
	}

	if err := store(ctx, sig); err != nil {
		return StatusFailed, err
	}
	return StatusUpdated, nil
}

// Summary is the outcome of a collection sweep.
type Summary struct {
	Projects int            `json:"projects"`
	Updated  map[string]int `json:"updated"`
	Failed   map[string]int `json:"failed"`
	Errors   int            `json:"errors"`
}

// RefreshAll refreshes up to limit projects (all when limit <= 0).
func (c *Collector) RefreshAll(ctx context.Context, limit int) (*Summary, error) {
	ids, err := c.repo.ListProjectIDs(ctx, limit)
	if err != nil {
		return nil, err
	}

	var (
		repoUpdated, repoFailed   atomic.Int32
		chainUpdated, chainFailed atomic.Int32
		projects, failed          atomic.Int32
	)

	pool := pond.NewPool(c.opts.Concurrency, pond.WithQueueSize(len(ids)+1))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, id := range ids {
		id := id
		group.Submit(func() {
			if groupCtx.Err() != nil {
				failed.Add(1)
				return
			}
			out, err := c.RefreshProject(groupCtx, id)
			if err != nil {
				failed.Add(1)
				c.logger.Error("Signal refresh failed", "project_id", id, "error", err)
				return
			}
			projects.Add(1)
			count(out.Repository, &repoUpdated, &repoFailed)
			count(out.OnChain, &chainUpdated, &chainFailed)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		c.logger.Warn("Signal sweep finished with errors", "error", err)
	}

	summary := &Summary{
		Projects: int(projects.Load()),
		Updated: map[string]int{
			SourceRepository: int(repoUpdated.Load()),
			SourceOnChain:    int(chainUpdated.Load()),
		},
		Failed: map[string]int{
			SourceRepository: int(repoFailed.Load()),
			SourceOnChain:    int(chainFailed.Load()),
		},
		Errors: int(failed.Load()),
	}
	if c.metrics != nil {
		c.metrics.RecordBatch("signals", summary.Projects, summary.Errors)
	}
	c.logger.Info("Signal sweep complete",
		"projects", summary.Projects,
		"repository_updated", summary.Updated[SourceRepository],
		"on_chain_updated", summary.Updated[SourceOnChain],
		"errors", summary.Errors,
	)
	return summary, nil
}

func count(s Status, updated, failed *atomic.Int32) {
	switch s {
	case StatusUpdated:
		updated.Add(1)
	case StatusFailed:
		failed.Add(1)
	}
}
