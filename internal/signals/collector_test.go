package signals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

type fakeRepoSource struct {
	mu    sync.Mutex
	sig   analysis.RepositorySignal
	err   error
	block bool
	calls int
}

func (f *fakeRepoSource) FetchSignal(ctx context.Context, _ string) (analysis.RepositorySignal, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return analysis.RepositorySignal{}, apperrors.NewTimeoutError("github request timed out", ctx.Err())
	}
	return f.sig, f.err
}

type fakeChainSource struct {
	sig analysis.OnChainSignal
	err error
}

func (f *fakeChainSource) FetchSignal(context.Context, string) (analysis.OnChainSignal, error) {
	return f.sig, f.err
}

type fixture struct {
	repo    *database.Repository
	metrics *monitoring.Metrics
	clock   *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &fixture{
		repo:    database.NewRepository(db),
		metrics: monitoring.NewMetrics(),
		clock:   clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) project(t *testing.T, externalID, repoURL, wallet string) string {
	t.Helper()
	ctx := context.Background()
	fund := &database.Fund{Number: 12, Currency: "ADA"}
	require.NoError(t, f.repo.UpsertFund(ctx, fund))
	p := &database.Project{
		ExternalID:    externalID,
		FundID:        fund.ID,
		Title:         externalID,
		Status:        database.ProjectInProgress,
		RepositoryURL: repoURL,
		WalletAddress: wallet,
	}
	require.NoError(t, f.repo.UpsertProject(ctx, p, f.clock.Now()))
	return p.ID
}

func (f *fixture) collector(repos RepositorySource, chain OnChainSource, timeout time.Duration) *Collector {
	return NewCollector(f.repo, repos, chain, f.clock, Options{SourceTimeout: timeout}, f.metrics, nil)
}

func TestRefreshProjectUpdatesBothSignals(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "p1", "https://github.com/octo/a", "addr1a")

	repos := &fakeRepoSource{sig: analysis.RepositorySignal{ActivityScore: 70, Stars: 50}}
	chain := &fakeChainSource{sig: analysis.OnChainSignal{TransactionCount: 8, UniqueCounterparties: 3, TotalReceived: 1200}}

	out, err := f.collector(repos, chain, time.Second).RefreshProject(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, out.Repository)
	assert.Equal(t, StatusUpdated, out.OnChain)

	p, err := f.repo.GetProject(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p.Repository)
	assert.Equal(t, 70.0, p.Repository.ActivityScore)
	require.NotNil(t, p.OnChain)
	assert.Equal(t, 8, p.OnChain.TransactionCount)
	require.NotNil(t, p.RepoSyncedAt)
	assert.True(t, p.RepoSyncedAt.Equal(f.clock.Now()))
}

func TestRefreshProjectSourceFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "p1", "https://github.com/octo/a", "addr1a")
	ctx := context.Background()

	// seed a previous repository signal that must survive the failure
	require.NoError(t, f.repo.UpdateRepositorySignal(ctx, id, analysis.RepositorySignal{ActivityScore: 40}, f.clock.Now()))

	repos := &fakeRepoSource{err: apperrors.NewExternalAPIError("github", nil)}
	chain := &fakeChainSource{sig: analysis.OnChainSignal{TransactionCount: 2}}

	out, err := f.collector(repos, chain, time.Second).RefreshProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Repository)
	assert.Equal(t, StatusUpdated, out.OnChain)

	p, err := f.repo.GetProject(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p.Repository)
	assert.Equal(t, 40.0, p.Repository.ActivityScore)
	require.NotNil(t, p.OnChain)
	assert.Equal(t, 2, p.OnChain.TransactionCount)

	assert.Equal(t, int64(1), f.metrics.SignalFailureSnapshot()[SourceRepository])
}

func TestRefreshProjectTimeoutDoesNotBlockOtherSource(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "p1", "https://github.com/octo/a", "addr1a")

	repos := &fakeRepoSource{block: true}
	chain := &fakeChainSource{sig: analysis.OnChainSignal{TransactionCount: 5}}

	start := time.Now()
	out, err := f.collector(repos, chain, 20*time.Millisecond).RefreshProject(context.Background(), id)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusFailed, out.Repository)
	assert.Equal(t, StatusUpdated, out.OnChain)
}

func TestRefreshProjectSkipsAndDisables(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "p1", "", "addr1a")

	repos := &fakeRepoSource{}
	out, err := f.collector(repos, nil, time.Second).RefreshProject(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Repository)
	assert.Equal(t, StatusDisabled, out.OnChain)
	assert.Equal(t, 0, repos.calls)
}

func TestRefreshProjectUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.collector(&fakeRepoSource{}, nil, time.Second).RefreshProject(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRefreshAllHonorsLimit(t *testing.T) {
	f := newFixture(t)
	for _, ext := range []string{"p1", "p2", "p3"} {
		f.project(t, ext, "https://github.com/octo/"+ext, "")
	}

	repos := &fakeRepoSource{sig: analysis.RepositorySignal{ActivityScore: 10}}
	c := f.collector(repos, &fakeChainSource{}, time.Second)

	summary, err := c.RefreshAll(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Projects)
	assert.Equal(t, 2, summary.Updated[SourceRepository])
	assert.Equal(t, 0, summary.Updated[SourceOnChain])
	assert.Equal(t, 0, summary.Errors)

	all, err := c.RefreshAll(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, all.Projects)
	assert.Equal(t, int64(2), f.metrics.BatchSnapshot()["signals"].Runs)
}
