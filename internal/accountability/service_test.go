package accountability

import (
	"context"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/currency"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo    *database.Repository
	clock   *clock.Fake
	metrics *monitoring.Metrics
	service *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := database.NewRepository(db)
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	normalizer := currency.NewNormalizer("0.35", currency.DefaultCutoffFund, nil)
	metrics := monitoring.NewMetrics()
	return &fixture{repo: repo, clock: clk, metrics: metrics, service: NewService(repo, normalizer, clk, opts, metrics, nil)}
}

func (f *fixture) person(t *testing.T, externalID string, projects ...database.Project) string {
	t.Helper()
	ctx := context.Background()
	p := &database.Person{ExternalID: externalID, Name: externalID}
	require.NoError(t, f.repo.UpsertPerson(ctx, p))

	for i := range projects {
		fund := &database.Fund{Number: projects[i].FundNumber, Currency: "USD"}
		require.NoError(t, f.repo.UpsertFund(ctx, fund))
		projects[i].FundID = fund.ID
		require.NoError(t, f.repo.UpsertProject(ctx, &projects[i], f.clock.Now()))
		require.NoError(t, f.repo.LinkPerson(ctx, projects[i].ID, p.ID))
	}
	return p.ID
}

func TestRecalculatePersonCreatesPreviewScore(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.person(t, "alice",
		database.Project{ExternalID: "a1", FundNumber: 5, Funded: true, Status: database.ProjectCompleted,
			AmountRequested: 10000, AmountReceived: 10000},
		database.Project{ExternalID: "a2", FundNumber: 5, Funded: true, Status: database.ProjectInProgress,
			AmountRequested: 10000, AmountReceived: 5000},
	)

	score, err := f.service.RecalculatePerson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, database.StatePreview, score.State)
	assert.InDelta(t, 50, score.CompletionScore, 1e-9)
	assert.InDelta(t, 75, score.EfficiencyScore, 1e-9)
	assert.Equal(t, ScoringVersion, score.ScoringVersion)
	assert.Contains(t, score.Breakdown, `"not_implemented"`)

	firstID := score.ID
	f.clock.Advance(time.Hour)
	again, err := f.service.RecalculatePerson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, firstID, again.ID)
}

func TestRecalculateKeepsDisputedState(t *testing.T) {
	f := newFixture(t, Options{AutoPublish: true})
	ctx := context.Background()
	id := f.person(t, "bob", database.Project{ExternalID: "b1", FundNumber: 3, Funded: true, AmountRequested: 100})

	score, err := f.service.RecalculatePerson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, database.StatePublished, score.State)

	require.NoError(t, f.repo.SetScoreState(ctx, score.ID, database.StatePublished, database.StateDisputed))

	again, err := f.service.RecalculatePerson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, database.StateDisputed, again.State)

	_, err = f.service.Visible(ctx, id)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecalculateUnknownPerson(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.service.RecalculatePerson(context.Background(), "ghost")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecalculateAll(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 2})
	ctx := context.Background()
	var ids []string
	for _, ext := range []string{"p1", "p2", "p3"} {
		ids = append(ids, f.person(t, ext, database.Project{ExternalID: "proj-" + ext, FundNumber: 4, Funded: true,
			Status: database.ProjectCompleted, AmountRequested: 1000, AmountReceived: 1000}))
	}

	result, err := f.service.RecalculateAll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Calculated)
	assert.Zero(t, result.Errors)
	require.Len(t, result.Scores, 3)
	for _, s := range result.Scores {
		assert.Contains(t, ids, s.PersonID)
		assert.InDelta(t, 45, s.OverallScore, 1e-9)
	}

	limited, err := f.service.RecalculateAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, limited.Calculated)

	batch := f.metrics.BatchSnapshot()["accountability"]
	assert.EqualValues(t, 2, batch.Runs)
	assert.EqualValues(t, 5, batch.Calculated)
}

func TestRecordsNormalizeAcrossFunds(t *testing.T) {
	n := currency.NewNormalizer("0.35", currency.DefaultCutoffFund, nil)
	records := Records([]database.Project{
		{FundNumber: 14, Funded: true, AmountRequested: 100000, AmountReceived: 50000},
		{FundNumber: 4, Funded: true, AmountRequested: 20000, AmountReceived: 20000},
		{FundNumber: 14, Funded: false, AmountRequested: 999999},
	}, n)

	require.Len(t, records, 3)
	assert.InDelta(t, 35000, records[0].AwardedUSD, 1e-6)
	assert.InDelta(t, 17500, records[0].ReceivedUSD, 1e-6)
	assert.InDelta(t, 20000, records[1].AwardedUSD, 1e-9)
	assert.Zero(t, records[2].AwardedUSD)
}

func TestPublishedListsOnlyPublishedScores(t *testing.T) {
	f := newFixture(t, Options{AutoPublish: true})
	ctx := context.Background()

	empty, err := f.service.Published(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)

	strong := f.person(t, "strong", database.Project{ExternalID: "s1", FundNumber: 6, Funded: true,
		Status: database.ProjectCompleted, AmountRequested: 1000, AmountReceived: 1000})
	weak := f.person(t, "weak", database.Project{ExternalID: "w1", FundNumber: 6, Funded: true,
		AmountRequested: 1000})
	hidden := f.person(t, "hidden", database.Project{ExternalID: "h1", FundNumber: 6, Funded: true,
		Status: database.ProjectCompleted, AmountRequested: 1000, AmountReceived: 1000})

	for _, id := range []string{strong, weak, hidden} {
		_, err := f.service.RecalculatePerson(ctx, id)
		require.NoError(t, err)
	}
	score, err := f.repo.GetAccountabilityScore(ctx, hidden)
	require.NoError(t, err)
	require.NoError(t, f.repo.SetScoreState(ctx, score.ID, database.StatePublished, database.StateDisputed))

	published, err := f.service.Published(ctx, 0)
	require.NoError(t, err)
	require.Len(t, published, 2)
	assert.Equal(t, strong, published[0].PersonID)
	assert.Equal(t, weak, published[1].PersonID)
	assert.Greater(t, published[0].OverallScore, published[1].OverallScore)

	top, err := f.service.Published(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}
