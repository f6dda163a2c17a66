package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db)
}

func seedProject(t *testing.T, repo *Repository, externalID string, fundNumber int, category string) *Project {
	t.Helper()
	ctx := context.Background()
	fund := &Fund{Number: fundNumber, Name: "Fund", Currency: "USD"}
	require.NoError(t, repo.UpsertFund(ctx, fund))

	p := &Project{
		ExternalID:      externalID,
		FundID:          fund.ID,
		Title:           "Project " + externalID,
		Category:        category,
		Status:          ProjectInProgress,
		Funded:          true,
		AmountRequested: 50000,
	}
	require.NoError(t, repo.UpsertProject(ctx, p, seededAt))
	return p
}

var seededAt = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

func TestUpsertProjectKeepsIdentityAndSignals(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	p := seedProject(t, repo, "ext-1", 9, "dev")
	firstID := p.ID

	loaded, err := repo.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.Repository)
	assert.Nil(t, loaded.OnChain)
	assert.Equal(t, 9, loaded.FundNumber)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateRepositorySignal(ctx, p.ID, analysis.RepositorySignal{ActivityScore: 40, Stars: 12}, at))
	require.NoError(t, repo.UpdateOnChainSignal(ctx, p.ID, analysis.OnChainSignal{TransactionCount: 0}, at))

	again := &Project{ExternalID: "ext-1", FundID: p.FundID, Title: "Renamed", Status: ProjectCompleted, Funded: true}
	require.NoError(t, repo.UpsertProject(ctx, again, at))
	assert.Equal(t, firstID, again.ID)

	loaded, err = repo.GetProject(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Title)
	assert.True(t, seededAt.Equal(loaded.CreatedAt), "created_at is kept on update")
	assert.True(t, at.Equal(loaded.UpdatedAt))
	require.NotNil(t, loaded.Repository)
	assert.Equal(t, 40.0, loaded.Repository.ActivityScore)
	assert.Equal(t, 12, loaded.Repository.Stars)
	require.NotNil(t, loaded.OnChain, "zero transactions is still collected data")
	assert.Equal(t, 0, loaded.OnChain.TransactionCount)
	require.NotNil(t, loaded.RepoSyncedAt)
	assert.True(t, at.Equal(*loaded.RepoSyncedAt))
}

func TestGetMissingRecordsReturnNotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetProject(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = repo.GetPerson(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = repo.LatestROIRecord(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = repo.GetAccountabilityScore(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	err = repo.UpdateCommunitySignal(ctx, "nope", analysis.CommunitySignal{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestROIRecordsAreAppendOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	p := seedProject(t, repo, "ext-roi", 10, "dev")

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &ROIRecord{ProjectID: p.ID, OutcomeScore: 40, RawROI: 8, ROIScore: 8, Badge: "at_risk",
		FundingCurrency: "USD", RateSource: "identity", ConversionRate: 1, CalculatedAt: base}
	second := &ROIRecord{ProjectID: p.ID, OutcomeScore: 60, RawROI: 12, ROIScore: 12, Badge: "on_track",
		FundingCurrency: "USD", RateSource: "identity", ConversionRate: 1, CalculatedAt: base.Add(time.Hour)}
	require.NoError(t, repo.InsertROIRecord(ctx, first))
	require.NoError(t, repo.InsertROIRecord(ctx, second))

	latest, err := repo.LatestROIRecord(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	history, err := repo.ListROIHistory(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	_, err = repo.db.ExecContext(ctx, `UPDATE roi_records SET roi_score = 99 WHERE id = ?`, first.ID)
	assert.Error(t, err)
	_, err = repo.db.ExecContext(ctx, `DELETE FROM roi_records WHERE id = ?`, first.ID)
	assert.Error(t, err)

	at := base.Add(2 * time.Hour)
	err = repo.UpdatePercentiles(ctx, "batch-1", at, map[string]analysis.Percentiles{
		second.ID: {Overall: 100, Category: 100},
	})
	require.NoError(t, err)

	all, err := repo.LatestROIRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, second.ID, all[0].Record.ID)
	assert.Equal(t, "dev", all[0].Category)
	require.NotNil(t, all[0].Record.OverallPercentile)
	assert.Equal(t, 100.0, *all[0].Record.OverallPercentile)
	require.NotNil(t, all[0].Record.PercentileBatchID)
	assert.Equal(t, "batch-1", *all[0].Record.PercentileBatchID)
}

func TestAuditEntriesAreAppendOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := &AuditEntry{Action: "dispute_filed", Actor: "alice", SubjectType: "score", SubjectID: "s1",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, repo.AppendAudit(ctx, e))

	_, err := repo.db.ExecContext(ctx, `UPDATE audit_entries SET actor = 'mallory' WHERE id = ?`, e.ID)
	assert.Error(t, err)
	_, err = repo.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE id = ?`, e.ID)
	assert.Error(t, err)

	entries, err := repo.ListAudit(ctx, "score", "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Equal(t, "{}", entries[0].Payload)
}

func seedScore(t *testing.T, repo *Repository) *AccountabilityScore {
	t.Helper()
	ctx := context.Background()
	person := &Person{ExternalID: "person-1", Name: "Person"}
	require.NoError(t, repo.UpsertPerson(ctx, person))

	s := &AccountabilityScore{PersonID: person.ID, OverallScore: 55, Badge: "unproven", State: StatePreview,
		ScoringVersion: "v1", Breakdown: "{}", CalculatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, repo.UpsertAccountabilityScore(ctx, s))
	return s
}

func TestUpsertScoreKeepsIDAndDisputedState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	s := seedScore(t, repo)
	id := s.ID

	require.NoError(t, repo.SetScoreState(ctx, id, StatePreview, StateDisputed))

	update := &AccountabilityScore{PersonID: s.PersonID, OverallScore: 70, Badge: "reliable", State: StatePublished,
		ScoringVersion: "v1", Breakdown: "{}", CalculatedAt: s.CalculatedAt.Add(time.Hour)}
	require.NoError(t, repo.UpsertAccountabilityScore(ctx, update))
	assert.Equal(t, id, update.ID)
	assert.Equal(t, StateDisputed, update.State)

	stored, err := repo.GetAccountabilityScoreByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 70.0, stored.OverallScore)
	assert.Equal(t, StateDisputed, stored.State)

	err = repo.SetScoreState(ctx, id, StatePreview, StatePublished)
	assert.True(t, errors.Is(err, ErrStale))
}

func TestOnePendingDisputePerFiler(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	s := seedScore(t, repo)
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	first := &Dispute{ScoreID: s.ID, FiledBy: "bob", Reason: "wrong", Status: DisputePending, CreatedAt: now}
	require.NoError(t, repo.InsertDispute(ctx, first))

	dup := &Dispute{ScoreID: s.ID, FiledBy: "bob", Reason: "still wrong", Status: DisputePending, CreatedAt: now}
	err := repo.InsertDispute(ctx, dup)
	assert.True(t, errors.Is(err, ErrDuplicate))

	pending, err := repo.HasPendingDispute(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.True(t, pending)

	resolvedAt := now.Add(time.Hour)
	first.Status = DisputeRejected
	first.ResolvedBy = "mod"
	first.ResolvedAt = &resolvedAt
	require.NoError(t, repo.ResolveDispute(ctx, first))
	assert.True(t, errors.Is(repo.ResolveDispute(ctx, first), ErrStale))

	again := &Dispute{ScoreID: s.ID, FiledBy: "bob", Reason: "new evidence", Status: DisputePending, CreatedAt: resolvedAt}
	require.NoError(t, repo.InsertDispute(ctx, again))

	disputes, err := repo.ListDisputes(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, disputes, 2)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(tx *Repository) error {
		require.NoError(t, tx.UpsertPerson(ctx, &Person{ExternalID: "tx-person"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ids, err := repo.ListPersonIDs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListProjectsFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, repo, "a", 9, "dev")
	seedProject(t, repo, "b", 9, "tools")
	seedProject(t, repo, "c", 12, "dev")

	tests := []struct {
		name   string
		filter ProjectFilter
		want   int
	}{
		{"all", ProjectFilter{}, 3},
		{"by fund", ProjectFilter{FundNumber: 9}, 2},
		{"by category", ProjectFilter{Category: "dev"}, 2},
		{"fund and category", ProjectFilter{FundNumber: 12, Category: "dev"}, 1},
		{"paged", ProjectFilter{Limit: 2}, 2},
		{"no match", ProjectFilter{FundNumber: 99}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			projects, err := repo.ListProjects(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, projects, tt.want)
		})
	}
}
