package dispute

import (
	"context"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Workflow, *database.Repository, string) {
	t.Helper()
	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := database.NewRepository(db)

	ctx := context.Background()
	person := &database.Person{ExternalID: "person-1"}
	require.NoError(t, repo.UpsertPerson(ctx, person))
	score := &database.AccountabilityScore{
		PersonID:       person.ID,
		OverallScore:   62,
		Badge:          "reliable",
		State:          database.StatePreview,
		ScoringVersion: "test",
		Breakdown:      "{}",
		CalculatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.UpsertAccountabilityScore(ctx, score))

	clk := clock.NewFake(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC))
	return NewWorkflow(repo, clk, nil), repo, score.ID
}

func scoreState(t *testing.T, repo *database.Repository, id string) string {
	t.Helper()
	s, err := repo.GetAccountabilityScoreByID(context.Background(), id)
	require.NoError(t, err)
	return s.State
}

func TestFileValidation(t *testing.T) {
	w, _, scoreID := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  FileRequest
	}{
		{"missing reason", FileRequest{ScoreID: scoreID, FiledBy: "alice"}},
		{"blank reason", FileRequest{ScoreID: scoreID, FiledBy: "alice", Reason: "   "}},
		{"missing filer", FileRequest{ScoreID: scoreID, Reason: "wrong"}},
		{"missing score", FileRequest{FiledBy: "alice", Reason: "wrong"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.File(ctx, tt.req)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestFileUnknownScore(t *testing.T) {
	w, _, _ := setup(t)
	_, err := w.File(context.Background(), FileRequest{ScoreID: "missing", FiledBy: "alice", Reason: "wrong"})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestApproveFlow(t *testing.T) {
	w, repo, scoreID := setup(t)
	ctx := context.Background()

	d, err := w.File(ctx, FileRequest{ScoreID: scoreID, FiledBy: "alice", Reason: "completion is wrong"})
	require.NoError(t, err)
	assert.Equal(t, database.DisputePending, d.Status)
	assert.Equal(t, database.StateDisputed, scoreState(t, repo, scoreID))

	resolved, err := w.Resolve(ctx, ResolveRequest{DisputeID: d.ID, ReviewedBy: "mod", Approve: true, Resolution: "checked"})
	require.NoError(t, err)
	assert.Equal(t, database.DisputeApproved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, database.StatePublished, scoreState(t, repo, scoreID))

	history, err := w.History(ctx, scoreID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionFiled, history[0].Action)
	assert.Equal(t, "alice", history[0].Actor)
	assert.Equal(t, ActionApproved, history[1].Action)
	assert.Equal(t, "mod", history[1].Actor)
	assert.Contains(t, history[1].Payload, d.ID)
}

func TestRejectReturnsToPreview(t *testing.T) {
	w, repo, scoreID := setup(t)
	ctx := context.Background()

	d, err := w.File(ctx, FileRequest{ScoreID: scoreID, FiledBy: "alice", Reason: "wrong"})
	require.NoError(t, err)

	_, err = w.Resolve(ctx, ResolveRequest{DisputeID: d.ID, ReviewedBy: "mod"})
	require.NoError(t, err)
	assert.Equal(t, database.StatePreview, scoreState(t, repo, scoreID))

	_, err = w.Resolve(ctx, ResolveRequest{DisputeID: d.ID, ReviewedBy: "mod", Approve: true})
	assert.True(t, apperrors.IsConflict(err), "resolved disputes are terminal")
	assert.Equal(t, database.StatePreview, scoreState(t, repo, scoreID))

	again, err := w.File(ctx, FileRequest{ScoreID: scoreID, FiledBy: "alice", Reason: "new evidence"})
	require.NoError(t, err)
	assert.NotEqual(t, d.ID, again.ID)
}

func TestFilingConflicts(t *testing.T) {
	w, repo, scoreID := setup(t)
	ctx := context.Background()

	_, err := w.File(ctx, FileRequest{ScoreID: scoreID, FiledBy: "alice", Reason: "wrong"})
	require.NoError(t, err)

	_, err = w.File(ctx, FileRequest{ScoreID: scoreID, FiledBy: "alice", Reason: "still wrong"})
	assert.True(t, apperrors.IsConflict(err), "same filer duplicate")

	_, err = w.File(ctx, FileRequest{ScoreID: scoreID, FiledBy: "bob", Reason: "also wrong"})
	assert.True(t, apperrors.IsConflict(err), "score is no longer in preview")

	disputes, err := repo.ListDisputes(ctx, scoreID)
	require.NoError(t, err)
	assert.Len(t, disputes, 1)

	history, err := w.History(ctx, scoreID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "rejected filings write nothing")
}

func TestFilingOnPublishedScore(t *testing.T) {
	w, repo, scoreID := setup(t)
	ctx := context.Background()
	require.NoError(t, repo.SetScoreState(ctx, scoreID, database.StatePreview, database.StatePublished))

	_, err := w.File(ctx, FileRequest{ScoreID: scoreID, FiledBy: "alice", Reason: "wrong"})
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, database.StatePublished, scoreState(t, repo, scoreID))
}

func TestResolveUnknownDispute(t *testing.T) {
	w, _, _ := setup(t)
	_, err := w.Resolve(context.Background(), ResolveRequest{DisputeID: "nope", ReviewedBy: "mod"})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = w.Resolve(context.Background(), ResolveRequest{DisputeID: "nope"})
	assert.True(t, apperrors.IsValidation(err))
}
