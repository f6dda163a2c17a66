package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStale is returned when a conditional update matched no row.
	ErrStale = errors.New("record changed concurrently")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Repository handles database operations
type Repository struct {
	db *DB
	q  querier
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, q: db.DB}
}

// WithTx runs fn against a repository bound to a single transaction. The
// transaction commits when fn returns nil.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Repository{db: r.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// UpsertFund inserts a fund or refreshes its name and currency by number.
func (r *Repository) UpsertFund(ctx context.Context, f *Fund) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO funds (id, number, name, currency)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET name = excluded.name, currency = excluded.currency
		RETURNING id
	`, f.ID, f.Number, f.Name, f.Currency).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert fund: %w", err)
	}
	return nil
}

const fundColumns = `id, number, name, currency, total_awarded, total_distributed,
	proposal_count, funded_count, completed_count, rollup_at`

func scanFund(row rowScanner) (*Fund, error) {
	var f Fund
	err := row.Scan(&f.ID, &f.Number, &f.Name, &f.Currency, &f.TotalAwarded, &f.TotalDistributed,
		&f.ProposalCount, &f.FundedCount, &f.CompletedCount, &f.RollupAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFund gets a fund by id
func (r *Repository) GetFund(ctx context.Context, id string) (*Fund, error) {
	f, err := scanFund(r.q.QueryRowContext(ctx, `SELECT `+fundColumns+` FROM funds WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get fund %s: %w", id, notFound(err))
	}
	return f, nil
}

// GetFundByNumber gets a fund by its ordinal
func (r *Repository) GetFundByNumber(ctx context.Context, number int) (*Fund, error) {
	f, err := scanFund(r.q.QueryRowContext(ctx, `SELECT `+fundColumns+` FROM funds WHERE number = ?`, number))
	if err != nil {
		return nil, fmt.Errorf("failed to get fund %d: %w", number, notFound(err))
	}
	return f, nil
}

// ListFunds returns all funds ordered by number
func (r *Repository) ListFunds(ctx context.Context) ([]Fund, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+fundColumns+` FROM funds ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	var funds []Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, *f)
	}
	return funds, rows.Err()
}

// UpdateFundRollup writes the derived totals of a fund
func (r *Repository) UpdateFundRollup(ctx context.Context, f *Fund) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE funds SET total_awarded = ?, total_distributed = ?, proposal_count = ?,
			funded_count = ?, completed_count = ?, rollup_at = ?
		WHERE id = ?
	`, f.TotalAwarded, f.TotalDistributed, f.ProposalCount, f.FundedCount, f.CompletedCount, f.RollupAt, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update fund rollup: %w", err)
	}
	return nil
}

// UpsertProject inserts a project or refreshes its proposal fields by
// external id, stamping the row with at. Collected signal columns are left
// untouched.
func (r *Repository) UpsertProject(ctx context.Context, p *Project, at time.Time) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = at
	}
	p.UpdatedAt = at

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO projects (id, external_id, fund_id, title, category, status, funded,
			amount_requested, amount_received, currency, repository_url, wallet_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			fund_id = excluded.fund_id,
			title = excluded.title,
			category = excluded.category,
			status = excluded.status,
			funded = excluded.funded,
			amount_requested = excluded.amount_requested,
			amount_received = excluded.amount_received,
			currency = excluded.currency,
			repository_url = excluded.repository_url,
			wallet_address = excluded.wallet_address,
			updated_at = excluded.updated_at
		RETURNING id
	`, p.ID, p.ExternalID, p.FundID, p.Title, p.Category, p.Status, p.Funded,
		p.AmountRequested, p.AmountReceived, p.Currency, p.RepositoryURL, p.WalletAddress,
		p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

const projectColumns = `p.id, p.external_id, p.fund_id, f.number, p.title, p.category, p.status, p.funded,
	p.amount_requested, p.amount_received, p.currency, p.repository_url, p.wallet_address,
	p.repo_activity_score, p.repo_stars, p.repo_forks, p.repo_contributors, p.repo_synced_at,
	p.chain_tx_count, p.chain_unique_counterparties, p.chain_total_received, p.chain_synced_at,
	p.review_count, p.mean_rating, p.created_at, p.updated_at`

func scanProject(row rowScanner) (*Project, error) {
	var (
		p        Project
		activity sql.NullFloat64
		stars    int
		forks    int
		contribs int
		txCount  sql.NullInt64
		unique   int
		received float64
	)
	err := row.Scan(&p.ID, &p.ExternalID, &p.FundID, &p.FundNumber, &p.Title, &p.Category, &p.Status, &p.Funded,
		&p.AmountRequested, &p.AmountReceived, &p.Currency, &p.RepositoryURL, &p.WalletAddress,
		&activity, &stars, &forks, &contribs, &p.RepoSyncedAt,
		&txCount, &unique, &received, &p.ChainSyncedAt,
		&p.ReviewCount, &p.MeanRating, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if activity.Valid {
		p.Repository = &analysis.RepositorySignal{
			ActivityScore: activity.Float64,
			Stars:         stars,
			Forks:         forks,
			Contributors:  contribs,
		}
	}
	if txCount.Valid {
		p.OnChain = &analysis.OnChainSignal{
			TransactionCount:     int(txCount.Int64),
			UniqueCounterparties: unique,
			TotalReceived:        received,
		}
	}
	return &p, nil
}

// GetProject gets a project by id
func (r *Repository) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(r.q.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p JOIN funds f ON f.id = p.fund_id
		WHERE p.id = ?
	`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, notFound(err))
	}
	return p, nil
}

// ProjectFilter narrows ListProjects. Zero values match everything.
type ProjectFilter struct {
	FundNumber int
	Category   string
	Status     string
	Limit      int
	Offset     int
}

// ListProjects returns projects matching the filter ordered by fund and title
func (r *Repository) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
	var (
		where []string
		args  []any
	)
	if filter.FundNumber > 0 {
		where = append(where, "f.number = ?")
		args = append(args, filter.FundNumber)
	}
	if filter.Category != "" {
		where = append(where, "p.category = ?")
		args = append(args, filter.Category)
	}
	if filter.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + projectColumns + ` FROM projects p JOIN funds f ON f.id = p.fund_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY f.number, p.title, p.id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	return r.queryProjects(ctx, query, args...)
}

// ListProjectsForPerson returns every project linked to a person
func (r *Repository) ListProjectsForPerson(ctx context.Context, personID string) ([]Project, error) {
	return r.queryProjects(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		JOIN funds f ON f.id = p.fund_id
		JOIN project_people pp ON pp.project_id = p.id
		WHERE pp.person_id = ?
		ORDER BY f.number, p.id
	`, personID)
}

// ListProjectsForFund returns every project in a fund
func (r *Repository) ListProjectsForFund(ctx context.Context, fundID string) ([]Project, error) {
	return r.queryProjects(ctx, `
		SELECT `+projectColumns+`
		FROM projects p JOIN funds f ON f.id = p.fund_id
		WHERE p.fund_id = ?
		ORDER BY p.id
	`, fundID)
}

func (r *Repository) queryProjects(ctx context.Context, query string, args ...any) ([]Project, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// ListProjectIDs returns project ids in a stable order. A limit of zero
// or less returns all of them.
func (r *Repository) ListProjectIDs(ctx context.Context, limit int) ([]string, error) {
	return r.queryIDs(ctx, "projects", limit)
}

// ListPersonIDs returns person ids in a stable order. A limit of zero or
// less returns all of them.
func (r *Repository) ListPersonIDs(ctx context.Context, limit int) ([]string, error) {
	return r.queryIDs(ctx, "people", limit)
}

func (r *Repository) queryIDs(ctx context.Context, table string, limit int) ([]string, error) {
	query := "SELECT id FROM " + table + " ORDER BY id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: %w", what, ErrNotFound)
	}
	return nil
}

// UpdateRepositorySignal stores the code-hosting signal of a project
func (r *Repository) UpdateRepositorySignal(ctx context.Context, projectID string, sig analysis.RepositorySignal, at time.Time) error {
	return r.execOne(ctx, "update repository signal", `
		UPDATE projects SET repo_activity_score = ?, repo_stars = ?, repo_forks = ?,
			repo_contributors = ?, repo_synced_at = ?
		WHERE id = ?
	`, sig.ActivityScore, sig.Stars, sig.Forks, sig.Contributors, at, projectID)
}

// UpdateOnChainSignal stores the wallet signal of a project
func (r *Repository) UpdateOnChainSignal(ctx context.Context, projectID string, sig analysis.OnChainSignal, at time.Time) error {
	return r.execOne(ctx, "update on-chain signal", `
		UPDATE projects SET chain_tx_count = ?, chain_unique_counterparties = ?,
			chain_total_received = ?, chain_synced_at = ?
		WHERE id = ?
	`, sig.TransactionCount, sig.UniqueCounterparties, sig.TotalReceived, at, projectID)
}

// UpdateCommunitySignal stores the review aggregate of a project
func (r *Repository) UpdateCommunitySignal(ctx context.Context, projectID string, sig analysis.CommunitySignal) error {
	return r.execOne(ctx, "update community signal", `
		UPDATE projects SET review_count = ?, mean_rating = ? WHERE id = ?
	`, sig.ReviewCount, sig.MeanRating, projectID)
}

// ReplaceMilestones swaps the milestone set of a project
func (r *Repository) ReplaceMilestones(ctx context.Context, projectID string, milestones []Milestone) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM milestones WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to clear milestones: %w", err)
	}
	for i := range milestones {
		m := &milestones[i]
		if m.ID == "" {
			m.ID = NewID()
		}
		m.ProjectID = projectID
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO milestones (id, project_id, title, status, due_date, approved_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ID, m.ProjectID, m.Title, m.Status, m.DueDate, m.ApprovedAt)
		if err != nil {
			return fmt.Errorf("failed to insert milestone: %w", err)
		}
	}
	return nil
}

// ListMilestones returns the milestones of a project
func (r *Repository) ListMilestones(ctx context.Context, projectID string) ([]Milestone, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, project_id, title, status, due_date, approved_at
		FROM milestones WHERE project_id = ?
		ORDER BY due_date, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer rows.Close()

	var milestones []Milestone
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Title, &m.Status, &m.DueDate, &m.ApprovedAt); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// UpsertPerson inserts a person or refreshes the name by external id
func (r *Repository) UpsertPerson(ctx context.Context, p *Person) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO people (id, external_id, name) VALUES (?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET name = excluded.name
		RETURNING id
	`, p.ID, p.ExternalID, p.Name).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert person: %w", err)
	}
	return nil
}

// LinkPerson records that a person worked on a project
func (r *Repository) LinkPerson(ctx context.Context, projectID, personID string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO project_people (project_id, person_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, projectID, personID)
	if err != nil {
		return fmt.Errorf("failed to link person: %w", err)
	}
	return nil
}

// GetPerson gets a person by id
func (r *Repository) GetPerson(ctx context.Context, id string) (*Person, error) {
	var p Person
	err := r.q.QueryRowContext(ctx, `
		SELECT id, external_id, name, funded_count, completed_count,
			total_requested_usd, total_awarded_usd, total_received_usd, rollup_at
		FROM people WHERE id = ?
	`, id).Scan(&p.ID, &p.ExternalID, &p.Name, &p.FundedCount, &p.CompletedCount,
		&p.TotalRequestedUSD, &p.TotalAwardedUSD, &p.TotalReceivedUSD, &p.RollupAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get person %s: %w", id, notFound(err))
	}
	return &p, nil
}

// UpdatePersonRollup writes the derived USD totals of a person
func (r *Repository) UpdatePersonRollup(ctx context.Context, p *Person) error {
	return r.execOne(ctx, "update person rollup", `
		UPDATE people SET funded_count = ?, completed_count = ?, total_requested_usd = ?,
			total_awarded_usd = ?, total_received_usd = ?, rollup_at = ?
		WHERE id = ?
	`, p.FundedCount, p.CompletedCount, p.TotalRequestedUSD, p.TotalAwardedUSD, p.TotalReceivedUSD, p.RollupAt, p.ID)
}

// InsertROIRecord appends a calculation snapshot
func (r *Repository) InsertROIRecord(ctx context.Context, rec *ROIRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO roi_records (id, project_id,
			repository_score, repository_weight, deliverable_score, deliverable_weight,
			on_chain_score, on_chain_weight, community_score, community_weight,
			outcome_score, badge, funding_amount, funding_currency, funding_usd,
			conversion_rate, rate_source, normalized_funding, raw_roi, roi_score, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ProjectID,
		rec.RepositoryScore, rec.RepositoryWeight, rec.DeliverableScore, rec.DeliverableWeight,
		rec.OnChainScore, rec.OnChainWeight, rec.CommunityScore, rec.CommunityWeight,
		rec.OutcomeScore, rec.Badge, rec.FundingAmount, rec.FundingCurrency, rec.FundingUSD,
		rec.ConversionRate, rec.RateSource, rec.NormalizedFunding, rec.RawROI, rec.ROIScore, rec.CalculatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert roi record: %w", err)
	}
	return nil
}

const roiColumns = `r.id, r.project_id,
	r.repository_score, r.repository_weight, r.deliverable_score, r.deliverable_weight,
	r.on_chain_score, r.on_chain_weight, r.community_score, r.community_weight,
	r.outcome_score, r.badge, r.funding_amount, r.funding_currency, r.funding_usd,
	r.conversion_rate, r.rate_source, r.normalized_funding, r.raw_roi, r.roi_score,
	r.category_percentile, r.overall_percentile, r.percentile_batch_id, r.percentile_at, r.calculated_at`

func scanROIRecord(row rowScanner, extra ...any) (*ROIRecord, error) {
	var rec ROIRecord
	dest := []any{&rec.ID, &rec.ProjectID,
		&rec.RepositoryScore, &rec.RepositoryWeight, &rec.DeliverableScore, &rec.DeliverableWeight,
		&rec.OnChainScore, &rec.OnChainWeight, &rec.CommunityScore, &rec.CommunityWeight,
		&rec.OutcomeScore, &rec.Badge, &rec.FundingAmount, &rec.FundingCurrency, &rec.FundingUSD,
		&rec.ConversionRate, &rec.RateSource, &rec.NormalizedFunding, &rec.RawROI, &rec.ROIScore,
		&rec.CategoryPercentile, &rec.OverallPercentile, &rec.PercentileBatchID, &rec.PercentileAt, &rec.CalculatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestROIRecord returns the newest snapshot of a project
func (r *Repository) LatestROIRecord(ctx context.Context, projectID string) (*ROIRecord, error) {
	rec, err := scanROIRecord(r.q.QueryRowContext(ctx, `
		SELECT `+roiColumns+` FROM roi_records r
		WHERE r.project_id = ?
		ORDER BY r.calculated_at DESC, r.rowid DESC
		LIMIT 1
	`, projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest roi for %s: %w", projectID, notFound(err))
	}
	return rec, nil
}

// ListROIHistory returns snapshots of a project, newest first
func (r *Repository) ListROIHistory(ctx context.Context, projectID string, limit int) ([]ROIRecord, error) {
	query := `SELECT ` + roiColumns + ` FROM roi_records r
		WHERE r.project_id = ?
		ORDER BY r.calculated_at DESC, r.rowid DESC`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roi history: %w", err)
	}
	defer rows.Close()

	var records []ROIRecord
	for rows.Next() {
		rec, err := scanROIRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan roi record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// LatestROIRecords returns the newest snapshot of every project that has one
func (r *Repository) LatestROIRecords(ctx context.Context) ([]LatestROI, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+roiColumns+`, p.category
		FROM roi_records r
		JOIN projects p ON p.id = r.project_id
		WHERE r.rowid = (
			SELECT r2.rowid FROM roi_records r2
			WHERE r2.project_id = r.project_id
			ORDER BY r2.calculated_at DESC, r2.rowid DESC
			LIMIT 1
		)
		ORDER BY r.project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest roi records: %w", err)
	}
	defer rows.Close()

	var latest []LatestROI
	for rows.Next() {
		var category string
		rec, err := scanROIRecord(rows, &category)
		if err != nil {
			return nil, fmt.Errorf("failed to scan roi record: %w", err)
		}
		latest = append(latest, LatestROI{Record: *rec, Category: category})
	}
	return latest, rows.Err()
}

// UpdatePercentiles stamps ranking results onto existing snapshots, keyed
// by record id.
func (r *Repository) UpdatePercentiles(ctx context.Context, batchID string, at time.Time, values map[string]analysis.Percentiles) error {
	for recordID, pct := range values {
		err := r.execOne(ctx, "update percentiles", `
			UPDATE roi_records SET category_percentile = ?, overall_percentile = ?,
				percentile_batch_id = ?, percentile_at = ?
			WHERE id = ?
		`, pct.Category, pct.Overall, batchID, at, recordID)
		if err != nil {
			return err
		}
	}
	return nil
}

const scoreColumns = `id, person_id, completion_score, delivery_score, community_score,
	efficiency_score, communication_score, breakdown, overall_score, badge, state,
	scoring_version, calculated_at`

func scanScore(row rowScanner) (*AccountabilityScore, error) {
	var s AccountabilityScore
	err := row.Scan(&s.ID, &s.PersonID, &s.CompletionScore, &s.DeliveryScore, &s.CommunityScore,
		&s.EfficiencyScore, &s.CommunicationScore, &s.Breakdown, &s.OverallScore, &s.Badge, &s.State,
		&s.ScoringVersion, &s.CalculatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetAccountabilityScore returns the current score of a person
func (r *Repository) GetAccountabilityScore(ctx context.Context, personID string) (*AccountabilityScore, error) {
	s, err := scanScore(r.q.QueryRowContext(ctx, `SELECT `+scoreColumns+` FROM accountability_scores WHERE person_id = ?`, personID))
	if err != nil {
		return nil, fmt.Errorf("failed to get score for %s: %w", personID, notFound(err))
	}
	return s, nil
}

// GetAccountabilityScoreByID returns a score by its own id
func (r *Repository) GetAccountabilityScoreByID(ctx context.Context, id string) (*AccountabilityScore, error) {
	s, err := scanScore(r.q.QueryRowContext(ctx, `SELECT `+scoreColumns+` FROM accountability_scores WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get score %s: %w", id, notFound(err))
	}
	return s, nil
}

// ListAccountabilityScores returns scores in the given state, highest first.
// An empty state matches every score.
func (r *Repository) ListAccountabilityScores(ctx context.Context, state string, limit int) ([]AccountabilityScore, error) {
	query := `SELECT ` + scoreColumns + ` FROM accountability_scores`
	var args []any
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, state)
	}
	query += " ORDER BY overall_score DESC, person_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	defer rows.Close()

	var scores []AccountabilityScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, *s)
	}
	return scores, rows.Err()
}

// UpsertAccountabilityScore writes the current score of a person. The row
// id never changes after first insert and a disputed score stays disputed.
// s.ID and s.State are refreshed from the stored row.
func (r *Repository) UpsertAccountabilityScore(ctx context.Context, s *AccountabilityScore) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO accountability_scores (`+scoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id) DO UPDATE SET
			completion_score = excluded.completion_score,
			delivery_score = excluded.delivery_score,
			community_score = excluded.community_score,
			efficiency_score = excluded.efficiency_score,
			communication_score = excluded.communication_score,
			breakdown = excluded.breakdown,
			overall_score = excluded.overall_score,
			badge = excluded.badge,
			state = CASE WHEN accountability_scores.state = 'disputed' THEN 'disputed' ELSE excluded.state END,
			scoring_version = excluded.scoring_version,
			calculated_at = excluded.calculated_at
		RETURNING id, state
	`, s.ID, s.PersonID, s.CompletionScore, s.DeliveryScore, s.CommunityScore,
		s.EfficiencyScore, s.CommunicationScore, s.Breakdown, s.OverallScore, s.Badge, s.State,
		s.ScoringVersion, s.CalculatedAt).Scan(&s.ID, &s.State)
	if err != nil {
		return fmt.Errorf("failed to upsert score: %w", err)
	}
	return nil
}

// SetScoreState moves a score to a new visibility state when it is
// currently in the expected one.
func (r *Repository) SetScoreState(ctx context.Context, scoreID, from, to string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE accountability_scores SET state = ? WHERE id = ? AND state = ?
	`, to, scoreID, from)
	if err != nil {
		return fmt.Errorf("failed to set score state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set score state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("score %s not in state %s: %w", scoreID, from, ErrStale)
	}
	return nil
}

// InsertDispute records a new pending dispute. ErrDuplicate is returned
// when the filer already has a pending dispute on the score.
func (r *Repository) InsertDispute(ctx context.Context, d *Dispute) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO disputes (id, score_id, filed_by, reason, evidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ScoreID, d.FiledBy, d.Reason, d.Evidence, d.Status, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert dispute: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert dispute: %w", err)
	}
	return nil
}

const disputeColumns = `id, score_id, filed_by, reason, evidence, status, resolved_by, resolution, created_at, resolved_at`

func scanDispute(row rowScanner) (*Dispute, error) {
	var d Dispute
	err := row.Scan(&d.ID, &d.ScoreID, &d.FiledBy, &d.Reason, &d.Evidence, &d.Status,
		&d.ResolvedBy, &d.Resolution, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDispute gets a dispute by id
func (r *Repository) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	d, err := scanDispute(r.q.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute %s: %w", id, notFound(err))
	}
	return d, nil
}

// ListDisputes returns the disputes filed against a score, oldest first
func (r *Repository) ListDisputes(ctx context.Context, scoreID string) ([]Dispute, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE score_id = ? ORDER BY created_at, id
	`, scoreID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	var disputes []Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		disputes = append(disputes, *d)
	}
	return disputes, rows.Err()
}

// HasPendingDispute reports whether filedBy has an open dispute on the score
func (r *Repository) HasPendingDispute(ctx context.Context, scoreID, filedBy string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM disputes WHERE score_id = ? AND filed_by = ? AND status = 'pending'
	`, scoreID, filedBy).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending disputes: %w", err)
	}
	return n > 0, nil
}

// ResolveDispute closes a pending dispute. ErrStale is returned when the
// dispute was already resolved.
func (r *Repository) ResolveDispute(ctx context.Context, d *Dispute) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE disputes SET status = ?, resolved_by = ?, resolution = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'
	`, d.Status, d.ResolvedBy, d.Resolution, d.ResolvedAt, d.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve dispute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve dispute: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("dispute %s is not pending: %w", d.ID, ErrStale)
	}
	return nil
}

// AppendAudit writes an audit entry
func (r *Repository) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, action, actor, subject_type, subject_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Action, e.Actor, e.SubjectType, e.SubjectID, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail of a subject, oldest first
func (r *Repository) ListAudit(ctx context.Context, subjectType, subjectID string) ([]AuditEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, action, actor, subject_type, subject_id, payload, created_at
		FROM audit_entries
		WHERE subject_type = ? AND subject_id = ?
		ORDER BY created_at, rowid
	`, subjectType, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.SubjectType, &e.SubjectID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
