package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/fundscope/internal/database"
	"github.com/ZanzyTHEbar/fundscope/internal/dispute"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
)

// lookup maps a repository miss onto a not-found error for resource.
func lookup(err error, resource, id string) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperrors.NewNotFoundError(resource, id)
	}
	return err
}

// intQuery reads a non-negative integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError(name+" must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) listFunds(c *gin.Context) {
	funds, err := s.deps.Repo.ListFunds(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"funds": funds, "count": len(funds)})
}

// getFund accepts either the fund id or its ordinal.
func (s *Server) getFund(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	var (
		fund *database.Fund
		err  error
	)
	if number, convErr := strconv.Atoi(id); convErr == nil {
		fund, err = s.deps.Repo.GetFundByNumber(ctx, number)
	} else {
		fund, err = s.deps.Repo.GetFund(ctx, id)
	}
	if err != nil {
		_ = c.Error(lookup(err, "fund", id))
		return
	}
	projects, err := s.deps.Repo.ListProjectsForFund(ctx, fund.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fund": fund, "projects": projects})
}

func (s *Server) listProjects(c *gin.Context) {
	fund, err := intQuery(c, "fund", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		_ = c.Error(err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}

	projects, err := s.deps.Repo.ListProjects(c.Request.Context(), database.ProjectFilter{
		FundNumber: fund,
		Category:   c.Query("category"),
		Status:     c.Query("status"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

func (s *Server) getProject(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	project, err := s.deps.Repo.GetProject(ctx, id)
	if err != nil {
		_ = c.Error(lookup(err, "project", id))
		return
	}
	milestones, err := s.deps.Repo.ListMilestones(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project, "milestones": milestones})
}

func (s *Server) currentROI(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.deps.ROI.Current(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(lookup(err, "roi record", id))
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) roiHistory(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	id := c.Param("id")
	history, err := s.deps.ROI.History(c.Request.Context(), id, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if history == nil {
		history = []database.ROIRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"project_id": id, "history": history})
}

func (s *Server) calculateROI(c *gin.Context) {
	id := c.Param("id")
	result, err := s.deps.ROI.CalculateProjectROI(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if result == nil {
		_ = c.Error(apperrors.NewNotFoundError("project", id))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) recalculateROI(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	summary, err := s.deps.ROI.RecalculateAllROI(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) percentiles(c *gin.Context) {
	batch, err := s.deps.ROI.CalculateCategoryPercentiles(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) getPerson(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	person, err := s.deps.Repo.GetPerson(ctx, id)
	if err != nil {
		_ = c.Error(lookup(err, "person", id))
		return
	}
	projects, err := s.deps.Repo.ListProjectsForPerson(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"person": person, "projects": projects})
}

func (s *Server) visibleScore(c *gin.Context) {
	score, err := s.deps.Accountability.Visible(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (s *Server) publishedScores(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		_ = c.Error(err)
		return
	}
	scores, err := s.deps.Accountability.Published(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": scores, "count": len(scores)})
}

func (s *Server) recalculatePerson(c *gin.Context) {
	score, err := s.deps.Accountability.RecalculatePerson(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (s *Server) recalculateAccountability(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	result, err := s.deps.Accountability.RecalculateAll(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) runRollups(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	summary, err := s.deps.Rollups.Run(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type fileDisputeBody struct {
	Reason   string `json:"reason"`
	Evidence string `json:"evidence"`
}

func (s *Server) fileDispute(c *gin.Context) {
	var body fileDisputeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid request body", "body"))
		return
	}
	d, err := s.deps.Disputes.File(c.Request.Context(), dispute.FileRequest{
		ScoreID:  c.Param("id"),
		FiledBy:  c.GetString(ActorKey),
		Reason:   body.Reason,
		Evidence: body.Evidence,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

type resolveDisputeBody struct {
	Approve    *bool  `json:"approve"`
	Resolution string `json:"resolution"`
}

func (s *Server) resolveDispute(c *gin.Context) {
	var body resolveDisputeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid request body", "body"))
		return
	}
	if body.Approve == nil {
		_ = c.Error(apperrors.NewValidationError("approve is required", "approve"))
		return
	}
	d, err := s.deps.Disputes.Resolve(c.Request.Context(), dispute.ResolveRequest{
		DisputeID:  c.Param("id"),
		ReviewedBy: c.GetString(ActorKey),
		Approve:    *body.Approve,
		Resolution: body.Resolution,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) listDisputes(c *gin.Context) {
	disputes, err := s.deps.Repo.ListDisputes(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if disputes == nil {
		disputes = []database.Dispute{}
	}
	c.JSON(http.StatusOK, gin.H{"disputes": disputes})
}

func (s *Server) auditHistory(c *gin.Context) {
	entries, err := s.deps.Disputes.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if entries == nil {
		entries = []database.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) refreshSignals(c *gin.Context) {
	out, err := s.deps.Collector.RefreshProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) syncSignals(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	summary, err := s.deps.Collector.RefreshAll(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) syncProposals(c *gin.Context) {
	pages, err := intQuery(c, "pages", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	summary, err := s.deps.Ingester.SyncAll(c.Request.Context(), pages)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) syncProposal(c *gin.Context) {
	projectID, err := s.deps.Ingester.SyncProposal(c.Request.Context(), c.Param("external_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": projectID})
}
