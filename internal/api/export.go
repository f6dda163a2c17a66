package api

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/fundscope/internal/database"
)

var roiCSVHeader = []string{
	"project_id", "category", "outcome_score", "badge",
	"funding_amount", "funding_currency", "funding_usd", "conversion_rate", "rate_source",
	"normalized_funding", "raw_roi", "roi_score",
	"category_percentile", "overall_percentile", "percentile_batch_id", "calculated_at",
}

// WriteROICSV renders the current record of every project, one row each.
// Percentile columns are empty until a percentile batch has ranked the row.
func WriteROICSV(w io.Writer, rows []database.LatestROI) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(roiCSVHeader); err != nil {
		return err
	}
	for _, row := range rows {
		r := row.Record
		if err := cw.Write([]string{
			r.ProjectID,
			row.Category,
			formatFloat(r.OutcomeScore),
			r.Badge,
			formatFloat(r.FundingAmount),
			r.FundingCurrency,
			formatFloat(r.FundingUSD),
			formatFloat(r.ConversionRate),
			r.RateSource,
			formatFloat(r.NormalizedFunding),
			formatFloat(r.RawROI),
			formatFloat(r.ROIScore),
			optionalFloat(r.CategoryPercentile),
			optionalFloat(r.OverallPercentile),
			optionalString(r.PercentileBatchID),
			r.CalculatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (s *Server) exportROI(c *gin.Context) {
	rows, err := s.deps.Repo.LatestROIRecords(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="roi.csv"`)
	if err := WriteROICSV(c.Writer, rows); err != nil {
		s.logger.Error("CSV export failed", "error", err)
	}
}
