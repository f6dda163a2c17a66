package api

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
)

func TestIssueAndVerify(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	auth := NewAuthenticator("secret", clk)

	tok, err := auth.IssueToken("alice", RoleReviewer, time.Hour)
	require.NoError(t, err)

	subject, role, err := auth.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
	assert.Equal(t, RoleReviewer, role)

	clk.Advance(2 * time.Hour)
	_, _, err = auth.Verify(tok)
	assert.Equal(t, apperrors.CategoryUnauthorized, apperrors.ToAppError(err).Category)
}

func TestVerifyRejects(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	auth := NewAuthenticator("secret", clk)

	other, err := NewAuthenticator("other", clk).IssueToken("alice", RoleAdmin, time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice",
		"exp": clk.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": clk.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", other},
		{"alg none", unsigned},
		{"no expiry", noExpiry},
		{"no subject", noSubject},
		{"garbage", "abc.def.ghi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := auth.Verify(tt.token)
			require.Error(t, err)
			assert.Equal(t, apperrors.CategoryUnauthorized, apperrors.ToAppError(err).Category)
		})
	}
}

func TestDefaultRoleAndDisabledAuth(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	auth := NewAuthenticator("secret", clk)

	tok, err := auth.IssueToken("bob", "", 0)
	require.NoError(t, err)
	_, role, err := auth.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, role)

	disabled := NewAuthenticator("", clk)
	assert.False(t, disabled.Enabled())
	_, err = disabled.IssueToken("bob", RoleAdmin, time.Hour)
	assert.Error(t, err)
	_, _, err = disabled.Verify(tok)
	assert.Error(t, err)

	_, err = auth.IssueToken("  ", RoleAdmin, time.Hour)
	assert.True(t, apperrors.IsValidation(err))
}

func TestWriteROICSV(t *testing.T) {
	pct := 75.0
	batch := "batch-1"
	rows := []database.LatestROI{
		{
			Category: "dev-tools, infra",
			Record: database.ROIRecord{
				ProjectID:          "p1",
				OutcomeScore:       80,
				Badge:              "exemplary",
				FundingAmount:      20000,
				FundingCurrency:    "USD",
				FundingUSD:         20000,
				ConversionRate:     1,
				RateSource:         "native",
				NormalizedFunding:  20000,
				RawROI:             0.4,
				ROIScore:           40,
				CategoryPercentile: &pct,
				OverallPercentile:  &pct,
				PercentileBatchID:  &batch,
				CalculatedAt:       time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			Category: "dao",
			Record: database.ROIRecord{
				ProjectID:    "p2",
				CalculatedAt: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteROICSV(&buf, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(roiCSVHeader, ","), lines[0])
	assert.Equal(t, `p1,"dev-tools, infra",80,exemplary,20000,USD,20000,1,native,20000,0.4,40,75,75,batch-1,2025-05-01T00:00:00Z`, lines[1])
	assert.Equal(t, "p2,dao,0,,0,,0,0,,0,0,0,,,,2025-05-02T00:00:00Z", lines[2])
}
