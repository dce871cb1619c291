package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/leaveflow/internal/dto"
	"github.com/campuskit/leaveflow/internal/models"
	appErrors "github.com/campuskit/leaveflow/pkg/errors"
	"github.com/campuskit/leaveflow/pkg/storage"
)

type exportListerStub struct {
	apps []models.LeaveApplication
}

func (s *exportListerStub) List(ctx context.Context, filter models.ApplicationFilter) ([]models.LeaveApplication, int, error) {
	return s.apps, len(s.apps), nil
}

func newExportFixture(t *testing.T) (*ExportService, *recorderStub) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-secret", time.Hour)
	lister := &exportListerStub{apps: []models.LeaveApplication{
		{
			ID:          "app-1",
			StudentName: "Alice Tan",
			Type:        models.LeaveTypeMedical,
			StartDate:   time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
			EndDate:     time.Date(2026, 9, 9, 0, 0, 0, 0, time.UTC),
			TotalDays:   3,
			Priority:    models.PriorityHigh,
			Status:      models.StatusPending,
			Stage:       models.StageStudentSubmitted,
			SubmittedAt: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
		},
	}}
	audit := &recorderStub{}
	svc := NewExportService(lister, store, signer, audit, ExportConfig{APIPrefix: "/api/v1"}, nil)
	return svc, audit
}

func TestExportServiceGenerateCSV(t *testing.T) {
	svc, audit := newExportFixture(t)
	actor := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	result, err := svc.Generate(context.Background(), "csv", dto.ApplicationQuery{}, actor)
	require.NoError(t, err)
	require.Equal(t, "csv", result.Format)
	require.True(t, strings.HasPrefix(result.URL, "/api/v1/leave/export/"))
	require.True(t, result.ExpiresAt.After(time.Now()))
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionLeaveExport, audit.logs[0].Action)

	file, err := svc.Resolve(result.Token)
	require.NoError(t, err)
	defer file.Close()
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	require.Contains(t, string(content), "Alice Tan")
	require.Contains(t, string(content), "MEDICAL")
}

func TestExportServiceGeneratePDF(t *testing.T) {
	svc, _ := newExportFixture(t)
	actor := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	result, err := svc.Generate(context.Background(), "pdf", dto.ApplicationQuery{}, actor)
	require.NoError(t, err)
	require.Equal(t, "pdf", result.Format)

	file, err := svc.Resolve(result.Token)
	require.NoError(t, err)
	defer file.Close()
	header := make([]byte, 4)
	_, err = file.Read(header)
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(header))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc, _ := newExportFixture(t)
	actor := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	_, err := svc.Generate(context.Background(), "xlsx", dto.ApplicationQuery{}, actor)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestExportServiceResolveRejectsForgedToken(t *testing.T) {
	svc, _ := newExportFixture(t)
	_, err := svc.Resolve("forged.token.value")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}
