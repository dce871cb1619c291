package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuskit/leaveflow/internal/dto"
	"github.com/campuskit/leaveflow/internal/models"
	appErrors "github.com/campuskit/leaveflow/pkg/errors"
	"github.com/campuskit/leaveflow/pkg/export"
	"github.com/campuskit/leaveflow/pkg/storage"
)

type exportLister interface {
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.LeaveApplication, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes register export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       string
	ExpiresAt    time.Time
}

// ExportService renders the leave register as CSV or PDF, stores the file and
// hands out HMAC-signed download links.
type ExportService struct {
	apps    exportLister
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	audit   auditRecorder
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(apps exportLister, store fileStorage, signer *storage.SignedURLSigner, audit auditRecorder, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		apps:    apps,
		storage: store,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		signer:  signer,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate renders the register in the requested format and returns a signed
// download descriptor.
func (s *ExportService) Generate(ctx context.Context, format string, query dto.ApplicationQuery, actor *models.JWTClaims) (*ExportResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format: %s", format))
	}

	apps, _, err := s.apps.List(ctx, models.ApplicationFilter{
		Statuses: query.Statuses,
		Type:     query.Type,
		Priority: query.Priority,
		Page:     1,
		PageSize: 200,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load register")
	}

	dataset := buildRegisterDataset(apps)
	var payload []byte
	switch format {
	case "csv":
		payload, err = s.csv.Render(dataset)
	case "pdf":
		payload, err = s.pdf.Render(dataset, "Leave Register")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render register")
	}

	exportID := uuid.NewString()
	filename := fmt.Sprintf("leave-register-%s-%s.%s", time.Now().UTC().Format("20060102-150405"), exportID[:8], format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionLeaveExport,
			Resource:   "leave_register",
			ResourceID: &exportID,
			NewValues:  []byte(fmt.Sprintf(`{"format":%q,"rows":%d}`, format, len(apps))),
		}); err != nil {
			s.logger.Warn("failed to record export audit log", zap.Error(err))
		}
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/leave/export/%s", prefix, token),
		Format:       format,
		ExpiresAt:    expiresAt,
	}, nil
}

// Resolve validates a download token and opens the stored file.
func (s *ExportService) Resolve(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
	}
	return file, nil
}

// Cleanup removes stored exports older than the result TTL.
func (s *ExportService) Cleanup() {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("removed expired exports", zap.Int("count", len(removed)))
	}
}

func buildRegisterDataset(apps []models.LeaveApplication) export.Dataset {
	dataset := export.Dataset{
		Headers: []string{"ID", "Student", "Student Number", "Course", "Type", "Start", "End", "Days", "Priority", "Status", "Stage", "Submitted"},
	}
	for _, app := range apps {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"ID":             app.ID,
			"Student":        app.StudentName,
			"Student Number": app.StudentNumber,
			"Course":         app.Course,
			"Type":           string(app.Type),
			"Start":          app.StartDate.Format("2006-01-02"),
			"End":            app.EndDate.Format("2006-01-02"),
			"Days":           fmt.Sprintf("%d", app.TotalDays),
			"Priority":       string(app.Priority),
			"Status":         string(app.Status),
			"Stage":          string(app.Stage),
			"Submitted":      app.SubmittedAt.Format(time.RFC3339),
		})
	}
	return dataset
}
