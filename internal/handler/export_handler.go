package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/leaveflow/internal/dto"
	"github.com/campuskit/leaveflow/internal/models"
	"github.com/campuskit/leaveflow/internal/service"
	"github.com/campuskit/leaveflow/pkg/response"
)

type registerExporter interface {
	Generate(ctx context.Context, format string, query dto.ApplicationQuery, actor *models.JWTClaims) (*service.ExportResult, error)
	Resolve(token string) (*os.File, error)
}

// ExportHandler exposes the leave register export endpoints.
type ExportHandler struct {
	service registerExporter
}

// NewExportHandler constructs the handler.
func NewExportHandler(service registerExporter) *ExportHandler {
	return &ExportHandler{service: service}
}

// Generate godoc
// @Summary Export the leave register
// @Tags Leave
// @Produce json
// @Param format query string true "Export format (csv or pdf)"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /leave/export [get]
func (h *ExportHandler) Generate(c *gin.Context) {
	result, err := h.service.Generate(c.Request.Context(), c.Query("format"), parseApplicationQuery(c), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ExportResponse{
		URL:       result.URL,
		Format:    result.Format,
		ExpiresAt: result.ExpiresAt,
	}, nil)
}

// Download godoc
// @Summary Download a generated export
// @Tags Leave
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /leave/export/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, err := h.service.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	name := filepath.Base(file.Name())
	c.FileAttachment(file.Name(), name)
}
