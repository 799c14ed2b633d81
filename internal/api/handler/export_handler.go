package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"mvalley/backend/internal/service"
	"mvalley/backend/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc service.ExportService
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportRun 导出分配批次为 Excel
// GET /api/v1/allocation/runs/:id/export
func (h *ExportHandler) ExportRun(c *gin.Context) {
	id, ok := requireParam(c, "id", "批次ID")
	if !ok {
		return
	}

	buf, filename, err := h.exportSvc.ExportRun(c.Request.Context(), id)
	if err != nil {
		h.handleExportError(c, err)
		return
	}

	// 设置下载响应头
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *ExportHandler) handleExportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		response.NotFound(c, 20001, "分配批次不存在")
	case errors.Is(err, service.ErrExportRunPending):
		response.Conflict(c, 20011, "分配批次尚未完成，暂不能导出")
	default:
		response.InternalError(c)
	}
}
