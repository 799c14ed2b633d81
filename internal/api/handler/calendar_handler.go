package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mvalley/backend/internal/service"
	"mvalley/backend/pkg/response"
)

const icsContentType = "text/calendar; charset=utf-8"

// CalendarHandler iCalendar 订阅源 HTTP 处理器
type CalendarHandler struct {
	calendarSvc service.CalendarService
}

// NewCalendarHandler 创建 CalendarHandler
func NewCalendarHandler(calendarSvc service.CalendarService) *CalendarHandler {
	return &CalendarHandler{calendarSvc: calendarSvc}
}

// InstructorCalendar 讲师已确认班组日历
// GET /api/v1/calendars/instructors/:file（:file 形如 <id>.ics）
func (h *CalendarHandler) InstructorCalendar(c *gin.Context) {
	h.serve(c, h.calendarSvc.InstructorFeed)
}

// RoomCalendar 教室已确认班组日历
// GET /api/v1/calendars/rooms/:file
func (h *CalendarHandler) RoomCalendar(c *gin.Context) {
	h.serve(c, h.calendarSvc.RoomFeed)
}

func (h *CalendarHandler) serve(c *gin.Context, feed func(ctx context.Context, id string) ([]byte, string, error)) {
	file := c.Param("file")
	id := strings.TrimSuffix(file, ".ics")
	if id == "" || id == file {
		response.NotFound(c, 22003, "日历不存在")
		return
	}

	body, filename, err := feed(c.Request.Context(), id)
	if err != nil {
		h.handleCalendarError(c, err)
		return
	}

	c.Header("Content-Disposition", "inline; filename="+filename)
	c.Data(http.StatusOK, icsContentType, body)
}

func (h *CalendarHandler) handleCalendarError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInstructorNotFound):
		response.NotFound(c, 22001, "讲师不存在")
	case errors.Is(err, service.ErrRoomNotFound):
		response.NotFound(c, 22002, "教室不存在")
	default:
		response.InternalError(c)
	}
}
