package handler

import "mvalley/backend/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Allocation   *AllocationHandler
	TeachingSlot *TeachingSlotHandler
	Export       *ExportHandler
	Calendar     *CalendarHandler
	Health       *HealthHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service, health *HealthHandler) *Handler {
	return &Handler{
		Allocation:   NewAllocationHandler(svc.Allocation, svc.Workflow),
		TeachingSlot: NewTeachingSlotHandler(svc.TeachingSlot),
		Export:       NewExportHandler(svc.Export),
		Calendar:     NewCalendarHandler(svc.Calendar),
		Health:       health,
	}
}
