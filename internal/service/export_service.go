package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mvalley/backend/internal/model"
	"mvalley/backend/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportRunPending   = errors.New("分配批次尚未完成，暂不能导出")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response
type ExportService interface {
	// ExportRun 导出批次的候选班组为 Excel
	ExportRun(ctx context.Context, runID string) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger}
}

const (
	sheetSummary = "批次概览"
	sheetGroups  = "候选班组"
)

var groupColumns = []struct {
	title string
	width float64
}{
	{"序号", 6}, {"班组名称", 14}, {"状态", 10}, {"阻断原因", 20}, {"星期", 8}, {"时间", 13},
	{"开始日期", 12}, {"结束日期", 12}, {"讲师", 18}, {"教室", 14}, {"人数", 6}, {"容量", 9},
	{"预计收入", 12}, {"预计成本", 12}, {"毛利率", 9}, {"币种", 6},
}

// ═══════════════════════════════════════════════════════════
// ExportRun — 导出批次为 Excel
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - Sheet "批次概览"：批次信息 + 各状态数量 + 可确认班组的收入/成本合计
//   - Sheet "候选班组"：按生成顺序逐行列出
//
// 返回值：buf（Excel 内容）, filename（建议文件名）, error

func (s *exportService) ExportRun(ctx context.Context, runID string) (*bytes.Buffer, string, error) {
	// 1. 查询批次
	run, err := s.repo.Run.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrRunNotFound
		}
		s.logger.Error("查询分配批次失败", zap.Error(err))
		return nil, "", err
	}
	if run.Status == model.RunStatusPending {
		return nil, "", ErrExportRunPending
	}

	// 2. 查询候选班组
	groups, err := s.repo.CandidateGroup.ListByRun(ctx, runID)
	if err != nil {
		s.logger.Error("查询候选班组失败", zap.Error(err))
		return nil, "", err
	}

	// 3. 解析讲师 / 教室名称
	names, err := s.resolveNames(ctx, groups)
	if err != nil {
		return nil, "", err
	}

	// 4. 生成 Excel
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	if err := writeSummarySheet(f, run, groups, headerStyle); err != nil {
		s.logger.Error("写入批次概览失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}
	if err := writeGroupSheet(f, groups, names, headerStyle); err != nil {
		s.logger.Error("写入候选班组失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}
	// 删除默认 Sheet1
	f.DeleteSheet("Sheet1")

	// 写入 buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("allocation_run_%s_%s.xlsx", model.FormatDate(run.FromDate), shortID(run.RunID))
	return buf, filename, nil
}

func writeSummarySheet(f *excelize.File, run *model.AllocationRun, groups []model.CandidateGroup, headerStyle int) error {
	idx, err := f.NewSheet(sheetSummary)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	f.SetColWidth(sheetSummary, "A", "A", 18)
	f.SetColWidth(sheetSummary, "B", "B", 40)

	counts := make(map[string]int)
	revenue, cost := decimal.Zero, decimal.Zero
	for _, g := range groups {
		counts[g.Status]++
		if g.Status == model.GroupStatusConfirmed {
			revenue = revenue.Add(g.ExpectedRevenue)
			cost = cost.Add(g.ExpectedCost)
		}
	}

	errText := "-"
	if run.Error != nil {
		errText = *run.Error
	}

	rows := [][]interface{}{
		{"批次 ID", run.RunID},
		{"状态", run.Status},
		{"日期范围", fmt.Sprintf("%s ~ %s", model.FormatDate(run.FromDate), model.FormatDate(run.ToDate))},
		{"备注", run.Notes},
		{"错误", errText},
		{"候选班组数", run.CandidateGroupCount},
		{"草稿", counts[model.GroupStatusDraft]},
		{"阻断", counts[model.GroupStatusBlocked]},
		{"暂挂", counts[model.GroupStatusHeld]},
		{"已确认", counts[model.GroupStatusConfirmed]},
		{"已拒绝", counts[model.GroupStatusRejected]},
		{"已确认收入合计", revenue.StringFixed(2)},
		{"已确认成本合计", cost.StringFixed(2)},
	}

	f.SetCellValue(sheetSummary, "A1", "项目")
	f.SetCellValue(sheetSummary, "B1", "值")
	f.SetCellStyle(sheetSummary, "A1", "B1", headerStyle)
	for i, r := range rows {
		if err := f.SetSheetRow(sheetSummary, cell("A", i+2), &r); err != nil {
			return err
		}
	}
	return nil
}

func writeGroupSheet(f *excelize.File, groups []model.CandidateGroup, names map[string]string, headerStyle int) error {
	if _, err := f.NewSheet(sheetGroups); err != nil {
		return err
	}

	header := make([]interface{}, 0, len(groupColumns))
	for i, c := range groupColumns {
		header = append(header, c.title)
		col := colName(i)
		f.SetColWidth(sheetGroups, col, col, c.width)
	}
	if err := f.SetSheetRow(sheetGroups, "A1", &header); err != nil {
		return err
	}
	f.SetCellStyle(sheetGroups, "A1", cell(colName(len(groupColumns)-1), 1), headerStyle)
	f.SetPanes(sheetGroups, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	for i, g := range groups {
		blockReason := "-"
		if g.BlockReason != nil {
			blockReason = *g.BlockReason
		}
		endDate := "-"
		if g.EndDate != nil {
			endDate = model.FormatDate(*g.EndDate)
		}
		row := []interface{}{
			g.Sequence,
			g.Name,
			g.Status,
			blockReason,
			weekdayLabel(g.DayOfWeek),
			fmt.Sprintf("%s-%s", g.StartTime, g.EndTime),
			model.FormatDate(g.StartDate),
			endDate,
			names[g.InstructorID],
			names[g.RoomID],
			g.StudentCount,
			fmt.Sprintf("%d-%d", g.MinCapacity, g.MaxCapacity),
			g.ExpectedRevenue.InexactFloat64(),
			g.ExpectedCost.InexactFloat64(),
			g.ExpectedMargin.InexactFloat64(),
			g.Currency,
		}
		if err := f.SetSheetRow(sheetGroups, cell("A", i+2), &row); err != nil {
			return err
		}
	}
	return nil
}

// resolveNames 讲师 / 教室 ID → 名称；查不到时保留 ID
func (s *exportService) resolveNames(ctx context.Context, groups []model.CandidateGroup) (map[string]string, error) {
	names := make(map[string]string)
	for _, g := range groups {
		if _, ok := names[g.InstructorID]; !ok {
			ins, err := s.repo.Instructor.GetByID(ctx, g.InstructorID)
			switch {
			case err == nil:
				names[g.InstructorID] = ins.Name
			case errors.Is(err, gorm.ErrRecordNotFound):
				names[g.InstructorID] = g.InstructorID
			default:
				s.logger.Error("查询讲师失败", zap.String("instructor_id", g.InstructorID), zap.Error(err))
				return nil, err
			}
		}
		if _, ok := names[g.RoomID]; !ok {
			room, err := s.repo.Room.GetByID(ctx, g.RoomID)
			switch {
			case err == nil:
				names[g.RoomID] = room.Name
			case errors.Is(err, gorm.ErrRecordNotFound):
				names[g.RoomID] = g.RoomID
			default:
				s.logger.Error("查询教室失败", zap.String("room_id", g.RoomID), zap.Error(err))
				return nil, err
			}
		}
	}
	return names, nil
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
