package service

import (
	"time"

	"github.com/shopspring/decimal"

	"mvalley/backend/internal/model"
)

var (
	minutesPerHour = decimal.NewFromInt(60)
	daysPerMonth   = decimal.NewFromInt(30)
)

// SlotTerms 参与经济性计算的时段条款
type SlotTerms struct {
	PricePerStudent     decimal.Decimal
	PlannedSessions     int
	SessionDurationMins int
	MinMarginPct        decimal.Decimal
	Currency            string
}

func termsOf(slot *model.TeachingSlot) SlotTerms {
	return SlotTerms{
		PricePerStudent:     slot.PricePerStudent,
		PlannedSessions:     slot.PlannedSessions,
		SessionDurationMins: slot.SessionDurationMins,
		MinMarginPct:        slot.MinMarginPct,
		Currency:            slot.Currency,
	}
}

// Economics 单个候选班组的收入、成本与毛利率
type Economics struct {
	Revenue           decimal.Decimal `json:"revenue"`
	Cost              decimal.Decimal `json:"cost"`
	Margin            decimal.Decimal `json:"margin"`
	MinMarginPct      decimal.Decimal `json:"min_margin_pct"`
	PassesMarginFloor bool            `json:"passes_margin_floor"`
	Currency          string          `json:"currency"`
	FeeModelID        string          `json:"fee_model_id"`
	FeeType           string          `json:"fee_type"`
	FeeAmount         decimal.Decimal `json:"fee_amount"`
	WindowDays        int             `json:"window_days"`
}

func (e *Economics) snapshot() model.EconomicsSnapshot {
	return model.EconomicsSnapshot{
		Revenue:           e.Revenue,
		Cost:              e.Cost,
		Margin:            e.Margin,
		MinMarginPct:      e.MinMarginPct,
		PassesMarginFloor: e.PassesMarginFloor,
		Currency:          e.Currency,
		FeeModelID:        e.FeeModelID,
		FeeType:           e.FeeType,
		FeeAmount:         e.FeeAmount,
		WindowDays:        e.WindowDays,
	}
}

// EvaluateEconomics 计算经济性
//
//	revenue = price × students × planned_sessions
//	hourly:      cost = rate × planned_sessions × duration_mins / 60
//	monthly:     cost = rate × window_days / 30
//	per_session: cost = rate × planned_sessions
//	margin = (revenue − cost) / revenue，保留 6 位；revenue 为 0 时 margin = 0 且不达标
//
// 计费模型缺失或币种不一致属于上游数据错误，返回 *ValidationError
func EvaluateEconomics(terms SlotTerms, fee *model.InstructorFeeModel, studentCount, windowDays int) (*Economics, error) {
	if fee == nil {
		return nil, newValidationError("fee_model", "讲师无生效的计费模型")
	}
	if fee.Currency != terms.Currency {
		return nil, newValidationError("fee_model", "计费模型币种 %s 与时段币种 %s 不一致", fee.Currency, terms.Currency)
	}

	sessions := decimal.NewFromInt(int64(terms.PlannedSessions))
	revenue := terms.PricePerStudent.
		Mul(decimal.NewFromInt(int64(studentCount))).
		Mul(sessions).
		Round(2)

	var cost decimal.Decimal
	switch fee.FeeType {
	case model.FeeTypeHourly:
		hours := sessions.Mul(decimal.NewFromInt(int64(terms.SessionDurationMins))).Div(minutesPerHour)
		cost = fee.Amount.Mul(hours)
	case model.FeeTypeMonthly:
		cost = fee.Amount.Mul(decimal.NewFromInt(int64(windowDays))).Div(daysPerMonth)
	case model.FeeTypePerSession:
		cost = fee.Amount.Mul(sessions)
	default:
		return nil, newValidationError("fee_model", "未知的计费方式 %q", fee.FeeType)
	}
	cost = cost.Round(2)

	margin := decimal.Zero
	if revenue.IsPositive() {
		margin = revenue.Sub(cost).Div(revenue).Round(6)
	}

	return &Economics{
		Revenue:           revenue,
		Cost:              cost,
		Margin:            margin,
		MinMarginPct:      terms.MinMarginPct,
		PassesMarginFloor: revenue.IsPositive() && margin.GreaterThanOrEqual(terms.MinMarginPct),
		Currency:          terms.Currency,
		FeeModelID:        fee.FeeModelID,
		FeeType:           fee.FeeType,
		FeeAmount:         fee.Amount,
		WindowDays:        windowDays,
	}, nil
}

// SelectFeeModel 选择窗口起始日生效的计费模型（生效日最晚者优先），否则取窗口结束日生效者
func SelectFeeModel(models []model.InstructorFeeModel, windowStart, windowEnd time.Time) *model.InstructorFeeModel {
	if fm := latestEffectiveOn(models, windowStart); fm != nil {
		return fm
	}
	return latestEffectiveOn(models, windowEnd)
}

func latestEffectiveOn(models []model.InstructorFeeModel, day time.Time) *model.InstructorFeeModel {
	var best *model.InstructorFeeModel
	for i := range models {
		fm := &models[i]
		if fm.DeletedAt.Valid || !fm.EffectiveOn(day) {
			continue
		}
		if best == nil || fm.EffectiveFrom.After(best.EffectiveFrom) ||
			(fm.EffectiveFrom.Equal(best.EffectiveFrom) && fm.FeeModelID < best.FeeModelID) {
			best = fm
		}
	}
	return best
}
