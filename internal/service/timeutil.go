package service

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"mvalley/backend/internal/model"
)

var hhmmPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// IsHHMM 校验 "HH:MM"（24 小时制）
func IsHHMM(s string) bool {
	return hhmmPattern.MatchString(s)
}

// minutesOf 将 "HH:MM" 转为当日分钟数，调用前需保证格式合法
func minutesOf(hhmm string) int {
	h, _ := strconv.Atoi(hhmm[:2])
	m, _ := strconv.Atoi(hhmm[3:])
	return h*60 + m
}

// intervalsOverlap 半开区间 [aStart, aEnd) 与 [bStart, bEnd) 是否相交（首尾相接不算冲突）
func intervalsOverlap(aStart, aEnd, bStart, bEnd string) bool {
	return minutesOf(aStart) < minutesOf(bEnd) && minutesOf(bStart) < minutesOf(aEnd)
}

// dateRangesIntersect 闭区间日期范围是否相交；结束日期为 nil 表示无限期，开始日期为 nil 表示无下限
func dateRangesIntersect(aFrom, aTo, bFrom, bTo *time.Time) bool {
	if aTo != nil && bFrom != nil && aTo.Before(*bFrom) {
		return false
	}
	if bTo != nil && aFrom != nil && bTo.Before(*aFrom) {
		return false
	}
	return true
}

// inclusiveDays 闭区间天数，from 晚于 to 时返回 0
func inclusiveDays(from, to time.Time) int {
	from = truncateDate(from)
	to = truncateDate(to)
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours()/24) + 1
}

// parseDate 解析 YYYY-MM-DD（UTC 零点）
func parseDate(field, s string) (time.Time, error) {
	t, err := time.ParseInLocation(model.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, newValidationError(field, "日期格式应为 YYYY-MM-DD: %q", s)
	}
	return t, nil
}

func parseDatePtr(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseDate(field, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func laterDate(a time.Time, b *time.Time) time.Time {
	if b != nil && b.After(a) {
		return *b
	}
	return a
}

func earlierDate(a time.Time, b *time.Time) time.Time {
	if b != nil && b.Before(a) {
		return *b
	}
	return a
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTimestamp(*t)
	return &s
}

// weekdayLabel 0=周日，用于导出与日历描述
func weekdayLabel(day int) string {
	if day < 0 || day > 6 {
		return fmt.Sprintf("D%d", day)
	}
	return time.Weekday(day).String()[:3]
}
