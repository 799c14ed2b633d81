package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mvalley/backend/internal/model"
	"mvalley/backend/internal/repository"
)

// ── 日历模块业务错误 ──

var (
	ErrInstructorNotFound = errors.New("讲师不存在")
	ErrRoomNotFound       = errors.New("教室不存在")
)

const (
	icsProductID       = "-//Mvalley//Allocation Engine//ZH"
	icsLocalTimeLayout = "20060102T150405"
	icsUTCLayout       = "20060102T150405Z"
)

// CalendarService 已确认班组的 iCalendar 订阅源
//
// 每个已确认班组输出一个按周重复的 VEVENT：
//   - DTSTART/DTEND 为窗口内第一次上课的本地时间（带 TZID）
//   - RRULE:FREQ=WEEKLY;UNTIL=结束日期当天最后一刻（UTC）
type CalendarService interface {
	InstructorFeed(ctx context.Context, instructorID string) ([]byte, string, error)
	RoomFeed(ctx context.Context, roomID string) ([]byte, string, error)
}

type calendarService struct {
	repo   *repository.Repository
	loc    *time.Location
	logger *zap.Logger
}

// NewCalendarService 创建 CalendarService 实例，timezone 为空或无效时回落到 UTC
func NewCalendarService(repo *repository.Repository, timezone string, logger *zap.Logger) CalendarService {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		logger.Warn("日历时区无效，使用 UTC", zap.String("timezone", timezone))
		loc = time.UTC
	}
	return &calendarService{repo: repo, loc: loc, logger: logger}
}

func (s *calendarService) InstructorFeed(ctx context.Context, instructorID string) ([]byte, string, error) {
	ins, err := s.repo.Instructor.GetByID(ctx, instructorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInstructorNotFound
		}
		s.logger.Error("查询讲师失败", zap.String("instructor_id", instructorID), zap.Error(err))
		return nil, "", err
	}

	groups, err := s.repo.CandidateGroup.ListConfirmed(ctx, repository.ConfirmedGroupFilter{InstructorID: instructorID})
	if err != nil {
		s.logger.Error("查询已确认班组失败", zap.Error(err))
		return nil, "", err
	}

	body, err := s.build(ctx, ins.Name, groups)
	if err != nil {
		return nil, "", err
	}
	return body, fmt.Sprintf("instructor_%s.ics", instructorID), nil
}

func (s *calendarService) RoomFeed(ctx context.Context, roomID string) ([]byte, string, error) {
	room, err := s.repo.Room.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrRoomNotFound
		}
		s.logger.Error("查询教室失败", zap.String("room_id", roomID), zap.Error(err))
		return nil, "", err
	}

	groups, err := s.repo.CandidateGroup.ListConfirmed(ctx, repository.ConfirmedGroupFilter{RoomID: roomID})
	if err != nil {
		s.logger.Error("查询已确认班组失败", zap.Error(err))
		return nil, "", err
	}

	body, err := s.build(ctx, room.Name, groups)
	if err != nil {
		return nil, "", err
	}
	return body, fmt.Sprintf("room_%s.ics", roomID), nil
}

func (s *calendarService) build(ctx context.Context, calName string, groups []model.CandidateGroup) ([]byte, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(icsProductID)
	cal.SetXWRCalName(calName)
	cal.SetXWRTimezone(s.loc.String())

	rooms := make(map[string]string)
	for i := range groups {
		g := &groups[i]
		first, ok := firstOccurrence(g.StartDate, g.EndDate, g.DayOfWeek)
		if !ok {
			continue
		}

		if _, seen := rooms[g.RoomID]; !seen {
			rooms[g.RoomID] = g.RoomID
			room, err := s.repo.Room.GetByID(ctx, g.RoomID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				s.logger.Error("查询教室失败", zap.String("room_id", g.RoomID), zap.Error(err))
				return nil, err
			}
			if room != nil {
				rooms[g.RoomID] = room.Name
			}
		}

		addGroupEvent(cal, g, first, rooms[g.RoomID], s.loc)
	}

	return []byte(cal.Serialize()), nil
}

func addGroupEvent(cal *ics.Calendar, g *model.CandidateGroup, first time.Time, location string, loc *time.Location) {
	start := atClock(first, g.StartTime, loc)
	end := atClock(first, g.EndTime, loc)
	tzid := &ics.KeyValues{Key: string(ics.ParameterTzid), Value: []string{loc.String()}}

	event := cal.AddEvent(g.GroupID + "@mvalley")
	stamp := g.UpdatedAt
	if g.ConfirmedAt != nil {
		stamp = *g.ConfirmedAt
	}
	event.SetDtStampTime(stamp)
	event.SetProperty(ics.ComponentPropertyDtStart, start.Format(icsLocalTimeLayout), tzid)
	event.SetProperty(ics.ComponentPropertyDtEnd, end.Format(icsLocalTimeLayout), tzid)
	event.SetSummary(g.Name)
	event.SetLocation(location)
	event.SetDescription(fmt.Sprintf("%d 名学生 · %s %s-%s", g.StudentCount, weekdayLabel(g.DayOfWeek), g.StartTime, g.EndTime))
	event.SetProperty(ics.ComponentPropertyStatus, "CONFIRMED")

	rrule := "FREQ=WEEKLY"
	if g.EndDate != nil {
		until := atClock(*g.EndDate, "23:59", loc).Add(59 * time.Second)
		rrule += ";UNTIL=" + until.UTC().Format(icsUTCLayout)
	}
	event.SetProperty(ics.ComponentPropertyRrule, rrule)
}

// firstOccurrence 窗口内第一个星期几为 day 的日期；窗口内不存在时返回 false
func firstOccurrence(from time.Time, to *time.Time, day int) (time.Time, bool) {
	from = truncateDate(from)
	offset := (day - int(from.Weekday()) + 7) % 7
	first := from.AddDate(0, 0, offset)
	if to != nil && first.After(truncateDate(*to)) {
		return time.Time{}, false
	}
	return first, true
}

// atClock 将日期与 "HH:MM" 组合为 loc 时区的时间点
func atClock(day time.Time, hhmm string, loc *time.Location) time.Time {
	m := minutesOf(hhmm)
	return time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, loc)
}
