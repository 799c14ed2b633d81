package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
)

// ── InstructorFeed / RoomFeed 测试 ──

func TestCalendarService_InstructorFeed(t *testing.T) {
	st, _ := setupConfirmedRun(t)
	svc := NewCalendarService(newMockRepository(st), "UTC", zap.NewNop())

	body, filename, err := svc.InstructorFeed(context.Background(), testInstructorA)
	if err != nil {
		t.Fatalf("InstructorFeed 应成功: %v", err)
	}
	if filename != "instructor_ins-a.ics" {
		t.Errorf("文件名错误: %s", filename)
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("输出不是合法的 iCalendar: %v", err)
	}
	events := cal.Events()
	if len(events) != 1 {
		t.Fatalf("期望 1 个已确认班组事件，实际=%d", len(events))
	}
	ev := events[0]

	// 2025-01-01 为周三，第一次周六课为 2025-01-04
	start := ev.GetProperty(ics.ComponentPropertyDtStart)
	if start == nil || start.Value != "20250104T160000" {
		t.Fatalf("DTSTART 错误: %+v", start)
	}
	if tz := start.ICalParameters[string(ics.ParameterTzid)]; len(tz) != 1 || tz[0] != "UTC" {
		t.Errorf("DTSTART 应带 TZID=UTC，实际=%v", tz)
	}
	if end := ev.GetProperty(ics.ComponentPropertyDtEnd); end == nil || end.Value != "20250104T180000" {
		t.Errorf("DTEND 错误: %+v", end)
	}
	if rrule := ev.GetProperty(ics.ComponentPropertyRrule); rrule == nil || rrule.Value != "FREQ=WEEKLY;UNTIL=20250331T235959Z" {
		t.Errorf("RRULE 错误: %+v", rrule)
	}
	if loc := ev.GetProperty(ics.ComponentPropertyLocation); loc == nil || loc.Value != "Room A" {
		t.Errorf("LOCATION 应为教室名称，实际=%+v", loc)
	}
}

func TestCalendarService_RoomFeed_Empty(t *testing.T) {
	st, _ := setupConfirmedRun(t)
	svc := NewCalendarService(newMockRepository(st), "UTC", zap.NewNop())

	body, filename, err := svc.RoomFeed(context.Background(), testRoomB)
	if err != nil {
		t.Fatalf("RoomFeed 应成功: %v", err)
	}
	if filename != "room_room-b.ics" {
		t.Errorf("文件名错误: %s", filename)
	}
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("输出不是合法的 iCalendar: %v", err)
	}
	if n := len(cal.Events()); n != 0 {
		t.Errorf("room-b 无已确认班组，期望 0 个事件，实际=%d", n)
	}
}

func TestCalendarService_NotFound(t *testing.T) {
	svc := NewCalendarService(newMockRepository(newFixtureStore()), "", zap.NewNop())

	if _, _, err := svc.InstructorFeed(context.Background(), "ins-x"); !errors.Is(err, ErrInstructorNotFound) {
		t.Errorf("期望 ErrInstructorNotFound，实际=%v", err)
	}
	if _, _, err := svc.RoomFeed(context.Background(), "room-x"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("期望 ErrRoomNotFound，实际=%v", err)
	}
}

// ── firstOccurrence 测试 ──

func TestFirstOccurrence(t *testing.T) {
	tests := []struct {
		name   string
		from   string
		to     string
		day    int
		want   string
		wantOK bool
	}{
		{"same weekday", "2025-01-04", "2025-01-31", 6, "2025-01-04", true},
		{"later in week", "2025-01-01", "2025-01-31", 6, "2025-01-04", true},
		{"wraps to next week", "2025-01-04", "2025-01-31", 0, "2025-01-05", true},
		{"outside window", "2025-01-01", "2025-01-03", 6, "", false},
		{"open ended", "2025-01-01", "", 1, "2025-01-06", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var to *time.Time
			if tt.to != "" {
				to = datePtr(tt.to)
			}
			got, ok := firstOccurrence(mustDate(tt.from), to, tt.day)
			if ok != tt.wantOK {
				t.Fatalf("期望 ok=%v，实际=%v", tt.wantOK, ok)
			}
			if ok && got.Format("2006-01-02") != tt.want {
				t.Errorf("期望 %s，实际=%s", tt.want, got.Format("2006-01-02"))
			}
		})
	}
}
