package service

import (
	"time"

	"github.com/shopspring/decimal"

	"mvalley/backend/internal/model"
)

// ── 测试数据 ──

const (
	testLevelID       = "level-1"
	testLevel2ID      = "level-2"
	testInstructorA   = "ins-a"
	testInstructorB   = "ins-b"
	testInstructorOff = "ins-off"
	testRoomA         = "room-a"
	testRoomB         = "room-b"
	testRoomSmall     = "room-small"
	testCohortA       = "cohort-a"
	testCohortB       = "cohort-b"
	testOperator      = "op-001"
)

func mustDate(s string) time.Time {
	t, err := time.ParseInLocation(model.DateLayout, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	t := mustDate(s)
	return &t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newFixtureStore 两个讲师（按课次计费 75）、三间教室、两个需求队列
func newFixtureStore() *memStore {
	st := newMemStore()
	st.addLevel(model.CourseLevel{LevelID: testLevelID, CourseName: "English Conversation", SortOrder: 1})
	st.addLevel(model.CourseLevel{LevelID: testLevel2ID, CourseName: "Robotics", SortOrder: 2})

	st.addInstructor(model.Instructor{InstructorID: testInstructorA, Name: "Amal", IsActive: true})
	st.addInstructor(model.Instructor{InstructorID: testInstructorB, Name: "Bassem", IsActive: true})
	st.addInstructor(model.Instructor{InstructorID: testInstructorOff, Name: "Omar", IsActive: false})

	for _, id := range []string{testInstructorA, testInstructorB, testInstructorOff} {
		st.addFeeModel(model.InstructorFeeModel{
			FeeModelID:    "fee-" + id,
			InstructorID:  id,
			FeeType:       model.FeeTypePerSession,
			Amount:        dec("75"),
			Currency:      "EGP",
			EffectiveFrom: mustDate("2024-01-01"),
		})
	}

	st.addRoom(model.Room{RoomID: testRoomA, Name: "Room A", Capacity: 20, IsActive: true})
	st.addRoom(model.Room{RoomID: testRoomB, Name: "Room B", Capacity: 20, IsActive: true})
	st.addRoom(model.Room{RoomID: testRoomSmall, Name: "Small", Capacity: 4, IsActive: true})

	st.addCohort(model.DemandCohort{CohortID: testCohortA, CourseLevelID: testLevelID, StudentCount: 10, IsActive: true})
	st.addCohort(model.DemandCohort{CohortID: testCohortB, CourseLevelID: testLevelID, StudentCount: 12, IsActive: true})
	return st
}

// newTestSlot 默认条款：单价 100、8 次课、每次 90 分钟、容量 5-15、毛利率下限 0.2
func newTestSlot(id, instructorID, roomID string, day int, start, end string) model.TeachingSlot {
	return model.TeachingSlot{
		SlotID:              id,
		CourseLevelID:       testLevelID,
		InstructorID:        instructorID,
		RoomID:              roomID,
		DayOfWeek:           day,
		StartTime:           start,
		EndTime:             end,
		MinCapacity:         5,
		MaxCapacity:         15,
		PlannedSessions:     8,
		SessionDurationMins: 90,
		PricePerStudent:     dec("100"),
		MinMarginPct:        dec("0.2"),
		Currency:            "EGP",
		Status:              model.SlotStatusOpen,
	}
}

func newTestRun(from, to string) *model.AllocationRun {
	return &model.AllocationRun{
		RunID:    "run-" + from,
		Status:   model.RunStatusPending,
		FromDate: mustDate(from),
		ToDate:   mustDate(to),
	}
}

func fixtureCohorts() []model.CohortInput {
	return []model.CohortInput{
		{CohortID: testCohortB, CourseLevelID: testLevelID, StudentCount: 12},
		{CohortID: testCohortA, CourseLevelID: testLevelID, StudentCount: 10},
	}
}
