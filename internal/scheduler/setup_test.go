package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"suiterunner/internal/models"
	"suiterunner/internal/scheduler"
)

// MockRepository scripts the scheduling-service answers for coordinator tests
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, req *models.CreateScheduleRequest) (*models.Schedule, error) {
	args := m.Called(ctx, req)
	if s, ok := args.Get(0).(*models.Schedule); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, filter models.ListFilter) (*models.ScheduleList, error) {
	args := m.Called(ctx, filter)
	if l, ok := args.Get(0).(*models.ScheduleList); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) Get(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	args := m.Called(ctx, id)
	if d, ok := args.Get(0).(*models.ScheduleDetail); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, id string, req *models.UpdateScheduleRequest) (*models.Schedule, error) {
	args := m.Called(ctx, id, req)
	if s, ok := args.Get(0).(*models.Schedule); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) RunNow(ctx context.Context, id, notes string) (*models.Schedule, error) {
	args := m.Called(ctx, id, notes)
	if s, ok := args.Get(0).(*models.Schedule); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) Cancel(ctx context.Context, id string) (*models.Schedule, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*models.Schedule); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) Stats(ctx context.Context) (*models.ScheduleStats, error) {
	args := m.Called(ctx)
	if s, ok := args.Get(0).(*models.ScheduleStats); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

// newSchedule builds a pending one-off schedule with sane defaults
func newSchedule(id string, mutate ...func(*models.Schedule)) models.Schedule {
	s := models.Schedule{
		ID:         id,
		SuiteID:    "suite-login",
		SuiteName:  "Login flows",
		Status:     models.StatusScheduled,
		RunAtUTC:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Timezone:   "UTC",
		Recurrence: models.RecurrenceNone,
		Priority:   5,
		Options:    models.DefaultExecutionOptions(),
		CreatedAt:  time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	for _, m := range mutate {
		m(&s)
	}
	return s
}

func scheduleList(schedules ...models.Schedule) *models.ScheduleList {
	return &models.ScheduleList{Schedules: schedules, Total: len(schedules)}
}

func testStats(schedules ...models.Schedule) *models.ScheduleStats {
	stats := &models.ScheduleStats{
		Total:    len(schedules),
		ByStatus: make(map[models.ScheduleStatus]int),
	}
	for _, s := range schedules {
		stats.ByStatus[s.Status]++
	}
	return stats
}

// expectSnapshot scripts successful List+Stats refresh rounds, any number of times
func expectSnapshot(repo *MockRepository, schedules ...models.Schedule) {
	repo.On("List", mock.Anything, mock.Anything).Return(scheduleList(schedules...), nil)
	repo.On("Stats", mock.Anything).Return(testStats(schedules...), nil)
}

// startedCoordinator returns a coordinator that has loaded the given snapshot
// and is not ticking (the interval is far longer than any test).
func startedCoordinator(t *testing.T, repo *MockRepository, schedules ...models.Schedule) *scheduler.Coordinator {
	t.Helper()
	expectSnapshot(repo, schedules...)
	return startedCoordinatorWith(t, repo)
}

// startedCoordinatorWith starts a coordinator against expectations the test
// has already scripted itself.
func startedCoordinatorWith(t *testing.T, repo *MockRepository) *scheduler.Coordinator {
	t.Helper()

	coord := scheduler.NewCoordinator(repo, time.Hour)
	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(coord.Stop)
	return coord
}
