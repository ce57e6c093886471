package scheduler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"suiterunner/internal/models"
)

func TestSelection_SelectAndDeselect(t *testing.T) {
	repo := &MockRepository{}
	coord := startedCoordinator(t, repo, newSchedule("s1"), newSchedule("s2"))

	coord.Select("s1")
	assert.True(t, coord.IsSelected("s1"))
	assert.False(t, coord.IsSelected("s2"))
	assert.Equal(t, 1, coord.SelectedCount())

	coord.Deselect("s1")
	assert.False(t, coord.IsSelected("s1"))
	assert.Equal(t, 0, coord.SelectedCount())
}

func TestSelection_UnknownIDIsIgnored(t *testing.T) {
	repo := &MockRepository{}
	coord := startedCoordinator(t, repo, newSchedule("s1"))

	coord.Select("nope")
	assert.False(t, coord.IsSelected("nope"))
	assert.Equal(t, 0, coord.SelectedCount())

	assert.False(t, coord.ToggleSelected("nope"))
	assert.Equal(t, 0, coord.SelectedCount())
}

func TestSelection_Toggle(t *testing.T) {
	repo := &MockRepository{}
	coord := startedCoordinator(t, repo, newSchedule("s1"))

	assert.True(t, coord.ToggleSelected("s1"))
	assert.True(t, coord.IsSelected("s1"))

	assert.False(t, coord.ToggleSelected("s1"))
	assert.False(t, coord.IsSelected("s1"))
}

func TestSelection_SelectAllAndNone(t *testing.T) {
	repo := &MockRepository{}
	coord := startedCoordinator(t, repo, newSchedule("s1"), newSchedule("s2"), newSchedule("s3"))

	coord.SelectAll()
	assert.Equal(t, []string{"s1", "s2", "s3"}, coord.Selected())

	coord.SelectNone()
	assert.Empty(t, coord.Selected())
}

func TestSelection_SelectOnlyScheduled(t *testing.T) {
	repo := &MockRepository{}
	pending := newSchedule("s1")
	running := newSchedule("s2", func(s *models.Schedule) { s.Status = models.StatusRunning })
	done := newSchedule("s3", func(s *models.Schedule) { s.Status = models.StatusCompleted })
	coord := startedCoordinator(t, repo, pending, running, done)

	coord.SelectAll()
	coord.SelectOnlyScheduled()

	assert.Equal(t, []string{"s1"}, coord.Selected())
}

func TestSelection_SelectedIsSorted(t *testing.T) {
	repo := &MockRepository{}
	coord := startedCoordinator(t, repo, newSchedule("s-c"), newSchedule("s-a"), newSchedule("s-b"))

	coord.Select("s-c")
	coord.Select("s-a")
	coord.Select("s-b")

	assert.Equal(t, []string{"s-a", "s-b", "s-c"}, coord.Selected())
}

func TestSelection_PrunedOnRefresh(t *testing.T) {
	repo := &MockRepository{}
	s1, s2 := newSchedule("s1"), newSchedule("s2")

	// first snapshot has both schedules, the next one only s2
	repo.On("List", mock.Anything, mock.Anything).Return(scheduleList(s1, s2), nil).Once()
	repo.On("Stats", mock.Anything).Return(testStats(s1, s2), nil).Once()
	expectSnapshot(repo, s2)

	coord := startedCoordinatorWith(t, repo)
	coord.SelectAll()
	require.Equal(t, 2, coord.SelectedCount())

	require.NoError(t, coord.Refresh(context.Background()))

	assert.Equal(t, []string{"s2"}, coord.Selected())
}
