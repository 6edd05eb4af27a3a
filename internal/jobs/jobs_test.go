package jobs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	table := NewTable(4)

	first, ok := table.Create(100, "sleep 5 &", Running)
	assert.True(t, ok)
	second, ok := table.Create(200, "sleep 6 &", Running)
	assert.True(t, ok)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	table.SetState(first, Done)
	table.Compact()

	third, ok := table.Create(300, "sleep 7 &", Running)
	assert.True(t, ok)
	assert.Equal(t, 3, third, "ids are never reused")
}

func TestCreateRefusesWhenFull(t *testing.T) {
	table := NewTable(1)

	_, ok := table.Create(100, "a", Running)
	assert.True(t, ok)

	id, ok := table.Create(200, "b", Running)
	assert.False(t, ok)
	assert.Zero(t, id)
	assert.Equal(t, 1, table.Len())

	// The refused job must not burn an id.
	table.SetStateByGroup(100, Done)
	table.Compact()
	id, ok = table.Create(300, "c", Running)
	assert.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestCreateReusesLiveGroup(t *testing.T) {
	table := NewTable(4)

	id, _ := table.Create(100, "vim", Stopped)
	again, ok := table.Create(100, "vim", Running)

	assert.True(t, ok)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, table.Len())

	job, _ := table.FindByID(id)
	assert.Equal(t, Running, job.State)
}

func TestStateMachine(t *testing.T) {
	cases := []struct {
		name     string
		sequence []State
		expected State
	}{
		{"stop", []State{Stopped}, Stopped},
		{"stop-continue", []State{Stopped, Running}, Running},
		{"exit", []State{Done}, Done},
		{"done-is-terminal", []State{Done, Running, Stopped}, Done},
		{"done-twice", []State{Stopped, Done, Done}, Done},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			table := NewTable(0)
			id, _ := table.Create(42, "cmd", Running)
			for _, state := range tc.sequence {
				table.SetStateByGroup(42, state)
			}

			job, ok := table.FindByID(id)
			assert.True(t, ok)
			assert.Equal(t, tc.expected, job.State)
		})
	}
}

func TestSetStateUnknown(t *testing.T) {
	table := NewTable(0)
	assert.False(t, table.SetState(7, Stopped))
	assert.False(t, table.SetStateByGroup(7, Stopped))
}

func TestCompactPreservesOrder(t *testing.T) {
	table := NewTable(0)
	for i := 1; i <= 5; i++ {
		table.Create(i*100, "cmd", Running)
	}
	table.SetState(2, Done)
	table.SetState(4, Done)

	removed := table.Compact()

	assert.Len(t, removed, 2)
	assert.Equal(t, 2, removed[0].ID)
	assert.Equal(t, 4, removed[1].ID)

	var ids []int
	for _, job := range table.List() {
		ids = append(ids, job.ID)
	}
	assert.Equal(t, []int{1, 3, 5}, ids)
}

func TestFindByGroupPrefersLive(t *testing.T) {
	table := NewTable(0)
	old, _ := table.Create(500, "old", Running)
	table.SetState(old, Done)
	live, _ := table.Create(500, "new", Running)

	job, ok := table.FindByGroup(500)
	assert.True(t, ok)
	assert.Equal(t, live, job.ID)

	_, ok = table.FindByGroup(501)
	assert.False(t, ok)
}

func TestListReturnsCopies(t *testing.T) {
	table := NewTable(0)
	id, _ := table.Create(1, "cmd", Running)

	list := table.List()
	list[0].State = Done

	job, _ := table.FindByID(id)
	assert.Equal(t, Running, job.State)
}

func TestConcurrentMutation(t *testing.T) {
	table := NewTable(1000)
	for i := 1; i <= 100; i++ {
		table.Create(i, "cmd", Running)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			table.SetStateByGroup(i, Stopped)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			table.SetState(i, Done)
			table.Compact()
		}
	}()
	wg.Wait()

	for _, job := range table.List() {
		assert.NotEqual(t, Done, job.State)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Stopped", Stopped.String())
	assert.Equal(t, "Done", Done.String())
	assert.Equal(t, "Unknown", State(9).String())
}
