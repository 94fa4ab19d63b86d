package taskrt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DequeTestSuite struct {
	suite.Suite
}

func TestDequeTestSuite(t *testing.T) {
	suite.Run(t, new(DequeTestSuite))
}

func (ts *DequeTestSuite) newTasks(n int) []*Task {
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = newTask()
	}
	return tasks
}

func (ts *DequeTestSuite) TestEmptyPopAndSteal() {
	q := newWorkerQueue(defaultDequeCapacity)
	ts.True(q.empty())
	ts.Nil(q.pop())
	ts.Nil(q.steal())
}

func (ts *DequeTestSuite) TestPushPopIsLIFO() {
	q := newWorkerQueue(defaultDequeCapacity)
	tasks := ts.newTasks(3)
	for _, t := range tasks {
		q.push(t)
	}
	ts.Equal(int64(3), q.size())

	ts.Same(tasks[2], q.pop())
	ts.Same(tasks[1], q.pop())
	ts.Same(tasks[0], q.pop())
	ts.Nil(q.pop())
	ts.True(q.empty())
}

func (ts *DequeTestSuite) TestStealIsFIFO() {
	q := newWorkerQueue(defaultDequeCapacity)
	tasks := ts.newTasks(3)
	for _, t := range tasks {
		q.push(t)
	}

	ts.Same(tasks[0], q.steal())
	ts.Same(tasks[1], q.steal())
	ts.Same(tasks[2], q.steal())
	ts.Nil(q.steal())
}

func (ts *DequeTestSuite) TestPopLastItemRacesStealCleanly() {
	q := newWorkerQueue(defaultDequeCapacity)
	task := newTask()
	q.push(task)

	// A thief racing the owner's pop of the single remaining item must
	// never both succeed: exactly one of pop/steal wins.
	var wg sync.WaitGroup
	var popped, stolen *Task
	wg.Add(2)
	go func() {
		defer wg.Done()
		popped = q.pop()
	}()
	go func() {
		defer wg.Done()
		stolen = q.steal()
	}()
	wg.Wait()

	if popped != nil {
		ts.Nil(stolen)
		ts.Same(task, popped)
	} else {
		ts.Same(task, stolen)
	}
}

func (ts *DequeTestSuite) TestGrowPastInitialCapacity() {
	q := newWorkerQueue(2) // forces at least one grow well before 1024 pushes
	n := 50
	tasks := ts.newTasks(n)
	for _, t := range tasks {
		q.push(t)
	}
	ts.Equal(int64(n), q.size())

	for i := n - 1; i >= 0; i-- {
		ts.Same(tasks[i], q.pop())
	}
	ts.Nil(q.pop())
}

func (ts *DequeTestSuite) TestConcurrentStealersSeeEachTaskExactlyOnce() {
	q := newWorkerQueue(defaultDequeCapacity)
	n := 2000
	tasks := ts.newTasks(n)
	for _, t := range tasks {
		q.push(t)
	}

	const thieves = 8
	results := make(chan *Task, n*2)
	var wg sync.WaitGroup
	wg.Add(thieves)
	for i := 0; i < thieves; i++ {
		go func() {
			defer wg.Done()
			for {
				t := q.steal()
				if t == nil {
					if q.empty() {
						return
					}
					continue
				}
				results <- t
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool, n)
	count := 0
	for t := range results {
		ts.False(seen[t.ID()], "task %d delivered to more than one thief", t.ID())
		seen[t.ID()] = true
		count++
	}
	ts.Equal(n, count)
}
