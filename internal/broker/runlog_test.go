package broker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(i int) RunRecord {
	return RunRecord{
		RunID:         fmt.Sprintf("run-%d", i),
		IntegrationID: "postgresql-postgis",
		Capability:    "sql.query",
		Outcome:       OutcomeSuccess,
	}
}

func TestRunLogTailNewestFirst(t *testing.T) {
	l := NewRunLog(10)
	for i := 0; i < 3; i++ {
		l.Append(record(i))
	}

	tail := l.Tail(0)
	require.Len(t, tail, 3)
	assert.Equal(t, "run-2", tail[0].RunID)
	assert.Equal(t, "run-0", tail[2].RunID)

	tail = l.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "run-2", tail[0].RunID)
	assert.Equal(t, "run-1", tail[1].RunID)
}

func TestRunLogEvictsOldest(t *testing.T) {
	l := NewRunLog(5)
	for i := 0; i < 8; i++ {
		l.Append(record(i))
	}

	assert.Equal(t, 5, l.Len())
	tail := l.Tail(0)
	require.Len(t, tail, 5)
	assert.Equal(t, "run-7", tail[0].RunID)
	assert.Equal(t, "run-3", tail[4].RunID)
}

func TestRunLogClear(t *testing.T) {
	l := NewRunLog(5)
	for i := 0; i < 3; i++ {
		l.Append(record(i))
	}

	l.Clear()
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Tail(0))

	// Usable again after clearing.
	l.Append(record(9))
	require.Len(t, l.Tail(0), 1)
	assert.Equal(t, "run-9", l.Tail(0)[0].RunID)
}

func TestRunLogConcurrentAppends(t *testing.T) {
	l := NewRunLog(100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Append(record(i))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, l.Len())
}

func TestRunLogDefaultSize(t *testing.T) {
	l := NewRunLog(0)
	for i := 0; i < DefaultRunLogSize+10; i++ {
		l.Append(record(i))
	}
	assert.Equal(t, DefaultRunLogSize, l.Len())
}
