package evalstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasets(t *testing.T) {
	s := New()

	// Unknown datasets are reported as missing.
	_, ok := s.Dataset("source")
	assert.False(t, ok)

	rows := []map[string]any{{"a": 1.0}}
	s.SetDataset("source", rows)
	got, ok := s.Dataset("source")
	require.True(t, ok)
	assert.Equal(t, rows, got)

	// A nil result is stored as an empty dataset.
	s.SetDataset("empty", nil)
	got, ok = s.Dataset("empty")
	require.True(t, ok)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSignals(t *testing.T) {
	s := New()
	s.SetSignal("width", 200.0)
	s.SetSignal("bins", map[string]any{"step": 0.5})

	v, ok := s.Signal("width")
	require.True(t, ok)
	assert.Equal(t, 200.0, v)

	assert.Equal(t, map[string]any{"width": 200.0}, s.Signals([]string{"width", "height"}))
}

func TestStatusAndErrors(t *testing.T) {
	s := New()
	assert.Equal(t, StatusPending, s.Status("data:a"))
	assert.Nil(t, s.Error("data:a"))

	s.SetStatus("data:a", StatusRunning)
	assert.Equal(t, StatusRunning, s.Status("data:a"))

	failure := errors.New("boom")
	s.SetError("data:a", failure)
	assert.Equal(t, StatusFailed, s.Status("data:a"))
	assert.Equal(t, failure, s.Error("data:a"))

	s.SetStatus("data:c", StatusClientSide)
	s.SetStatus("data:b", StatusClientSide)
	assert.Equal(t, []string{"data:b", "data:c"}, s.WithStatus(StatusClientSide))
	assert.Equal(t, "client-side", StatusClientSide.String())
}

func TestConcurrentWrites(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("d%d", i)
			s.SetDataset(name, []map[string]any{{"i": float64(i)}})
			s.SetStatus("data:"+name, StatusCompleted)
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.WithStatus(StatusCompleted), 50)
}
