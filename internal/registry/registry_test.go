package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/mediastream/internal/logging"
)

type fakeCloser struct {
	closed *int32
}

func (f *fakeCloser) Close() error {
	atomic.AddInt32(f.closed, 1)
	return nil
}

func TestRegistry_GetConstructsOnce(t *testing.T) {
	r := New(logging.NewNop())
	var calls int32

	factory := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return "model", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Get("vad", factory)
			require.NoError(t, err)
			assert.Equal(t, "model", v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRegistry_CachesConstructionError(t *testing.T) {
	r := New(logging.NewNop())
	wantErr := errors.New("boom")
	var calls int32

	factory := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, wantErr
	}

	_, err1 := r.Get("stt", factory)
	_, err2 := r.Get("stt", factory)

	assert.Equal(t, wantErr, err1)
	assert.Equal(t, wantErr, err2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRegistry_DistinctNamesConstructIndependently(t *testing.T) {
	r := New(logging.NewNop())
	a, err := r.Get("a", func() (any, error) { return 1, nil })
	require.NoError(t, err)
	b, err := r.Get("b", func() (any, error) { return 2, nil })
	require.NoError(t, err)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestRegistry_CloseTearsDownClosers(t *testing.T) {
	r := New(logging.NewNop())
	var closed int32

	_, err := r.Get("client", func() (any, error) {
		return &fakeCloser{closed: &closed}, nil
	})
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
}

func TestRegistry_MustGetPanicsOnError(t *testing.T) {
	r := New(logging.NewNop())
	assert.Panics(t, func() {
		r.MustGet("bad", func() (any, error) { return nil, errors.New("nope") })
	})
}
