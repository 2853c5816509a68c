package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studylab/studysync/pkg/api"
	"github.com/studylab/studysync/pkg/models"
	"github.com/studylab/studysync/pkg/normalize"
	"github.com/studylab/studysync/pkg/store"
)

const (
	testInterval = 10 * time.Millisecond
	waitFor      = 2 * time.Second
	tickEvery    = 5 * time.Millisecond
)

func datasetPayload(id string, status models.ProcessStatus) *normalize.Payload {
	return &normalize.Payload{
		Result: []string{id},
		Entities: map[models.Kind]map[string]map[string]any{
			models.KindDataset: {
				id: {"id": id, "status": string(status)},
			},
		},
	}
}

func seedDataset(t *testing.T, st *store.Store, id string, status models.ProcessStatus) {
	t.Helper()
	require.NoError(t, st.MergeCollection(models.KindDataset, map[string]map[string]any{
		id: {"id": id, "status": string(status)},
	}))
}

func TestLoopMergesUpdates(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusQueued)

	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	p.Register(models.KindDataset, testInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		return datasetPayload(id, models.StatusProcessing), nil
	})

	p.Acquire(models.KindDataset, "d1")
	defer p.Release(models.KindDataset, "d1")

	assert.Eventually(t, func() bool {
		status, _ := st.Status(models.KindDataset, "d1")
		return status == models.StatusProcessing
	}, waitFor, tickEvery)
}

func TestAcquireDeduplicates(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusQueued)

	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	p.Register(models.KindDataset, time.Hour, func(ctx context.Context, id string) (*normalize.Payload, error) {
		return datasetPayload(id, models.StatusQueued), nil
	})

	p.Acquire(models.KindDataset, "d1")
	p.Acquire(models.KindDataset, "d1")
	p.Acquire(models.KindDataset, "d1")
	assert.Equal(t, 1, p.ActiveLoops())

	p.Release(models.KindDataset, "d1")
	p.Release(models.KindDataset, "d1")
	assert.Equal(t, 1, p.ActiveLoops())

	p.Release(models.KindDataset, "d1")
	assert.Equal(t, 0, p.ActiveLoops())
}

func TestAcquireTerminalEntityIsNoop(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusProcessed)

	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	p.Register(models.KindDataset, testInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		t.Error("fetch must not run for a terminal entity")
		return nil, nil
	})

	p.Acquire(models.KindDataset, "d1")
	assert.Equal(t, 0, p.ActiveLoops())
}

func TestAcquireUnregisteredKindIsNoop(t *testing.T) {
	p := New(store.New(), zap.NewNop(), nil)
	defer p.Close()

	p.Acquire(models.KindSignal, "sig1")
	assert.Equal(t, 0, p.ActiveLoops())
}

func TestLoopStopsOnTerminalStatus(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusProcessing)

	var fetches atomic.Int32
	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	p.Register(models.KindDataset, testInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		fetches.Add(1)
		return datasetPayload(id, models.StatusProcessed), nil
	})

	p.Acquire(models.KindDataset, "d1")

	assert.Eventually(t, func() bool { return p.ActiveLoops() == 0 }, waitFor, tickEvery)

	status, _ := st.Status(models.KindDataset, "d1")
	assert.Equal(t, models.StatusProcessed, status)
	// Watchers still hold the loop; the terminal status forced the stop.
	assert.Equal(t, int32(1), fetches.Load())
}

func TestUnchangedStatusSkipsMerge(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusProcessing)
	version := st.Version()

	var fetches atomic.Int32
	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	p.Register(models.KindDataset, testInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		fetches.Add(1)
		return datasetPayload(id, models.StatusProcessing), nil
	})

	p.Acquire(models.KindDataset, "d1")
	defer p.Release(models.KindDataset, "d1")

	require.Eventually(t, func() bool { return fetches.Load() >= 3 }, waitFor, tickEvery)
	// Same status every tick: the store was never touched.
	assert.Equal(t, version, st.Version())
	assert.Equal(t, 1, p.ActiveLoops())
}

func TestLoopRetriesAfterError(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusProcessing)

	var fetches atomic.Int32
	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	p.Register(models.KindDataset, testInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		fetches.Add(1)
		return nil, context.DeadlineExceeded
	})

	p.Acquire(models.KindDataset, "d1")
	defer p.Release(models.KindDataset, "d1")

	assert.Eventually(t, func() bool { return fetches.Load() >= 3 }, waitFor, tickEvery)
	assert.Equal(t, 1, p.ActiveLoops())
}

func TestLoopStopsOnRemoteDeletion(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusProcessing)

	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	p.Register(models.KindDataset, testInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		return nil, &api.Error{StatusCode: 404, Detail: "Not found."}
	})

	p.Acquire(models.KindDataset, "d1")

	assert.Eventually(t, func() bool { return p.ActiveLoops() == 0 }, waitFor, tickEvery)
	assert.False(t, st.Contains(models.KindDataset, "d1"))
}

func TestLoopDoesNotResurrectLocallyDeleted(t *testing.T) {
	// The entity was deleted locally before the fetch lands; the response
	// must not be merged back.
	st := store.New()

	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	p.Register(models.KindDataset, testInterval, func(ctx context.Context, id string) (*normalize.Payload, error) {
		return datasetPayload(id, models.StatusProcessing), nil
	})

	p.Acquire(models.KindDataset, "d1")

	assert.Eventually(t, func() bool { return p.ActiveLoops() == 0 }, waitFor, tickEvery)
	assert.False(t, st.Contains(models.KindDataset, "d1"))
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusQueued)

	p := New(st, zap.NewNop(), nil)
	defer p.Close()
	key := loopKey{Kind: models.KindDataset, ID: "d1"}

	early := p.nextSeq(key)
	late := p.nextSeq(key)

	// The later fetch lands first.
	require.True(t, p.apply(key, late, datasetPayload("d1", models.StatusProcessing)))
	// The earlier response arrives afterwards and must be dropped.
	require.False(t, p.apply(key, early, datasetPayload("d1", models.StatusQueued)))

	status, _ := st.Status(models.KindDataset, "d1")
	assert.Equal(t, models.StatusProcessing, status)
}

func TestReleaseUnknownLoopIsNoop(t *testing.T) {
	p := New(store.New(), zap.NewNop(), nil)
	defer p.Close()

	p.Release(models.KindDataset, "never-acquired")
	assert.Equal(t, 0, p.ActiveLoops())
}

func TestClose(t *testing.T) {
	st := store.New()
	seedDataset(t, st, "d1", models.StatusProcessing)
	seedDataset(t, st, "d2", models.StatusProcessing)

	p := New(st, zap.NewNop(), nil)
	p.Register(models.KindDataset, time.Hour, func(ctx context.Context, id string) (*normalize.Payload, error) {
		return datasetPayload(id, models.StatusProcessing), nil
	})

	p.Acquire(models.KindDataset, "d1")
	p.Acquire(models.KindDataset, "d2")
	require.Equal(t, 2, p.ActiveLoops())

	p.Close()
	assert.Equal(t, 0, p.ActiveLoops())
}
