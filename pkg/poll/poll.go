// Package poll keeps job-backed entities fresh while something on the client
// is watching them. Each watched (kind, id) pair gets at most one loop no
// matter how many watchers hold it; loops are reference counted and stop when
// the last watcher releases them or the entity reaches a terminal status.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studylab/studysync/pkg/api"
	"github.com/studylab/studysync/pkg/jsonutil"
	"github.com/studylab/studysync/pkg/logging"
	"github.com/studylab/studysync/pkg/metrics"
	"github.com/studylab/studysync/pkg/models"
	"github.com/studylab/studysync/pkg/normalize"
	"github.com/studylab/studysync/pkg/store"
)

// FetchFunc retrieves one entity's current server document, normalized.
type FetchFunc func(ctx context.Context, id string) (*normalize.Payload, error)

type loopKey struct {
	Kind models.Kind
	ID   string
}

type registration struct {
	interval time.Duration
	fetch    FetchFunc
}

type loop struct {
	refs   int
	cancel context.CancelFunc
}

// Poller coordinates the poll loops.
type Poller struct {
	mu    sync.Mutex
	loops map[loopKey]*loop
	kinds map[models.Kind]registration

	// Monotonic fetch sequencing per entity. A response applies only if no
	// later fetch for the same entity has been applied already, so a slow
	// response can never clobber fresher data.
	issued  map[loopKey]uint64
	applied map[loopKey]uint64

	store   *store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

func New(st *store.Store, logger *zap.Logger, m *metrics.Metrics) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		loops:      make(map[loopKey]*loop),
		kinds:      make(map[models.Kind]registration),
		issued:     make(map[loopKey]uint64),
		applied:    make(map[loopKey]uint64),
		store:      st,
		logger:     logger.Named("poll"),
		metrics:    m,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Register makes a kind pollable. Acquire is a no-op for unregistered kinds.
func (p *Poller) Register(kind models.Kind, interval time.Duration, fetch FetchFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds[kind] = registration{interval: interval, fetch: fetch}
}

// Acquire adds a watcher for the entity. The first watcher starts the loop;
// later watchers join it. Entities already in a terminal status are not
// polled at all.
func (p *Poller) Acquire(kind models.Kind, id string) {
	key := loopKey{Kind: kind, ID: id}
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.loops[key]; ok {
		l.refs++
		return
	}
	reg, ok := p.kinds[kind]
	if !ok {
		p.logger.Warn("acquire for unregistered kind", zap.String("kind", string(kind)))
		return
	}
	if status, known := p.store.Status(kind, id); known && status.Terminal() {
		return
	}

	ctx, cancel := context.WithCancel(p.baseCtx)
	p.loops[key] = &loop{refs: 1, cancel: cancel}
	p.metrics.PollLoopStarted()
	p.logger.Debug("loop started", zap.String("kind", string(kind)), zap.String("id", id))
	p.wg.Add(1)
	go p.run(ctx, key, reg)
}

// Release drops one watcher. The loop stops when the last watcher is gone.
func (p *Poller) Release(kind models.Kind, id string) {
	key := loopKey{Kind: kind, ID: id}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loops[key]
	if !ok {
		return
	}
	l.refs--
	if l.refs <= 0 {
		p.stopLocked(key, l)
	}
}

// ActiveLoops reports how many loops are currently running.
func (p *Poller) ActiveLoops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loops)
}

// Close stops every loop and waits for in-flight fetches to settle.
func (p *Poller) Close() {
	p.baseCancel()
	p.mu.Lock()
	for key, l := range p.loops {
		p.stopLocked(key, l)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) stopLocked(key loopKey, l *loop) {
	l.cancel()
	delete(p.loops, key)
	p.metrics.PollLoopStopped()
	p.logger.Debug("loop stopped", zap.String("kind", string(key.Kind)), zap.String("id", key.ID))
}

// stopSelf removes the loop from inside its own goroutine, used for terminal
// statuses and remote deletion.
func (p *Poller) stopSelf(key loopKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.loops[key]; ok {
		p.stopLocked(key, l)
	}
}

func (p *Poller) run(ctx context.Context, key loopKey, reg registration) {
	defer p.wg.Done()
	timer := time.NewTimer(reg.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Fetches ride the poller's base context, not the loop's, so a
		// release mid-flight still lets the response reconcile. It just
		// never restarts the loop.
		done, err := p.tick(p.baseCtx, key, reg.fetch)
		p.metrics.PollTick(key.Kind, err == nil)
		if done {
			p.stopSelf(key)
			return
		}
		if err != nil {
			p.logger.Warn("poll fetch failed, will retry",
				zap.String("kind", string(key.Kind)),
				zap.String("id", key.ID),
				zap.String("error", logging.SanitizeError(err)))
		}
		timer.Reset(reg.interval)
	}
}

// tick performs one fetch-and-reconcile. It reports done when the loop has no
// reason to continue: terminal status, remote deletion, or local deletion.
func (p *Poller) tick(ctx context.Context, key loopKey, fetch FetchFunc) (bool, error) {
	seq := p.nextSeq(key)

	payload, err := fetch(ctx, key.ID)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			// Gone on the server. Drop it locally and stop watching.
			if derr := p.store.CascadeDelete(key.Kind, key.ID); derr != nil {
				p.logger.Warn("cascade after remote deletion failed",
					zap.String("kind", string(key.Kind)),
					zap.String("id", key.ID),
					zap.Error(derr))
			}
			return true, nil
		}
		return false, err
	}

	if !p.store.Contains(key.Kind, key.ID) {
		// Deleted locally while the fetch was in flight. Merging now would
		// resurrect it.
		return true, nil
	}

	record := payload.Record(key.Kind, key.ID)
	status := models.ProcessStatus(jsonutil.StringValue(record["status"]))

	// An unchanged status means nothing moved server-side; skip the merge
	// so watchers' memoized views stay stable between transitions.
	prev, hadPrev := p.store.Status(key.Kind, key.ID)
	if hadPrev && status == prev {
		return status.Terminal(), nil
	}

	if !p.apply(key, seq, payload) {
		return false, nil
	}
	if hadPrev {
		p.metrics.StatusTransition(key.Kind, status)
		p.logger.Debug("status changed",
			zap.String("kind", string(key.Kind)),
			zap.String("id", key.ID),
			zap.String("from", string(prev)),
			zap.String("to", string(status)))
	}
	return status.Terminal(), nil
}

func (p *Poller) nextSeq(key loopKey) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued[key]++
	return p.issued[key]
}

// apply reconciles the payload unless a later fetch for the entity already
// landed.
func (p *Poller) apply(key loopKey, seq uint64, payload *normalize.Payload) bool {
	p.mu.Lock()
	if seq <= p.applied[key] {
		p.mu.Unlock()
		return false
	}
	p.applied[key] = seq
	p.mu.Unlock()

	if err := p.store.MergePayload(payload); err != nil {
		p.logger.Warn("poll merge failed",
			zap.String("kind", string(key.Kind)),
			zap.String("id", key.ID),
			zap.Error(err))
		return false
	}
	return true
}
