// Package store holds the normalized entity cache and its reconciliation
// protocol. Entities reference each other only by id; every mutation goes
// through the reconciler operations so referential invariants hold after
// each step. The store is the single shared mutable resource of the sync
// layer and is safe for concurrent use.
package store

import (
	"maps"
	"sync"

	"github.com/studylab/studysync/pkg/models"
)

// Store is the normalized entity cache. All access is guarded by one
// RWMutex; mutations are synchronous and atomic with respect to readers.
type Store struct {
	mu      sync.RWMutex
	version uint64

	subjects  map[string]models.Subject
	sessions  map[string]models.Session
	datasets  map[string]models.Dataset
	signals   map[string]models.Signal
	rawFiles  map[string]models.RawFile
	sources   map[string]models.Source
	methods   map[string]models.ProcessingMethod
	labels    map[string]models.AnalysisLabel
	samples   map[string]models.AnalysisSample
	results   map[string]models.AnalysisResult
	snapshots map[string]models.AnalysisSnapshot

	requests map[RequestKey]RequestState
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.init()
	return s
}

func (s *Store) init() {
	s.subjects = make(map[string]models.Subject)
	s.sessions = make(map[string]models.Session)
	s.datasets = make(map[string]models.Dataset)
	s.signals = make(map[string]models.Signal)
	s.rawFiles = make(map[string]models.RawFile)
	s.sources = make(map[string]models.Source)
	s.methods = make(map[string]models.ProcessingMethod)
	s.labels = make(map[string]models.AnalysisLabel)
	s.samples = make(map[string]models.AnalysisSample)
	s.results = make(map[string]models.AnalysisResult)
	s.snapshots = make(map[string]models.AnalysisSnapshot)
	s.requests = make(map[RequestKey]RequestState)
}

// Reset drops all cached entities and request states. Called on logout,
// together with clearing the credential state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.version++
}

// Version returns the store's mutation counter. It increments on every
// entity mutation; selectors use it to invalidate memoized views.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot is an immutable view of the store's entity collections taken at
// one version. The maps are copies; the slices inside records are never
// mutated in place by the store, so a snapshot stays coherent while later
// mutations land.
type Snapshot struct {
	Version uint64

	Subjects          map[string]models.Subject
	Sessions          map[string]models.Session
	Datasets          map[string]models.Dataset
	Signals           map[string]models.Signal
	RawFiles          map[string]models.RawFile
	Sources           map[string]models.Source
	ProcessingMethods map[string]models.ProcessingMethod
	AnalysisLabels    map[string]models.AnalysisLabel
	AnalysisSamples   map[string]models.AnalysisSample
	AnalysisResults   map[string]models.AnalysisResult
	AnalysisSnapshots map[string]models.AnalysisSnapshot
}

// Snapshot returns a consistent copy of all collections.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Version:           s.version,
		Subjects:          maps.Clone(s.subjects),
		Sessions:          maps.Clone(s.sessions),
		Datasets:          maps.Clone(s.datasets),
		Signals:           maps.Clone(s.signals),
		RawFiles:          maps.Clone(s.rawFiles),
		Sources:           maps.Clone(s.sources),
		ProcessingMethods: maps.Clone(s.methods),
		AnalysisLabels:    maps.Clone(s.labels),
		AnalysisSamples:   maps.Clone(s.samples),
		AnalysisResults:   maps.Clone(s.results),
		AnalysisSnapshots: maps.Clone(s.snapshots),
	}
}

// Contains reports whether the store holds an entity of the given kind/id.
func (s *Store) Contains(kind models.Kind, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(kind, id)
}

func (s *Store) containsLocked(kind models.Kind, id string) bool {
	switch kind {
	case models.KindSubject:
		_, ok := s.subjects[id]
		return ok
	case models.KindSession:
		_, ok := s.sessions[id]
		return ok
	case models.KindDataset:
		_, ok := s.datasets[id]
		return ok
	case models.KindSignal:
		_, ok := s.signals[id]
		return ok
	case models.KindRawFile:
		_, ok := s.rawFiles[id]
		return ok
	case models.KindSource:
		_, ok := s.sources[id]
		return ok
	case models.KindProcessingMethod:
		_, ok := s.methods[id]
		return ok
	case models.KindAnalysisLabel:
		_, ok := s.labels[id]
		return ok
	case models.KindAnalysisSample:
		_, ok := s.samples[id]
		return ok
	case models.KindAnalysisResult:
		_, ok := s.results[id]
		return ok
	case models.KindAnalysisSnapshot:
		_, ok := s.snapshots[id]
		return ok
	}
	return false
}

// Status returns the job status of a polled entity (dataset, signal or
// analysis result). ok is false when the entity is absent or its kind
// carries no job status.
func (s *Store) Status(kind models.Kind, id string) (models.ProcessStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case models.KindDataset:
		if d, ok := s.datasets[id]; ok {
			return d.Status, true
		}
	case models.KindSignal:
		if sig, ok := s.signals[id]; ok {
			return sig.Status, true
		}
	case models.KindAnalysisResult:
		if r, ok := s.results[id]; ok {
			return r.Status, true
		}
	}
	return "", false
}
