// Package selectors computes derived, denormalized views over the entity
// store. Views are pure reads: they never mutate the store, and results are
// memoized per store version, so repeated calls on an unchanged store return
// the same value without recomputation.
package selectors

import (
	"sort"
	"sync"

	"github.com/studylab/studysync/pkg/models"
	"github.com/studylab/studysync/pkg/store"
)

// Views is a memoizing selector set bound to one store. Safe for concurrent
// use.
type Views struct {
	store *store.Store

	mu   sync.Mutex
	snap store.Snapshot
	memo map[string]any
	init bool
}

// New binds a selector set to a store.
func New(s *store.Store) *Views {
	return &Views{store: s}
}

// memoized returns the cached value for key, recomputing it only when the
// store version moved since the last call.
func memoized[T any](v *Views, key string, compute func(store.Snapshot) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()

	version := v.store.Version()
	if !v.init || v.snap.Version != version {
		v.snap = v.store.Snapshot()
		v.memo = make(map[string]any)
		v.init = true
	}
	if cached, ok := v.memo[key]; ok {
		return cached.(T)
	}
	result := compute(v.snap)
	v.memo[key] = result
	return result
}

// Subjects returns all subjects ordered by identifier.
func (v *Views) Subjects() []models.Subject {
	return memoized(v, "subjects", func(snap store.Snapshot) []models.Subject {
		out := make([]models.Subject, 0, len(snap.Subjects))
		for _, subject := range snap.Subjects {
			out = append(out, subject)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
		return out
	})
}

// SessionsBySubject joins each subject's ordered session id list against the
// session map. Ids without a cached session are skipped.
func (v *Views) SessionsBySubject() map[string][]models.Session {
	return memoized(v, "sessionsBySubject", func(snap store.Snapshot) map[string][]models.Session {
		out := make(map[string][]models.Session, len(snap.Subjects))
		for id, subject := range snap.Subjects {
			sessions := make([]models.Session, 0, len(subject.Sessions))
			for _, sessionID := range subject.Sessions {
				if session, ok := snap.Sessions[sessionID]; ok {
					sessions = append(sessions, session)
				}
			}
			out[id] = sessions
		}
		return out
	})
}

// DatasetsBySession joins each session's ordered dataset id list against the
// dataset map.
func (v *Views) DatasetsBySession() map[string][]models.Dataset {
	return memoized(v, "datasetsBySession", func(snap store.Snapshot) map[string][]models.Dataset {
		out := make(map[string][]models.Dataset, len(snap.Sessions))
		for id, session := range snap.Sessions {
			datasets := make([]models.Dataset, 0, len(session.Datasets))
			for _, datasetID := range session.Datasets {
				if dataset, ok := snap.Datasets[datasetID]; ok {
					datasets = append(datasets, dataset)
				}
			}
			out[id] = datasets
		}
		return out
	})
}

// SignalsByDataset joins each dataset's ordered signal id list against the
// signal map.
func (v *Views) SignalsByDataset() map[string][]models.Signal {
	return memoized(v, "signalsByDataset", func(snap store.Snapshot) map[string][]models.Signal {
		out := make(map[string][]models.Signal, len(snap.Datasets))
		for id, dataset := range snap.Datasets {
			signals := make([]models.Signal, 0, len(dataset.Signals))
			for _, signalID := range dataset.Signals {
				if signal, ok := snap.Signals[signalID]; ok {
					signals = append(signals, signal)
				}
			}
			out[id] = signals
		}
		return out
	})
}

// Signals returns all non-tag signals keyed by id.
func (v *Views) Signals() map[string]models.Signal {
	return memoized(v, "signals", func(snap store.Snapshot) map[string]models.Signal {
		out := make(map[string]models.Signal)
		for id, signal := range snap.Signals {
			if signal.Type != models.SignalTags {
				out[id] = signal
			}
		}
		return out
	})
}

// IBISignals returns all inter-beat-interval signals keyed by id.
func (v *Views) IBISignals() map[string]models.Signal {
	return memoized(v, "ibiSignals", func(snap store.Snapshot) map[string]models.Signal {
		out := make(map[string]models.Signal)
		for id, signal := range snap.Signals {
			if signal.Type.IBI() {
				out[id] = signal
			}
		}
		return out
	})
}

// TagSignalsBySession groups tag-type signals by the session that owns their
// dataset. Signals whose dataset is not cached are skipped.
func (v *Views) TagSignalsBySession() map[string][]models.Signal {
	return memoized(v, "tagSignalsBySession", func(snap store.Snapshot) map[string][]models.Signal {
		out := make(map[string][]models.Signal)
		ids := make([]string, 0, len(snap.Signals))
		for id := range snap.Signals {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			signal := snap.Signals[id]
			if signal.Type != models.SignalTags {
				continue
			}
			dataset, ok := snap.Datasets[signal.Dataset]
			if !ok {
				continue
			}
			out[dataset.Session] = append(out[dataset.Session], signal)
		}
		return out
	})
}

// SamplesBySession joins each session's ordered analysis sample id list
// against the sample map.
func (v *Views) SamplesBySession() map[string][]models.AnalysisSample {
	return memoized(v, "samplesBySession", func(snap store.Snapshot) map[string][]models.AnalysisSample {
		out := make(map[string][]models.AnalysisSample, len(snap.Sessions))
		for id, session := range snap.Sessions {
			samples := make([]models.AnalysisSample, 0, len(session.AnalysisSamples))
			for _, sampleID := range session.AnalysisSamples {
				if sample, ok := snap.AnalysisSamples[sampleID]; ok {
					samples = append(samples, sample)
				}
			}
			out[id] = samples
		}
		return out
	})
}

// InstalledSources returns sources with an installed parser, sorted by name.
func (v *Views) InstalledSources() []models.Source {
	return memoized(v, "installedSources", func(snap store.Snapshot) []models.Source {
		out := make([]models.Source, 0, len(snap.Sources))
		for _, source := range snap.Sources {
			if source.Installed {
				out = append(out, source)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	})
}

// InstalledMethods returns installed processing methods of the given type,
// sorted by name. An empty type returns all installed methods.
func (v *Views) InstalledMethods(methodType models.MethodType) []models.ProcessingMethod {
	return memoized(v, "installedMethods/"+string(methodType), func(snap store.Snapshot) []models.ProcessingMethod {
		out := make([]models.ProcessingMethod, 0, len(snap.ProcessingMethods))
		for _, method := range snap.ProcessingMethods {
			if !method.Installed {
				continue
			}
			if methodType != "" && method.Type != methodType {
				continue
			}
			out = append(out, method)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	})
}

// ResultsByLabel groups analysis results by label id, each group sorted by
// result id for stable ordering.
func (v *Views) ResultsByLabel() map[string][]models.AnalysisResult {
	return memoized(v, "resultsByLabel", func(snap store.Snapshot) map[string][]models.AnalysisResult {
		return groupResults(snap, func(r models.AnalysisResult) string { return r.Label })
	})
}

// ResultsBySnapshot groups analysis results by snapshot id. Results without
// a snapshot land under the empty key.
func (v *Views) ResultsBySnapshot() map[string][]models.AnalysisResult {
	return memoized(v, "resultsBySnapshot", func(snap store.Snapshot) map[string][]models.AnalysisResult {
		return groupResults(snap, func(r models.AnalysisResult) string { return r.Snapshot })
	})
}

// ResultsBySignal groups analysis results by signal id.
func (v *Views) ResultsBySignal() map[string][]models.AnalysisResult {
	return memoized(v, "resultsBySignal", func(snap store.Snapshot) map[string][]models.AnalysisResult {
		return groupResults(snap, func(r models.AnalysisResult) string { return r.Signal })
	})
}

func groupResults(snap store.Snapshot, key func(models.AnalysisResult) string) map[string][]models.AnalysisResult {
	out := make(map[string][]models.AnalysisResult)
	for _, result := range snap.AnalysisResults {
		out[key(result)] = append(out[key(result)], result)
	}
	for _, group := range out {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	}
	return out
}
