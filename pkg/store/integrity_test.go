package store

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studylab/studysync/pkg/models"
)

// pickID deterministically selects one key of m, or "" when m is empty.
func pickID[T any](rng *rand.Rand, m map[string]T) string {
	if len(m) == 0 {
		return ""
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[rng.Intn(len(ids))]
}

// assertNoDanglingRefs checks that every id in every parent's child list
// resolves in the child map and appears in that list only once.
func assertNoDanglingRefs(t *testing.T, snap Snapshot, step int) {
	t.Helper()
	check := func(parent, list string, ids []string, exists func(string) bool) {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			require.Truef(t, exists(id), "step %d: %s list of %s holds dangling id %s", step, list, parent, id)
			require.Falsef(t, seen[id], "step %d: %s list of %s holds duplicate id %s", step, list, parent, id)
			seen[id] = true
		}
	}

	for id, subject := range snap.Subjects {
		check(id, "session", subject.Sessions, func(c string) bool { _, ok := snap.Sessions[c]; return ok })
	}
	for id, session := range snap.Sessions {
		check(id, "dataset", session.Datasets, func(c string) bool { _, ok := snap.Datasets[c]; return ok })
		check(id, "sample", session.AnalysisSamples, func(c string) bool { _, ok := snap.AnalysisSamples[c]; return ok })
	}
	for id, dataset := range snap.Datasets {
		check(id, "signal", dataset.Signals, func(c string) bool { _, ok := snap.Signals[c]; return ok })
		check(id, "raw file", dataset.RawFiles, func(c string) bool { _, ok := snap.RawFiles[c]; return ok })
	}
}

// TestReferentialIntegrityRandomOps drives the reconciler with a seeded
// random sequence of creates, partial merges, links and cascade deletes and
// checks the no-dangling-references invariant after every step.
func TestReferentialIntegrityRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(412))
	s := New()

	for step := 0; step < 500; step++ {
		snap := s.Snapshot()
		atFront := rng.Intn(2) == 0

		switch rng.Intn(9) {
		case 0: // new subject
			id := fmt.Sprintf("sub%d", step)
			require.NoError(t, s.MergeCollection(models.KindSubject, map[string]map[string]any{
				id: {"id": id, "identifier": id},
			}))
		case 1: // new session under an existing subject
			if parent := pickID(rng, snap.Subjects); parent != "" {
				id := fmt.Sprintf("s%d", step)
				require.NoError(t, s.MergeCollection(models.KindSession, map[string]map[string]any{
					id: {"id": id, "subject": parent},
				}))
				require.NoError(t, s.LinkChild(SubjectSessions, parent, id, atFront))
			}
		case 2: // new dataset under an existing session
			if parent := pickID(rng, snap.Sessions); parent != "" {
				id := fmt.Sprintf("d%d", step)
				require.NoError(t, s.MergeCollection(models.KindDataset, map[string]map[string]any{
					id: {"id": id, "session": parent, "status": "UP"},
				}))
				require.NoError(t, s.LinkChild(SessionDatasets, parent, id, atFront))
			}
		case 3: // new signal under an existing dataset
			if parent := pickID(rng, snap.Datasets); parent != "" {
				id := fmt.Sprintf("sig%d", step)
				require.NoError(t, s.MergeCollection(models.KindSignal, map[string]map[string]any{
					id: {"id": id, "dataset": parent},
				}))
				require.NoError(t, s.LinkChild(DatasetSignals, parent, id, atFront))
			}
		case 4: // new raw file under an existing dataset
			if parent := pickID(rng, snap.Datasets); parent != "" {
				id := fmt.Sprintf("f%d", step)
				require.NoError(t, s.MergeCollection(models.KindRawFile, map[string]map[string]any{
					id: {"id": id, "dataset": parent},
				}))
				require.NoError(t, s.LinkChild(DatasetRawFiles, parent, id, atFront))
			}
		case 5: // new sample under an existing session
			if parent := pickID(rng, snap.Sessions); parent != "" {
				id := fmt.Sprintf("as%d", step)
				require.NoError(t, s.MergeCollection(models.KindAnalysisSample, map[string]map[string]any{
					id: {"id": id, "session": parent},
				}))
				require.NoError(t, s.LinkChild(SessionSamples, parent, id, atFront))
			}
		case 6: // partial update of an existing dataset
			if id := pickID(rng, snap.Datasets); id != "" {
				require.NoError(t, s.MergeCollection(models.KindDataset, map[string]map[string]any{
					id: {"id": id, "status": "PR", "title": fmt.Sprintf("renamed %d", step)},
				}))
			}
		case 7: // cascade delete somewhere in the tree
			kinds := []models.Kind{
				models.KindSubject, models.KindSession, models.KindDataset,
				models.KindSignal, models.KindRawFile, models.KindAnalysisSample,
			}
			kind := kinds[rng.Intn(len(kinds))]
			var id string
			switch kind {
			case models.KindSubject:
				id = pickID(rng, snap.Subjects)
			case models.KindSession:
				id = pickID(rng, snap.Sessions)
			case models.KindDataset:
				id = pickID(rng, snap.Datasets)
			case models.KindSignal:
				id = pickID(rng, snap.Signals)
			case models.KindRawFile:
				id = pickID(rng, snap.RawFiles)
			case models.KindAnalysisSample:
				id = pickID(rng, snap.AnalysisSamples)
			}
			if id != "" {
				require.NoError(t, s.CascadeDelete(kind, id))
			}
		case 8: // relink an existing child (idempotence under re-listing)
			if id := pickID(rng, snap.Sessions); id != "" {
				parent := snap.Sessions[id].Subject
				if _, ok := snap.Subjects[parent]; ok {
					require.NoError(t, s.LinkChild(SubjectSessions, parent, id, atFront))
				}
			}
		}

		assertNoDanglingRefs(t, s.Snapshot(), step)
	}
}
