package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studylab/studysync/pkg/api"
	"github.com/studylab/studysync/pkg/models"
	"github.com/studylab/studysync/pkg/store"
)

type fixture struct {
	dispatcher *Dispatcher
	store      *store.Store
}

type noTokens struct{}

func (noTokens) Token() (string, bool) { return "test-token", true }

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st := store.New()
	client := api.New(srv.URL, noTokens{}, zap.NewNop())
	return &fixture{
		dispatcher: New(client, st, zap.NewNop(), nil),
		store:      st,
	}
}

func TestRefreshSubjects(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/subjects/", r.URL.Path)
		w.Write([]byte(`[
			{"id": "sub1", "identifier": "P-01", "sessions": [
				{"id": "s1", "subject": "sub1", "datasets": [], "analysis_samples": []}
			]}
		]`))
	}))

	f.dispatcher.RefreshSubjects(context.Background())
	f.dispatcher.Wait()

	snap := f.store.Snapshot()
	require.Contains(t, snap.Subjects, "sub1")
	assert.Equal(t, []string{"s1"}, snap.Subjects["sub1"].Sessions)
	assert.Contains(t, snap.Sessions, "s1")

	state := f.store.RequestState(store.RequestKey{Kind: models.KindSubject, Op: store.OpList})
	assert.False(t, state.InFlight)
	assert.NoError(t, state.Err)
}

func TestRequestStateWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`[]`))
	}))

	f.dispatcher.RefreshSubjects(context.Background())

	key := store.RequestKey{Kind: models.KindSubject, Op: store.OpList}
	assert.True(t, f.store.RequestState(key).InFlight)

	close(release)
	f.dispatcher.Wait()
	assert.False(t, f.store.RequestState(key).InFlight)
}

func TestFailureRecordsError(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail": "database unavailable"}`))
	}))

	f.dispatcher.FetchDataset(context.Background(), "d1")
	f.dispatcher.Wait()

	state := f.store.RequestState(store.RequestKey{Kind: models.KindDataset, Op: store.OpGet, ID: "d1"})
	require.Error(t, state.Err)
	assert.False(t, state.InFlight)
	assert.Empty(t, f.store.Snapshot().Datasets)
}

func TestCreateSessionLinksAtFront(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/subjects/sub1/sessions/", r.URL.Path)
		w.Write([]byte(`{"id": "s2", "subject": "sub1", "title": "Visit 2", "datasets": [], "analysis_samples": []}`))
	}))
	require.NoError(t, f.store.MergeCollection(models.KindSubject, map[string]map[string]any{
		"sub1": {"id": "sub1", "sessions": []string{"s1"}},
	}))

	f.dispatcher.CreateSession(context.Background(), "sub1", map[string]string{"title": "Visit 2"})
	f.dispatcher.Wait()

	snap := f.store.Snapshot()
	assert.Equal(t, []string{"s2", "s1"}, snap.Subjects["sub1"].Sessions)
	assert.Equal(t, "Visit 2", snap.Sessions["s2"].Title)
}

func TestCreateDatasetUploadsFiles(t *testing.T) {
	var uploaded bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/s1/datasets/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "d1", "session": "s1", "status": "UP", "signals": [], "raw_files": []}`))
	})
	mux.HandleFunc("POST /api/datasets/d1/files/", func(w http.ResponseWriter, r *http.Request) {
		uploaded = true
		w.Write([]byte(`{"id": "d1", "session": "s1", "raw_files": [{"id": "f1", "dataset": "d1", "name": "rec.csv"}]}`))
	})
	f := newFixture(t, mux)
	require.NoError(t, f.store.MergeCollection(models.KindSession, map[string]map[string]any{
		"s1": {"id": "s1", "datasets": []string{}},
	}))

	f.dispatcher.CreateDataset(context.Background(), "s1", map[string]string{"title": "Recording"}, []api.RawFileUpload{{
		Key:     "file_0",
		Name:    "rec.csv",
		Content: []byte("0,1\n"),
	}})
	f.dispatcher.Wait()

	assert.True(t, uploaded)
	snap := f.store.Snapshot()
	require.Contains(t, snap.Datasets, "d1")
	assert.Equal(t, []string{"f1"}, snap.Datasets["d1"].RawFiles)
	assert.Contains(t, snap.RawFiles, "f1")
	assert.Equal(t, []string{"d1"}, snap.Sessions["s1"].Datasets)
}

func TestDestroySessionCascades(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, f.store.MergeCollection(models.KindSubject, map[string]map[string]any{
		"sub1": {"id": "sub1", "sessions": []string{"s1"}},
	}))
	require.NoError(t, f.store.MergeCollection(models.KindSession, map[string]map[string]any{
		"s1": {"id": "s1", "subject": "sub1", "datasets": []string{"d1"}},
	}))
	require.NoError(t, f.store.MergeCollection(models.KindDataset, map[string]map[string]any{
		"d1": {"id": "d1", "session": "s1"},
	}))

	f.dispatcher.DestroySession(context.Background(), "s1")
	f.dispatcher.Wait()

	snap := f.store.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.Datasets)
	assert.Empty(t, snap.Subjects["sub1"].Sessions)
}

func TestFilterSignalLinksDerivedSignal(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/filter/", r.URL.Path)
		w.Write([]byte(`{"id": "sig2", "dataset": "d1", "status": "UP", "name": "ecg (filtered)"}`))
	}))
	require.NoError(t, f.store.MergeCollection(models.KindDataset, map[string]map[string]any{
		"d1": {"id": "d1", "signals": []string{"sig1"}},
	}))

	f.dispatcher.FilterSignal(context.Background(), "sig1", "m1", map[string]any{"cutoff": 40})
	f.dispatcher.Wait()

	snap := f.store.Snapshot()
	require.Contains(t, snap.Signals, "sig2")
	assert.Equal(t, models.StatusQueued, snap.Signals["sig2"].Status)
	assert.Equal(t, []string{"sig1", "sig2"}, snap.Datasets["d1"].Signals)
}

func TestRunAnalysesFansOut(t *testing.T) {
	var batch []api.AnalysisRequest
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analysis/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))

		results := make([]map[string]any, len(batch))
		for i, req := range batch {
			results[i] = map[string]any{
				"id":     req.Method + "-" + req.Signal,
				"signal": req.Signal,
				"label":  req.Label,
				"method": req.Method,
				"status": "UP",
			}
		}
		json.NewEncoder(w).Encode(results)
	}))

	f.dispatcher.RunAnalyses(context.Background(), "l1",
		[]string{"sig1", "sig2"},
		[]MethodSelection{
			{MethodID: "m1", Configuration: map[string]any{"window": 300}},
			{MethodID: "m2"},
		})
	f.dispatcher.Wait()

	// One request per method and signal combination.
	require.Len(t, batch, 4)
	for _, req := range batch {
		assert.Equal(t, "l1", req.Label)
	}
	assert.Equal(t, map[string]any{"window": 300.0}, batch[0].Configuration)

	snap := f.store.Snapshot()
	assert.Len(t, snap.AnalysisResults, 4)
}

func TestRefreshSessionsLinksMissing(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": "s1", "subject": "sub1", "datasets": [], "analysis_samples": []},
			{"id": "s2", "subject": "sub1", "datasets": [], "analysis_samples": []}
		]`))
	}))
	require.NoError(t, f.store.MergeCollection(models.KindSubject, map[string]map[string]any{
		"sub1": {"id": "sub1", "sessions": []string{"s1"}},
	}))

	f.dispatcher.RefreshSessions(context.Background(), "sub1")
	f.dispatcher.Wait()

	snap := f.store.Snapshot()
	assert.Equal(t, []string{"s1", "s2"}, snap.Subjects["sub1"].Sessions)
}
