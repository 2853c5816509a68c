// Package dispatch runs remote domain operations asynchronously and
// reconciles their responses into the entity store. Every public method
// records a Requested event synchronously, performs the call on its own
// goroutine, and finishes with exactly one Succeeded or Failed event, so
// callers can observe loading and error state per request key.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/studylab/studysync/pkg/api"
	"github.com/studylab/studysync/pkg/jsonutil"
	"github.com/studylab/studysync/pkg/logging"
	"github.com/studylab/studysync/pkg/metrics"
	"github.com/studylab/studysync/pkg/models"
	"github.com/studylab/studysync/pkg/normalize"
	"github.com/studylab/studysync/pkg/store"
)

// API is the remote surface the dispatcher drives. *api.Client satisfies it.
type API interface {
	ListSources(ctx context.Context) (json.RawMessage, error)
	ListProcessingMethods(ctx context.Context) (json.RawMessage, error)

	ListSubjects(ctx context.Context) (json.RawMessage, error)
	GetSubject(ctx context.Context, id string) (json.RawMessage, error)
	CreateSubject(ctx context.Context, payload any) (json.RawMessage, error)
	DestroySubject(ctx context.Context, id string) error

	ListSessions(ctx context.Context, subjectID string) (json.RawMessage, error)
	GetSession(ctx context.Context, id string) (json.RawMessage, error)
	CreateSession(ctx context.Context, subjectID string, payload any) (json.RawMessage, error)
	DestroySession(ctx context.Context, id string) error

	GetDataset(ctx context.Context, id string) (json.RawMessage, error)
	CreateDataset(ctx context.Context, sessionID string, payload any) (json.RawMessage, error)
	DestroyDataset(ctx context.Context, id string) error
	UploadRawFiles(ctx context.Context, datasetID string, files []api.RawFileUpload) (json.RawMessage, error)

	GetSignal(ctx context.Context, id string) (json.RawMessage, error)
	FilterSignal(ctx context.Context, signalID, methodID string, configuration map[string]any) (json.RawMessage, error)

	ListAnalysisLabels(ctx context.Context) (json.RawMessage, error)
	CreateAnalysisLabel(ctx context.Context, name string) (json.RawMessage, error)

	CreateAnalysisSample(ctx context.Context, sessionID string, payload any) (json.RawMessage, error)
	UpdateAnalysisSample(ctx context.Context, id string, payload any) (json.RawMessage, error)
	DestroyAnalysisSample(ctx context.Context, id string) error

	CreateAnalyses(ctx context.Context, batch []api.AnalysisRequest) (json.RawMessage, error)
	ListAnalysisResults(ctx context.Context, sessionID string) (json.RawMessage, error)
	GetAnalysisResult(ctx context.Context, id string) (json.RawMessage, error)

	ListAnalysisSnapshots(ctx context.Context, sessionID string) (json.RawMessage, error)
	CreateAnalysisSnapshot(ctx context.Context, name string, analyses []string) (json.RawMessage, error)
}

// Dispatcher owns the request lifecycle for the domain operations.
type Dispatcher struct {
	api     API
	store   *store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func New(remote API, st *store.Store, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		api:     remote,
		store:   st,
		logger:  logger.Named("dispatch"),
		metrics: m,
	}
}

// Wait blocks until every in-flight operation has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// run records the Requested event, then executes fn on its own goroutine and
// settles the request key with the outcome.
func (d *Dispatcher) run(ctx context.Context, key store.RequestKey, fn func(context.Context) error) {
	d.store.ApplyRequestEvent(store.RequestEvent{Key: key, Phase: store.PhaseRequested})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := fn(ctx)
		if err != nil {
			d.logger.Warn("operation failed",
				zap.String("kind", string(key.Kind)),
				zap.String("operation", string(key.Op)),
				zap.String("id", key.ID),
				zap.String("error", logging.SanitizeError(err)))
			d.store.ApplyRequestEvent(store.RequestEvent{Key: key, Phase: store.PhaseFailed, Err: err})
		} else {
			d.store.ApplyRequestEvent(store.RequestEvent{Key: key, Phase: store.PhaseSucceeded})
		}
		d.metrics.RequestFinished(key.Kind, string(key.Op), err == nil)
	}()
}

// RefreshSources replaces the source collection with the server's list.
func (d *Dispatcher) RefreshSources(ctx context.Context) {
	d.run(ctx, store.RequestKey{Kind: models.KindSource, Op: store.OpList}, func(ctx context.Context) error {
		raw, err := d.api.ListSources(ctx)
		if err != nil {
			return err
		}
		p, err := normalize.NormalizeList(raw, normalize.Source)
		if err != nil {
			return err
		}
		return d.store.ReplacePayload(models.KindSource, p)
	})
}

// RefreshProcessingMethods replaces the processing method collection.
func (d *Dispatcher) RefreshProcessingMethods(ctx context.Context) {
	d.run(ctx, store.RequestKey{Kind: models.KindProcessingMethod, Op: store.OpList}, func(ctx context.Context) error {
		raw, err := d.api.ListProcessingMethods(ctx)
		if err != nil {
			return err
		}
		p, err := normalize.NormalizeList(raw, normalize.ProcessingMethod)
		if err != nil {
			return err
		}
		return d.store.ReplacePayload(models.KindProcessingMethod, p)
	})
}

// RefreshSubjects replaces the subject collection. Entities nested under the
// subjects are merged, not replaced, so concurrently fetched detail survives.
func (d *Dispatcher) RefreshSubjects(ctx context.Context) {
	d.run(ctx, store.RequestKey{Kind: models.KindSubject, Op: store.OpList}, func(ctx context.Context) error {
		raw, err := d.api.ListSubjects(ctx)
		if err != nil {
			return err
		}
		p, err := normalize.NormalizeList(raw, normalize.Subject)
		if err != nil {
			return err
		}
		return d.store.ReplacePayload(models.KindSubject, p)
	})
}

func (d *Dispatcher) FetchSubject(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindSubject, Op: store.OpGet, ID: id}, func(ctx context.Context) error {
		raw, err := d.api.GetSubject(ctx, id)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.Subject)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

func (d *Dispatcher) CreateSubject(ctx context.Context, payload any) {
	d.run(ctx, store.RequestKey{Kind: models.KindSubject, Op: store.OpCreate}, func(ctx context.Context) error {
		raw, err := d.api.CreateSubject(ctx, payload)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.Subject)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

func (d *Dispatcher) DestroySubject(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindSubject, Op: store.OpDestroy, ID: id}, func(ctx context.Context) error {
		if err := d.api.DestroySubject(ctx, id); err != nil {
			return err
		}
		return d.store.CascadeDelete(models.KindSubject, id)
	})
}

// RefreshSessions merges the subject's sessions and links any the subject's
// reference list does not carry yet.
func (d *Dispatcher) RefreshSessions(ctx context.Context, subjectID string) {
	d.run(ctx, store.RequestKey{Kind: models.KindSession, Op: store.OpList, ID: subjectID}, func(ctx context.Context) error {
		raw, err := d.api.ListSessions(ctx, subjectID)
		if err != nil {
			return err
		}
		p, err := normalize.NormalizeList(raw, normalize.Session)
		if err != nil {
			return err
		}
		if err := d.store.MergePayload(p); err != nil {
			return err
		}
		for _, id := range p.Result {
			if err := d.store.LinkChild(store.SubjectSessions, subjectID, id, false); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Dispatcher) FetchSession(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindSession, Op: store.OpGet, ID: id}, func(ctx context.Context) error {
		raw, err := d.api.GetSession(ctx, id)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.Session)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

// CreateSession creates the session and prepends it to the subject's list so
// the newest session renders first.
func (d *Dispatcher) CreateSession(ctx context.Context, subjectID string, payload any) {
	d.run(ctx, store.RequestKey{Kind: models.KindSession, Op: store.OpCreate, ID: subjectID}, func(ctx context.Context) error {
		raw, err := d.api.CreateSession(ctx, subjectID, payload)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.Session)
		if err != nil {
			return err
		}
		if err := d.store.MergePayload(p); err != nil {
			return err
		}
		return d.store.LinkChild(store.SubjectSessions, subjectID, p.RootID(), true)
	})
}

func (d *Dispatcher) DestroySession(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindSession, Op: store.OpDestroy, ID: id}, func(ctx context.Context) error {
		if err := d.api.DestroySession(ctx, id); err != nil {
			return err
		}
		return d.store.CascadeDelete(models.KindSession, id)
	})
}

func (d *Dispatcher) FetchDataset(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindDataset, Op: store.OpGet, ID: id}, func(ctx context.Context) error {
		raw, err := d.api.GetDataset(ctx, id)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.Dataset)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

// CreateDataset creates the dataset, uploads the raw files in the same
// operation, and links the dataset at the front of the session's list. The
// upload response is the updated dataset document; its entities are folded
// into the create payload before reconciliation.
func (d *Dispatcher) CreateDataset(ctx context.Context, sessionID string, payload any, files []api.RawFileUpload) {
	d.run(ctx, store.RequestKey{Kind: models.KindDataset, Op: store.OpCreate, ID: sessionID}, func(ctx context.Context) error {
		raw, err := d.api.CreateDataset(ctx, sessionID, payload)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.Dataset)
		if err != nil {
			return err
		}
		datasetID := p.RootID()
		if len(files) > 0 {
			uploaded, err := d.api.UploadRawFiles(ctx, datasetID, files)
			if err != nil {
				return err
			}
			up, err := normalize.Normalize(uploaded, normalize.Dataset)
			if err != nil {
				return err
			}
			p.Merge(up)
		}
		if err := d.store.MergePayload(p); err != nil {
			return err
		}
		return d.store.LinkChild(store.SessionDatasets, sessionID, datasetID, true)
	})
}

func (d *Dispatcher) DestroyDataset(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindDataset, Op: store.OpDestroy, ID: id}, func(ctx context.Context) error {
		if err := d.api.DestroyDataset(ctx, id); err != nil {
			return err
		}
		return d.store.CascadeDelete(models.KindDataset, id)
	})
}

func (d *Dispatcher) FetchSignal(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindSignal, Op: store.OpGet, ID: id}, func(ctx context.Context) error {
		raw, err := d.api.GetSignal(ctx, id)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.Signal)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

// FilterSignal runs a filter method over a signal. The server answers with a
// new derived signal, which is linked into its dataset's signal list.
func (d *Dispatcher) FilterSignal(ctx context.Context, signalID, methodID string, configuration map[string]any) {
	d.run(ctx, store.RequestKey{Kind: models.KindSignal, Op: store.OpFilter, ID: signalID}, func(ctx context.Context) error {
		raw, err := d.api.FilterSignal(ctx, signalID, methodID, configuration)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.Signal)
		if err != nil {
			return err
		}
		if err := d.store.MergePayload(p); err != nil {
			return err
		}
		rec := p.Record(models.KindSignal, p.RootID())
		datasetID := jsonutil.StringValue(rec["dataset"])
		return d.store.LinkChild(store.DatasetSignals, datasetID, p.RootID(), false)
	})
}

func (d *Dispatcher) RefreshAnalysisLabels(ctx context.Context) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisLabel, Op: store.OpList}, func(ctx context.Context) error {
		raw, err := d.api.ListAnalysisLabels(ctx)
		if err != nil {
			return err
		}
		p, err := normalize.NormalizeList(raw, normalize.AnalysisLabel)
		if err != nil {
			return err
		}
		return d.store.ReplacePayload(models.KindAnalysisLabel, p)
	})
}

func (d *Dispatcher) CreateAnalysisLabel(ctx context.Context, name string) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisLabel, Op: store.OpCreate}, func(ctx context.Context) error {
		raw, err := d.api.CreateAnalysisLabel(ctx, name)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.AnalysisLabel)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

func (d *Dispatcher) CreateAnalysisSample(ctx context.Context, sessionID string, payload any) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisSample, Op: store.OpCreate, ID: sessionID}, func(ctx context.Context) error {
		raw, err := d.api.CreateAnalysisSample(ctx, sessionID, payload)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.AnalysisSample)
		if err != nil {
			return err
		}
		if err := d.store.MergePayload(p); err != nil {
			return err
		}
		return d.store.LinkChild(store.SessionSamples, sessionID, p.RootID(), true)
	})
}

func (d *Dispatcher) UpdateAnalysisSample(ctx context.Context, id string, payload any) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisSample, Op: store.OpUpdate, ID: id}, func(ctx context.Context) error {
		raw, err := d.api.UpdateAnalysisSample(ctx, id, payload)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.AnalysisSample)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

func (d *Dispatcher) DestroyAnalysisSample(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisSample, Op: store.OpDestroy, ID: id}, func(ctx context.Context) error {
		if err := d.api.DestroyAnalysisSample(ctx, id); err != nil {
			return err
		}
		return d.store.CascadeDelete(models.KindAnalysisSample, id)
	})
}

// MethodSelection is one processing method picked for an analysis run, with
// its per-method configuration.
type MethodSelection struct {
	MethodID      string
	Configuration map[string]any
}

// RunAnalyses submits one analysis per selected method and signal in a single
// batch request and merges the created results.
func (d *Dispatcher) RunAnalyses(ctx context.Context, labelID string, signalIDs []string, methods []MethodSelection) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisResult, Op: store.OpRun, ID: labelID}, func(ctx context.Context) error {
		batch := make([]api.AnalysisRequest, 0, len(methods)*len(signalIDs))
		for _, m := range methods {
			for _, signalID := range signalIDs {
				batch = append(batch, api.AnalysisRequest{
					Signal:        signalID,
					Label:         labelID,
					Method:        m.MethodID,
					Configuration: m.Configuration,
				})
			}
		}
		raw, err := d.api.CreateAnalyses(ctx, batch)
		if err != nil {
			return err
		}
		p, err := normalize.NormalizeList(raw, normalize.AnalysisResult)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

func (d *Dispatcher) RefreshAnalysisResults(ctx context.Context, sessionID string) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisResult, Op: store.OpList, ID: sessionID}, func(ctx context.Context) error {
		raw, err := d.api.ListAnalysisResults(ctx, sessionID)
		if err != nil {
			return err
		}
		p, err := normalize.NormalizeList(raw, normalize.AnalysisResult)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

func (d *Dispatcher) FetchAnalysisResult(ctx context.Context, id string) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisResult, Op: store.OpGet, ID: id}, func(ctx context.Context) error {
		raw, err := d.api.GetAnalysisResult(ctx, id)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.AnalysisResult)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

func (d *Dispatcher) RefreshAnalysisSnapshots(ctx context.Context, sessionID string) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisSnapshot, Op: store.OpList, ID: sessionID}, func(ctx context.Context) error {
		raw, err := d.api.ListAnalysisSnapshots(ctx, sessionID)
		if err != nil {
			return err
		}
		p, err := normalize.NormalizeList(raw, normalize.AnalysisSnapshot)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}

func (d *Dispatcher) CreateAnalysisSnapshot(ctx context.Context, name string, analyses []string) {
	d.run(ctx, store.RequestKey{Kind: models.KindAnalysisSnapshot, Op: store.OpCreate}, func(ctx context.Context) error {
		raw, err := d.api.CreateAnalysisSnapshot(ctx, name, analyses)
		if err != nil {
			return err
		}
		p, err := normalize.Normalize(raw, normalize.AnalysisSnapshot)
		if err != nil {
			return err
		}
		return d.store.MergePayload(p)
	})
}
