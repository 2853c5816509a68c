package store

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/studylab/studysync/pkg/apperrors"
	"github.com/studylab/studysync/pkg/models"
	"github.com/studylab/studysync/pkg/normalize"
)

// decodeOnto overlays a normalized record on the existing typed value at the
// document level and decodes the result into a fresh value. Fields absent
// from the record keep their current value, which gives exact field-level
// shallow-merge semantics: a partial response never wipes reference lists it
// did not carry. Decoding into a zero value allocates new backing storage
// for every slice and map, so records inside snapshots already handed out
// are never mutated in place.
func decodeOnto[T any](existing T, record map[string]any) (T, error) {
	var out T

	buf, err := json.Marshal(existing)
	if err != nil {
		return out, fmt.Errorf("encode existing value: %w", err)
	}
	doc := make(map[string]any, len(record))
	if err := json.Unmarshal(buf, &doc); err != nil {
		return out, fmt.Errorf("decode existing value: %w", err)
	}
	for k, v := range record {
		doc[k] = v
	}

	buf, err = json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

// stageMerge decodes every record against the current map and returns a
// commit closure. Nothing is applied until commit runs, so a decode error
// leaves the collection untouched.
func stageMerge[T any](m map[string]T, records map[string]map[string]any) (func(), error) {
	staged := make(map[string]T, len(records))
	for id, record := range records {
		next, err := decodeOnto(m[id], record)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		staged[id] = next
	}
	return func() {
		for id, next := range staged {
			m[id] = next
		}
	}, nil
}

func replaceWith[T any](records map[string]map[string]any) (map[string]T, error) {
	out := make(map[string]T, len(records))
	for id, record := range records {
		var zero T
		next, err := decodeOnto(zero, record)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		out[id] = next
	}
	return out, nil
}

// MergeCollection shallow-merges each record into the kind's map, adding new
// keys and overwriting only the fields each record carries.
func (s *Store) MergeCollection(kind models.Kind, records map[string]map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	commit, err := s.stageMergeLocked(kind, records)
	if err != nil {
		return err
	}
	commit()
	s.version++
	return nil
}

func (s *Store) stageMergeLocked(kind models.Kind, records map[string]map[string]any) (func(), error) {
	switch kind {
	case models.KindSubject:
		return stageMerge(s.subjects, records)
	case models.KindSession:
		return stageMerge(s.sessions, records)
	case models.KindDataset:
		return stageMerge(s.datasets, records)
	case models.KindSignal:
		return stageMerge(s.signals, records)
	case models.KindRawFile:
		return stageMerge(s.rawFiles, records)
	case models.KindSource:
		return stageMerge(s.sources, records)
	case models.KindProcessingMethod:
		return stageMerge(s.methods, records)
	case models.KindAnalysisLabel:
		return stageMerge(s.labels, records)
	case models.KindAnalysisSample:
		return stageMerge(s.samples, records)
	case models.KindAnalysisResult:
		return stageMerge(s.results, records)
	case models.KindAnalysisSnapshot:
		return stageMerge(s.snapshots, records)
	}
	return nil, fmt.Errorf("%s: %w", kind, apperrors.ErrUnknownKind)
}

// ReplaceCollection swaps the kind's entire map for the given records. Used
// for list responses that represent the complete authoritative set.
func (s *Store) ReplaceCollection(kind models.Kind, records map[string]map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	commit, err := s.stageReplaceLocked(kind, records)
	if err != nil {
		return err
	}
	commit()
	s.version++
	return nil
}

func (s *Store) stageReplaceLocked(kind models.Kind, records map[string]map[string]any) (func(), error) {
	switch kind {
	case models.KindSubject:
		out, err := replaceWith[models.Subject](records)
		if err != nil {
			return nil, err
		}
		return func() { s.subjects = out }, nil
	case models.KindSession:
		out, err := replaceWith[models.Session](records)
		if err != nil {
			return nil, err
		}
		return func() { s.sessions = out }, nil
	case models.KindDataset:
		out, err := replaceWith[models.Dataset](records)
		if err != nil {
			return nil, err
		}
		return func() { s.datasets = out }, nil
	case models.KindSignal:
		out, err := replaceWith[models.Signal](records)
		if err != nil {
			return nil, err
		}
		return func() { s.signals = out }, nil
	case models.KindRawFile:
		out, err := replaceWith[models.RawFile](records)
		if err != nil {
			return nil, err
		}
		return func() { s.rawFiles = out }, nil
	case models.KindSource:
		out, err := replaceWith[models.Source](records)
		if err != nil {
			return nil, err
		}
		return func() { s.sources = out }, nil
	case models.KindProcessingMethod:
		out, err := replaceWith[models.ProcessingMethod](records)
		if err != nil {
			return nil, err
		}
		return func() { s.methods = out }, nil
	case models.KindAnalysisLabel:
		out, err := replaceWith[models.AnalysisLabel](records)
		if err != nil {
			return nil, err
		}
		return func() { s.labels = out }, nil
	case models.KindAnalysisSample:
		out, err := replaceWith[models.AnalysisSample](records)
		if err != nil {
			return nil, err
		}
		return func() { s.samples = out }, nil
	case models.KindAnalysisResult:
		out, err := replaceWith[models.AnalysisResult](records)
		if err != nil {
			return nil, err
		}
		return func() { s.results = out }, nil
	case models.KindAnalysisSnapshot:
		out, err := replaceWith[models.AnalysisSnapshot](records)
		if err != nil {
			return nil, err
		}
		return func() { s.snapshots = out }, nil
	}
	return nil, fmt.Errorf("%s: %w", kind, apperrors.ErrUnknownKind)
}

// MergePayload merges every collection of a normalized payload in one
// atomic step. All records are decoded before any is applied, so a failed
// payload never leaves the store partially merged.
func (s *Store) MergePayload(p *normalize.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	commits := make([]func(), 0, len(p.Entities))
	for kind, records := range p.Entities {
		commit, err := s.stageMergeLocked(kind, records)
		if err != nil {
			return err
		}
		commits = append(commits, commit)
	}
	for _, commit := range commits {
		commit()
	}
	s.version++
	return nil
}

// ReplacePayload replaces the collection of the payload's root kind and
// merges all other (nested) kinds. This is the reconciliation step for list
// responses: the listed kind is authoritative, embedded children merge.
// Like MergePayload, it applies nothing unless the whole payload decodes.
func (s *Store) ReplacePayload(rootKind models.Kind, p *normalize.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := p.Entities[rootKind]
	if root == nil {
		root = map[string]map[string]any{}
	}
	commits := make([]func(), 0, len(p.Entities)+1)
	commit, err := s.stageReplaceLocked(rootKind, root)
	if err != nil {
		return err
	}
	commits = append(commits, commit)

	for kind, records := range p.Entities {
		if kind == rootKind {
			continue
		}
		commit, err := s.stageMergeLocked(kind, records)
		if err != nil {
			return err
		}
		commits = append(commits, commit)
	}
	for _, commit := range commits {
		commit()
	}
	s.version++
	return nil
}

// ChildList names one parent->child reference list.
type ChildList int

const (
	SubjectSessions ChildList = iota
	SessionDatasets
	SessionSamples
	DatasetSignals
	DatasetRawFiles
)

// LinkChild idempotently inserts childID into a parent's reference list.
// atFront prepends, so freshly created entities sort first. Linking into a
// missing parent is a programming error at the call site (operations issued
// out of order) and fails loudly with ErrUnknownParent.
func (s *Store) LinkChild(list ChildList, parentID, childID string, atFront bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch list {
	case SubjectSessions:
		parent, ok := s.subjects[parentID]
		if !ok {
			return fmt.Errorf("subject %s: %w", parentID, apperrors.ErrUnknownParent)
		}
		parent.Sessions = insert(parent.Sessions, childID, atFront)
		s.subjects[parentID] = parent
	case SessionDatasets:
		parent, ok := s.sessions[parentID]
		if !ok {
			return fmt.Errorf("session %s: %w", parentID, apperrors.ErrUnknownParent)
		}
		parent.Datasets = insert(parent.Datasets, childID, atFront)
		s.sessions[parentID] = parent
	case SessionSamples:
		parent, ok := s.sessions[parentID]
		if !ok {
			return fmt.Errorf("session %s: %w", parentID, apperrors.ErrUnknownParent)
		}
		parent.AnalysisSamples = insert(parent.AnalysisSamples, childID, atFront)
		s.sessions[parentID] = parent
	case DatasetSignals:
		parent, ok := s.datasets[parentID]
		if !ok {
			return fmt.Errorf("dataset %s: %w", parentID, apperrors.ErrUnknownParent)
		}
		parent.Signals = insert(parent.Signals, childID, atFront)
		s.datasets[parentID] = parent
	case DatasetRawFiles:
		parent, ok := s.datasets[parentID]
		if !ok {
			return fmt.Errorf("dataset %s: %w", parentID, apperrors.ErrUnknownParent)
		}
		parent.RawFiles = insert(parent.RawFiles, childID, atFront)
		s.datasets[parentID] = parent
	default:
		return fmt.Errorf("child list %d: %w", list, apperrors.ErrUnknownKind)
	}
	s.version++
	return nil
}

// insert returns a new slice; reference lists are never mutated in place so
// snapshots stay coherent.
func insert(ids []string, id string, atFront bool) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	out := make([]string, 0, len(ids)+1)
	if atFront {
		out = append(out, id)
		out = append(out, ids...)
	} else {
		out = append(out, ids...)
		out = append(out, id)
	}
	return out
}

func remove(ids []string, id string) []string {
	if !slices.Contains(ids, id) {
		return ids
	}
	out := make([]string, 0, len(ids)-1)
	for _, each := range ids {
		if each != id {
			out = append(out, each)
		}
	}
	return out
}
