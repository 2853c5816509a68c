package store

import (
	"fmt"

	"github.com/studylab/studysync/pkg/apperrors"
	"github.com/studylab/studysync/pkg/models"
)

// CascadeDelete removes an entity, every entity that depends on it, and its
// id from every parent reference list. The cascade table:
//
//	Subject -> Sessions
//	Session -> Datasets, AnalysisSamples
//	Dataset -> Signals, RawFiles
//	Signal  -> AnalysisResults
//
// Deleting an id that is not present is a no-op, matching a destroy
// acknowledgment arriving after the entity already left the cache.
func (s *Store) CascadeDelete(kind models.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case models.KindSubject:
		s.deleteSubjectLocked(id)
	case models.KindSession:
		s.deleteSessionLocked(id)
	case models.KindDataset:
		s.deleteDatasetLocked(id)
	case models.KindSignal:
		s.deleteSignalLocked(id)
	case models.KindRawFile:
		s.deleteRawFileLocked(id)
	case models.KindAnalysisSample:
		s.deleteSampleLocked(id)
	case models.KindAnalysisResult:
		delete(s.results, id)
	case models.KindAnalysisSnapshot:
		s.deleteSnapshotLocked(id)
	case models.KindAnalysisLabel:
		delete(s.labels, id)
	case models.KindSource:
		delete(s.sources, id)
	case models.KindProcessingMethod:
		delete(s.methods, id)
	default:
		return fmt.Errorf("%s: %w", kind, apperrors.ErrUnknownKind)
	}
	s.version++
	return nil
}

func (s *Store) deleteSubjectLocked(id string) {
	subject, ok := s.subjects[id]
	if !ok {
		return
	}
	for _, sessionID := range subject.Sessions {
		s.deleteSessionLocked(sessionID)
	}
	delete(s.subjects, id)
}

func (s *Store) deleteSessionLocked(id string) {
	session, ok := s.sessions[id]
	if !ok {
		return
	}
	for _, datasetID := range session.Datasets {
		s.deleteDatasetLocked(datasetID)
	}
	for _, sampleID := range session.AnalysisSamples {
		delete(s.samples, sampleID)
	}
	if subject, ok := s.subjects[session.Subject]; ok {
		subject.Sessions = remove(subject.Sessions, id)
		s.subjects[session.Subject] = subject
	}
	delete(s.sessions, id)
}

func (s *Store) deleteDatasetLocked(id string) {
	dataset, ok := s.datasets[id]
	if !ok {
		return
	}
	for _, signalID := range dataset.Signals {
		s.deleteSignalLocked(signalID)
	}
	for _, fileID := range dataset.RawFiles {
		delete(s.rawFiles, fileID)
	}
	if session, ok := s.sessions[dataset.Session]; ok {
		session.Datasets = remove(session.Datasets, id)
		s.sessions[dataset.Session] = session
	}
	delete(s.datasets, id)
}

func (s *Store) deleteSignalLocked(id string) {
	signal, ok := s.signals[id]
	if !ok {
		return
	}
	for resultID, result := range s.results {
		if result.Signal == id {
			delete(s.results, resultID)
		}
	}
	if dataset, ok := s.datasets[signal.Dataset]; ok {
		dataset.Signals = remove(dataset.Signals, id)
		s.datasets[signal.Dataset] = dataset
	}
	delete(s.signals, id)
}

func (s *Store) deleteRawFileLocked(id string) {
	file, ok := s.rawFiles[id]
	if !ok {
		return
	}
	if dataset, ok := s.datasets[file.Dataset]; ok {
		dataset.RawFiles = remove(dataset.RawFiles, id)
		s.datasets[file.Dataset] = dataset
	}
	delete(s.rawFiles, id)
}

func (s *Store) deleteSampleLocked(id string) {
	sample, ok := s.samples[id]
	if !ok {
		return
	}
	if session, ok := s.sessions[sample.Session]; ok {
		session.AnalysisSamples = remove(session.AnalysisSamples, id)
		s.sessions[sample.Session] = session
	}
	delete(s.samples, id)
}

func (s *Store) deleteSnapshotLocked(id string) {
	if _, ok := s.snapshots[id]; !ok {
		return
	}
	for resultID, result := range s.results {
		if result.Snapshot == id {
			delete(s.results, resultID)
		}
	}
	delete(s.snapshots, id)
}
