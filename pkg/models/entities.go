package models

import "time"

// Entity is implemented by every record type held in the store.
type Entity interface {
	EntityID() string
}

// Subject is a study participant. Sessions holds ordered session ids.
type Subject struct {
	ID         string   `json:"id"`
	Identifier string   `json:"identifier"`
	Sessions   []string `json:"sessions"`
}

func (s Subject) EntityID() string { return s.ID }

// Session is one recording visit of a subject.
type Session struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Date            string   `json:"date"`
	Subject         string   `json:"subject"`
	Datasets        []string `json:"datasets"`
	AnalysisSamples []string `json:"analysis_samples"`
}

func (s Session) EntityID() string { return s.ID }

// Dataset is one imported recording. Its Status advances server-side while
// the source files are parsed.
type Dataset struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    ProcessStatus `json:"status"`
	Session   string        `json:"session"`
	Source    string        `json:"source"`
	CreatedAt time.Time     `json:"created_at"`
	Signals   []string      `json:"signals"`
	RawFiles  []string      `json:"raw_files"`
}

func (d Dataset) EntityID() string { return d.ID }

// Signal is one measured channel of a dataset. Derived (filtered) signals
// carry a Status that advances while the filter job runs.
type Signal struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Type           SignalType    `json:"type"`
	Unit           string        `json:"unit"`
	Dataset        string        `json:"dataset"`
	RawFile        string        `json:"raw_file"`
	FirstTimestamp time.Time     `json:"first_timestamp"`
	LastTimestamp  time.Time     `json:"last_timestamp"`
	YMin           float64       `json:"y_min"`
	YMax           float64       `json:"y_max"`
	Status         ProcessStatus `json:"status"`
}

func (s Signal) EntityID() string { return s.ID }

// RawFile is one uploaded file backing a dataset.
type RawFile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dataset   string    `json:"dataset"`
	Timestamp time.Time `json:"timestamp"`
}

func (f RawFile) EntityID() string { return f.ID }

// Source describes a device or file format datasets can be imported from.
type Source struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Installed   bool           `json:"installed"`
	FileOptions map[string]any `json:"file_options"`
}

func (s Source) EntityID() string { return s.ID }

// ProcessingMethod describes an installed filter or analysis plugin and its
// option schema.
type ProcessingMethod struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Installed bool           `json:"installed"`
	Type      MethodType     `json:"type"`
	Options   map[string]any `json:"options"`
}

func (m ProcessingMethod) EntityID() string { return m.ID }

// AnalysisLabel names a category of analysis samples.
type AnalysisLabel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (l AnalysisLabel) EntityID() string { return l.ID }

// AnalysisSample marks a labeled time range within a session.
type AnalysisSample struct {
	ID      string    `json:"id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Session string    `json:"session"`
	Label   string    `json:"label"`
}

func (s AnalysisSample) EntityID() string { return s.ID }

// AnalysisResult is one computed analysis of a signal. Result is the raw
// payload produced by the method once Status reaches processed.
type AnalysisResult struct {
	ID       string         `json:"id"`
	Signal   string         `json:"signal"`
	Label    string         `json:"label"`
	Method   string         `json:"method"`
	Snapshot string         `json:"snapshot"`
	Status   ProcessStatus  `json:"status"`
	Result   map[string]any `json:"result"`
}

func (r AnalysisResult) EntityID() string { return r.ID }

// AnalysisSnapshot is a named, frozen set of analysis results.
type AnalysisSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s AnalysisSnapshot) EntityID() string { return s.ID }
