// Package models contains the domain types held by the entity store.
package models

// Kind identifies one entity collection in the store. The values match the
// collection names used in normalized API payloads.
type Kind string

const (
	KindSubject          Kind = "subjects"
	KindSession          Kind = "sessions"
	KindDataset          Kind = "datasets"
	KindSignal           Kind = "signals"
	KindRawFile          Kind = "rawFiles"
	KindSource           Kind = "sources"
	KindProcessingMethod Kind = "processingMethods"
	KindAnalysisLabel    Kind = "analysisLabels"
	KindAnalysisSample   Kind = "analysisSamples"
	KindAnalysisResult   Kind = "analysisResults"
	KindAnalysisSnapshot Kind = "analysisSnapshots"
)

// Kinds lists every entity kind the store manages.
func Kinds() []Kind {
	return []Kind{
		KindSubject,
		KindSession,
		KindDataset,
		KindSignal,
		KindRawFile,
		KindSource,
		KindProcessingMethod,
		KindAnalysisLabel,
		KindAnalysisSample,
		KindAnalysisResult,
		KindAnalysisSnapshot,
	}
}
