package normalize

import "github.com/studylab/studysync/pkg/models"

// Static schemas for every entity kind the API serves. Composition mirrors
// the server's nesting: a session document embeds its datasets and analysis
// samples, a dataset embeds its signals and raw files, and so on.
var (
	Source           = NewSchema(models.KindSource)
	ProcessingMethod = NewSchema(models.KindProcessingMethod)
	AnalysisLabel    = NewSchema(models.KindAnalysisLabel)
	AnalysisSnapshot = NewSchema(models.KindAnalysisSnapshot)
	AnalysisResult   = NewSchema(models.KindAnalysisResult)
	RawFile          = NewSchema(models.KindRawFile)
	Signal           = NewSchema(models.KindSignal)
	AnalysisSample   = NewSchema(models.KindAnalysisSample)

	Dataset = NewSchema(models.KindDataset).
		List("signals", Signal).
		List("raw_files", RawFile)

	Session = NewSchema(models.KindSession).
		List("datasets", Dataset).
		List("analysis_samples", AnalysisSample)

	Subject = NewSchema(models.KindSubject).
		List("sessions", Session)
)
