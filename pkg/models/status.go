package models

// ProcessStatus tracks a server-side asynchronous job. The wire values are
// the two-letter codes the API serializes.
type ProcessStatus string

const (
	StatusQueued     ProcessStatus = "UP"
	StatusProcessing ProcessStatus = "PR"
	StatusProcessed  ProcessStatus = "PD"
	StatusError      ProcessStatus = "ER"
)

// Terminal reports whether the job has finished, successfully or not.
// A terminal status stops any polling loop watching the entity.
func (s ProcessStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusError
}

// SignalType classifies a signal's measurement kind.
type SignalType string

const (
	SignalECG        SignalType = "ECG"
	SignalPPG        SignalType = "PPG"
	SignalRRInterval SignalType = "RRI"
	SignalNNInterval SignalType = "NNI"
	SignalTags       SignalType = "TAG"
	SignalOther      SignalType = "OTH"
)

// IBI reports whether the signal holds inter-beat intervals.
func (t SignalType) IBI() bool {
	return t == SignalRRInterval || t == SignalNNInterval
}

// MethodType distinguishes filtering methods from analysis methods.
type MethodType string

const (
	MethodFilter   MethodType = "FL"
	MethodAnalysis MethodType = "AN"
)
