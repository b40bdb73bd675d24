package domain

// LaunchPhase identifies the kind of work a progress event reports.
type LaunchPhase string

const (
	PhaseExtract  LaunchPhase = "extract"
	PhaseProgress LaunchPhase = "progress"
	PhaseCheck    LaunchPhase = "check"
	PhasePatch    LaunchPhase = "patch"
	PhaseSpeed    LaunchPhase = "speed"
)

// ProgressEvent is the normalized shape every installer signal is mapped to
// before it reaches the UI. Current/Total are only set for the counting
// phases, Rate only for speed samples. No coalescing happens here; the
// receiver owns throttling.
type ProgressEvent struct {
	Phase   LaunchPhase `json:"event"`
	Current int64       `json:"task,omitempty"`
	Total   int64       `json:"total,omitempty"`
	Rate    int64       `json:"speed,omitempty"` // bytes/s
}

// LogEvent carries one cleaned game/installer output line.
type LogEvent struct {
	Line string `json:"line"`
}

// CloseEvent reports the game process exit code.
type CloseEvent struct {
	Code int `json:"code"`
}

// ErrorEvent reports a terminal launch failure.
type ErrorEvent struct {
	Message string `json:"message"`
}

// StateEvent tells the UI whether a game process is live.
type StateEvent struct {
	Running bool `json:"running"`
}
