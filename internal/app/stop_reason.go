package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown     StopReason = "unknown"
	StopSignal      StopReason = "signal"
	StopRunComplete StopReason = "run_complete"
	StopFatalError  StopReason = "fatal_error"
)
