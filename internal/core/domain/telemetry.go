package domain

// UnitStatus represents the lifecycle state of a compilation unit during a build.
type UnitStatus string

const (
	// UnitStatusPending indicates the unit is waiting for dependencies or scheduling.
	UnitStatusPending UnitStatus = "pending"
	// UnitStatusRunning indicates the unit is currently compiling.
	UnitStatusRunning UnitStatus = "running"
	// UnitStatusCompleted indicates the unit compiled successfully.
	UnitStatusCompleted UnitStatus = "completed"
	// UnitStatusFailed indicates the compiler reported an error.
	UnitStatusFailed UnitStatus = "failed"
	// UnitStatusCached indicates the unit was up to date and not recompiled.
	UnitStatusCached UnitStatus = "cached"
	// UnitStatusSkipped indicates a dependency failed so the unit never started.
	UnitStatusSkipped UnitStatus = "skipped"
	// UnitStatusCanceled indicates the build was aborted before the unit started.
	UnitStatusCanceled UnitStatus = "canceled"
)

// IsTerminal reports whether no further transition can happen.
func (s UnitStatus) IsTerminal() bool {
	switch s {
	case UnitStatusCompleted, UnitStatusFailed, UnitStatusCached, UnitStatusSkipped, UnitStatusCanceled:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether dependents may start.
func (s UnitStatus) IsSuccessful() bool {
	return s == UnitStatusCompleted || s == UnitStatusCached
}

// LogLevel represents the severity of a log message, mirroring the standard slog levels.
type LogLevel int

const (
	// LogLevelDebug represents debug-level verbosity.
	LogLevelDebug LogLevel = -4
	// LogLevelInfo represents informational verbosity.
	LogLevelInfo LogLevel = 0
	// LogLevelWarn represents warning verbosity.
	LogLevelWarn LogLevel = 4
	// LogLevelError represents error verbosity.
	LogLevelError LogLevel = 8
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
