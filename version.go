package agenttrace

import (
	"github.com/itsneelabh/agenttrace/callbacks"
	"github.com/itsneelabh/agenttrace/internal/version"
)

// Version information for agenttrace
const (
	// APIVersion is the current API version of the ingestion envelope
	APIVersion = "v1"

	// InstrumentationName is the tracer and meter name used for emitted telemetry
	InstrumentationName = callbacks.InstrumentationName
)

// Version returns the build version, stamped via ldflags.
func Version() string {
	return version.Get()
}

// GitCommit returns the commit the binary was built from.
func GitCommit() string {
	return version.GitCommit
}
