package version

// Version can be overridden at build time via ldflags:
// go build -ldflags="-X github.com/itsneelabh/agenttrace/internal/version.Version=vX.Y.Z"
var Version = "development"

// GitCommit is set during build time
var GitCommit = "unknown"

// Get returns the current version
func Get() string {
	if Version == "" {
		return "dev"
	}
	return Version
}
