package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the version line printed by the version command.
func String() string {
	return "sitepipe " + Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
