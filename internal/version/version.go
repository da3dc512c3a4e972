package version

// Overridden at build time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
)
