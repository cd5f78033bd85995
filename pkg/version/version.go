package version

// Version is overridden at build time with -ldflags "-X github.com/docker/sidekick/pkg/version.Version=...".
var Version = "dev"

// Commit is the git commit the binary was built from.
var Commit = "unknown"
