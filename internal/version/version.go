// Package version holds build metadata for the ingest binaries.
//
// Set at link time:
//
//	go build -ldflags "-X github.com/rickgao/ohlcv-ingest/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/ohlcv-ingest/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/ohlcv-ingest/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/...
package version

import "log/slog"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// Attr returns the build metadata as a log attribute group.
func Attr() slog.Attr {
	return slog.Group("build",
		slog.String("version", Version),
		slog.String("commit", Commit),
		slog.String("time", BuildTime),
	)
}
