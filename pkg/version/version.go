package version

// Injected at build time with -ldflags "-X draftdesk/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info represents version information for a binary
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

func GetInfo() Info {
	return Info{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate}
}

// GetShortCommit returns the short git commit hash (first 7 characters)
func GetShortCommit() string {
	if len(GitCommit) >= 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// String renders "dev (unknown)" style banners for CLI output.
func String() string {
	return Version + " (" + GetShortCommit() + ")"
}
