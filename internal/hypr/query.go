package hypr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Version identifies the running compositor build.
type Version struct {
	Tag    string `json:"tag"`
	Commit string `json:"commit"`
}

// QueryVersion asks the running compositor for its version. It fails when
// Hyprland is not reachable, which doctor reports for the hypr backend.
func QueryVersion(ctx context.Context) (Version, error) {
	output, err := runHyprctlJSON(ctx, "version")
	if err != nil {
		return Version{}, err
	}

	var version Version
	if err := json.Unmarshal(output, &version); err != nil {
		return Version{}, fmt.Errorf("decode hyprctl version json: %w", err)
	}
	version.Tag = strings.TrimSpace(version.Tag)
	version.Commit = strings.TrimSpace(version.Commit)
	if version.Tag == "" && version.Commit == "" {
		return Version{}, fmt.Errorf("hyprctl version returned no tag or commit")
	}
	return version, nil
}

// String renders the tag, or the short commit when untagged.
func (v Version) String() string {
	if v.Tag != "" {
		return v.Tag
	}
	if len(v.Commit) > 7 {
		return v.Commit[:7]
	}
	return v.Commit
}

// runHyprctlJSON executes a JSON-returning hyprctl subcommand.
func runHyprctlJSON(ctx context.Context, target string) ([]byte, error) {
	output, err := runHyprctlOutput(ctx, "-j", target)
	if err != nil {
		return nil, err
	}
	return output, nil
}
