// Package cli holds helpers shared by the bitactor command line tools.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	semver "github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/bitactor/internal/runtime/actor"
)

// Build information, overridden with -ldflags "-X".
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	CommitSHA = "unknown"
)

// VersionInfo contains version and build information.
type VersionInfo struct {
	Version         string `json:"version"`
	BuildDate       string `json:"build_date"`
	CommitSHA       string `json:"commit_sha"`
	GoVersion       string `json:"go_version"`
	Platform        string `json:"platform"`
	Arch            string `json:"arch"`
	BytecodeFormats string `json:"bytecode_formats"`
}

// GetVersionInfo returns structured version information. A Version that is
// not a semantic version is reported as 0.0.0-dev.
func GetVersionInfo() *VersionInfo {
	v := "0.0.0-dev"
	if sv, err := semver.NewVersion(Version); err == nil {
		v = sv.String()
	}
	return &VersionInfo{
		Version:         v,
		BuildDate:       BuildDate,
		CommitSHA:       CommitSHA,
		GoVersion:       runtime.Version(),
		Platform:        runtime.GOOS,
		Arch:            runtime.GOARCH,
		BytecodeFormats: actor.SupportedFormats,
	}
}

// PrintVersion writes version information as text or JSON.
func PrintVersion(w io.Writer, toolName string, jsonOutput bool) error {
	info := GetVersionInfo()
	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal version info: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "%s v%s\n", toolName, info.Version)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", info.CommitSHA)
	}
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s/%s\n", info.Platform, info.Arch)
	_, err := fmt.Fprintf(w, "Bytecode Formats: %s\n", info.BytecodeFormats)
	return err
}
