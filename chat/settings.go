package chat

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	// TriggerFileName is the well-known file the agent writes inside the
	// project directory to signal a completed feature definition.
	TriggerFileName = ".new_feature.json"

	// SettingsFileName is the per-session agent settings artifact, recreated
	// on every session start.
	SettingsFileName = ".claude_feature_settings.json"

	// SkillFileName is the instruction document that drives the conversation
	SkillFileName = "create-feature.md"
)

// agentSettings mirrors the agent CLI's settings file schema, restricted to
// the scoped file permissions this session needs.
type agentSettings struct {
	Sandbox struct {
		Enabled bool `json:"enabled"`
	} `json:"sandbox"`
	Permissions struct {
		DefaultMode string   `json:"defaultMode"`
		Allow       []string `json:"allow"`
	} `json:"permissions"`
}

// writeSettingsFile writes the scoped permission settings into the project
// directory and returns the file's absolute path.
func writeSettingsFile(projectDir string) (string, error) {
	var settings agentSettings
	settings.Sandbox.Enabled = false
	settings.Permissions.DefaultMode = "acceptEdits"
	settings.Permissions.Allow = []string{
		"Read(./**)",
		"Write(./**)",
		"Edit(./**)",
		"Glob(./**)",
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(projectDir, SettingsFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}

	return filepath.Abs(path)
}

// triggerFilePath returns the trigger artifact path for a project directory
func triggerFilePath(projectDir string) string {
	return filepath.Join(projectDir, TriggerFileName)
}
