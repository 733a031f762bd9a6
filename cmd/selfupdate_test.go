package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewSelfUpdateCmd(t *testing.T) {
	selfUpdateCmd := newSelfUpdateCmd()

	if selfUpdateCmd.Use != "self-update" {
		t.Errorf("Expected Use to be 'self-update', got %s", selfUpdateCmd.Use)
	}
	if selfUpdateCmd.Short == "" || selfUpdateCmd.Long == "" {
		t.Error("Expected Short and Long descriptions to be set")
	}
	if selfUpdateCmd.RunE == nil {
		t.Error("Expected RunE function to be set")
	}
}

func TestRunSelfUpdate_DevelopmentBuilds(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()

	for _, version := range []string{"dev", ""} {
		rootCmd.Version = version

		err := runSelfUpdate(nil, nil)
		if err == nil {
			t.Fatalf("Expected an error for version %q", version)
		}
		if !strings.Contains(err.Error(), "cannot self-update a development version") {
			t.Errorf("Unexpected error for version %q: %v", version, err)
		}
	}
}

func TestSelfUpdateCommandHelp(t *testing.T) {
	selfUpdateCmd := newSelfUpdateCmd()
	var buf bytes.Buffer
	selfUpdateCmd.SetOut(&buf)
	selfUpdateCmd.SetErr(&buf)
	selfUpdateCmd.SetArgs([]string{"--help"})

	if err := selfUpdateCmd.Execute(); err != nil {
		t.Fatalf("Error executing self-update help: %v", err)
	}
	if output := buf.String(); !strings.Contains(output, "Checks for the latest release") {
		t.Errorf("Help output should contain long description. Got: %q", output)
	}
}

func TestGithubRepoSlug(t *testing.T) {
	if owner, repo, ok := strings.Cut(githubRepoSlug, "/"); !ok || owner == "" || repo == "" {
		t.Errorf("githubRepoSlug %q is not in owner/repo form", githubRepoSlug)
	}
}
