package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"serve", "sessions", "export", "version"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "roadwatch") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestExportFlags(t *testing.T) {
	if exportCmd.Flags().Lookup("format") == nil {
		t.Fatal("export command has no format flag")
	}
	if exportCmd.Flags().Lookup("output") == nil {
		t.Fatal("export command has no output flag")
	}
}
