// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesWithFlags(t *testing.T) {
	var host string
	var received []string
	root := &Command{
		Name: "easel",
		Subcommands: []*Command{
			{
				Name: "join",
				Flags: func() *pflag.FlagSet {
					flags := pflag.NewFlagSet("join", pflag.ContinueOnError)
					flags.StringVar(&host, "host", "", "host to join")
					return flags
				},
				Run: func(_ context.Context, args []string) error {
					received = args
					return nil
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"join", "--host", "alice", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if host != "alice" || len(received) != 1 || received[0] != "extra" {
		t.Errorf("host=%q args=%v", host, received)
	}
}

func TestCommand_Execute_Suggestions(t *testing.T) {
	root := &Command{
		Name: "easel",
		Subcommands: []*Command{
			{
				Name: "lookup",
				Flags: func() *pflag.FlagSet {
					flags := pflag.NewFlagSet("lookup", pflag.ContinueOnError)
					flags.String("discovery", "", "directory address")
					return flags
				},
				Run: func(context.Context, []string) error { return nil },
			},
		},
	}

	err := root.Execute(context.Background(), []string{"lokup"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "lookup"`) {
		t.Errorf("typo in command: %v", err)
	}
	err = root.Execute(context.Background(), []string{"lookup", "--discovry=x"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --discovery") {
		t.Errorf("typo in flag: %v", err)
	}
	if err := root.Execute(context.Background(), nil); err == nil {
		t.Error("missing subcommand accepted")
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	root := &Command{
		Name:        "easel",
		Description: "Shared whiteboard.",
		Subcommands: []*Command{{Name: "host", Summary: "Host a canvas"}},
		Examples:    []Example{{Description: "Host as alice", Command: "easel host --id alice"}},
	}
	var output bytes.Buffer
	root.PrintHelp(&output)
	for _, want := range []string{"Shared whiteboard.", "easel <command> [flags]", "host", "Host a canvas", "# Host as alice"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("help missing %q:\n%s", want, output.String())
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "host", 4},
		{"join", "join", 0},
		{"jion", "join", 2},
		{"credential", "credentials", 1},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
