package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vthunder/plexus/internal/hooks"
	"github.com/vthunder/plexus/internal/mcp"
	"github.com/vthunder/plexus/internal/store"
)

// newHookCmd wires the host's hook system to the daemon. Hidden: these
// are invoked by hook configuration, not by people.
func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hook",
		Short:  "Hook shims invoked by the coding agent",
		Hidden: true,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:  "user-prompt",
			Args: maxArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				os.Exit(hooks.UserPrompt(stateRoot(), os.Stdin, os.Stdout))
				return nil
			},
		},
		&cobra.Command{
			Use:  "post-tool",
			Args: maxArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				os.Exit(hooks.PostTool(stateRoot(), os.Stdin))
				return nil
			},
		},
		&cobra.Command{
			Use:  "pre-compact",
			Args: maxArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				os.Exit(hooks.PreCompact(stateRoot(), os.Stdin, os.Stdout))
				return nil
			},
		},
	)
	return cmd
}

// newMCPCmd serves the memory tools over stdio MCP
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "mcp",
		Short:  "Serve memory tools over stdio MCP",
		Hidden: true,
		Args:   maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := store.Paths{Root: stateRoot()}
			if err := mcp.Serve(paths.Socket(), version); err != nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}
