// ai is the CLI for the plexus memory daemon: inspect the thread graph,
// search it, and manage the background process. Read commands work
// straight off the on-disk store; mutating commands go through the
// daemon socket.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/i18n"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

const version = "0.3.0"

var (
	flagDir  string
	flagLang string
)

// usageError maps to exit code 2
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }

// exactArgs is cobra.ExactArgs with usage-error classification
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{fmt.Errorf("%s expects %d argument(s), got %d", cmd.Name(), n, len(args))}
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usageError{fmt.Errorf("%s takes at most %d argument(s)", cmd.Name(), n)}
		}
		return nil
	}
}

// stateRoot resolves the project state directory
func stateRoot() string {
	dir := flagDir
	if dir == "" {
		dir = "."
	}
	if filepath.Base(dir) == ".ai" {
		return dir
	}
	return store.DefaultRoot(dir)
}

// lang resolves the UI language: flag > PROJECT_LANG > config > en
func lang() string {
	if flagLang != "" {
		return flagLang
	}
	cfg, err := config.Load(store.Paths{Root: stateRoot()}.Config())
	if err != nil {
		return "en"
	}
	return cfg.Language
}

// tr translates a key in the resolved language
func tr(key string, args ...any) string {
	return i18n.T(lang(), key, args...)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ai",
		Short:         "Persistent working memory for coding agents",
		Long:          "ai manages a per-project memory graph: threads of related work,\nweighted bridges between them, and the daemon that keeps both alive\nacross sessions.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDir, "dir", "", "project directory (default: current)")
	root.PersistentFlags().StringVar(&flagLang, "lang", "", "UI language: en, fr, es")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	root.AddCommand(
		newStatusCmd(),
		newThreadsCmd(),
		newThreadCmd(),
		newBridgesCmd(),
		newSearchCmd(),
		newRecallCmd(),
		newHeartbeatCmd(),
		newHealthCmd(),
		newReindexCmd(),
		newDaemonCmd(),
		newModeCmd(),
		newHookCmd(),
		newMCPCmd(),
	)
	return root
}

func main() {
	// .env in the project dir may carry PROJECT_LANG or model settings
	godotenv.Load(".env")

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, tr("err.generic", ue.Error()))
			os.Exit(2)
		}
		var oe *types.OpError
		if errors.As(err, &oe) && oe.Kind == types.KindTransient {
			fmt.Fprintln(os.Stderr, tr("err.daemon.unreachable"))
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, tr("err.generic", err.Error()))
		os.Exit(1)
	}
}
