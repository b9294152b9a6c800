package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/daemon"
	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/retrieve"
	"github.com/vthunder/plexus/internal/state"
	"github.com/vthunder/plexus/internal/store"
	"github.com/vthunder/plexus/internal/types"
)

// openStore opens the on-disk graph for read commands
func openStore() (*store.Store, error) {
	return store.Open(stateRoot())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show memory status for this project",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			paths := st.Paths()
			cfg, _ := config.Load(paths.Config())
			stats := st.Stats()

			weak := 0
			for _, id := range st.BridgeIDs() {
				if b, err := st.GetBridge(id); err == nil && b.Status == types.BridgeWeak {
					weak++
				}
			}

			fmt.Println(tr("status.header", paths.Root))
			fmt.Println(tr("status.threads", stats.Active, stats.Suspended, stats.Archived))
			fmt.Println(tr("status.bridges", stats.Bridges, weak))
			fmt.Println(tr("status.mode", cfg.Settings.ThreadMode, cfg.Quota()))

			if hb, err := state.OpenHeartbeat(paths.Heartbeat()); err == nil {
				h := hb.Get()
				fmt.Println(tr("status.heartbeat", h.Beat, retrieve.HumanizeDelta(time.Since(h.LastInteractionAt))))
			}
			if pid := daemon.Running(paths.PIDFile(), paths.Socket()); pid > 0 {
				fmt.Println(tr("status.daemon.up", pid))
			} else {
				fmt.Println(tr("status.daemon.down"))
			}
			return nil
		},
	}
}

func newThreadsCmd() *cobra.Command {
	var (
		status     string
		limit      int
		prune      bool
		showWeight bool
	)
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List threads",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}

			statuses := []types.ThreadStatus{types.ThreadActive, types.ThreadSuspended}
			if status != "" {
				statuses = []types.ThreadStatus{types.ThreadStatus(status)}
			}
			threads := st.ThreadsByStatus(statuses...)
			sort.Slice(threads, func(i, j int) bool { return threads[i].Weight > threads[j].Weight })

			if prune {
				pruned := 0
				for _, t := range threads {
					if t.Status == types.ThreadSuspended && t.Weight < types.BridgeDeathThreshold && !t.IsPinned() {
						if err := st.ArchiveThread(t); err == nil {
							pruned++
						}
					}
				}
				fmt.Println(tr("threads.pruned", pruned))
				return nil
			}

			if len(threads) == 0 {
				fmt.Println(tr("threads.empty"))
				return nil
			}
			if limit > 0 && len(threads) > limit {
				threads = threads[:limit]
			}
			fmt.Println(tr("threads.header", len(threads)))
			for _, t := range threads {
				line := fmt.Sprintf("  %s  %-8s %s", t.ID, t.Status, t.Title)
				if showWeight {
					line += fmt.Sprintf("  (%.2f)", t.Weight)
				}
				if t.IsPinned() {
					line += "  [pinned]"
				}
				if t.SplitLocked {
					line += "  [locked]"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter: active, suspended, archived")
	cmd.Flags().IntVar(&limit, "limit", 0, "max threads to show")
	cmd.Flags().BoolVar(&prune, "prune", false, "archive dead suspended threads")
	cmd.Flags().BoolVar(&showWeight, "show-weight", false, "show thread weights")
	return cmd
}

func newThreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thread <id>",
		Short: "Show one thread in detail",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			t, err := st.GetThread(args[0])
			if err != nil {
				fmt.Println(tr("thread.notfound", args[0]))
				return err
			}
			fmt.Printf("%s  %s\n", t.ID, t.Title)
			fmt.Println(tr("thread.status", t.Status))
			fmt.Println(tr("thread.weight", t.Weight))
			if len(t.Topics) > 0 {
				fmt.Println(tr("thread.topics", strings.Join(t.Topics, ", ")))
			}
			fmt.Println(tr("thread.messages", len(t.Messages)))
			if t.Summary != "" {
				fmt.Println(logging.Truncate(t.Summary, 400))
			}
			for _, b := range st.BridgesFor(t.ID) {
				other := b.Other(t.ID)
				fmt.Printf("  ~ %s %s (%.2f)\n", b.RelationType, other, b.Weight)
			}
			return nil
		},
	}
}

func newBridgesCmd() *cobra.Command {
	var (
		threadID   string
		prune      bool
		showWeight bool
	)
	cmd := &cobra.Command{
		Use:   "bridges",
		Short: "List bridges",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}

			var bridges []*types.ThinkBridge
			if threadID != "" {
				bridges = st.BridgesFor(threadID)
			} else {
				for _, id := range st.BridgeIDs() {
					if b, err := st.GetBridge(id); err == nil {
						bridges = append(bridges, b)
					}
				}
			}
			sort.Slice(bridges, func(i, j int) bool { return bridges[i].Weight > bridges[j].Weight })

			if prune {
				pruned := 0
				for _, b := range bridges {
					if b.Dead() {
						if err := st.DeleteBridge(b.ID); err == nil {
							pruned++
						}
					}
				}
				fmt.Println(tr("bridges.pruned", pruned))
				return nil
			}

			if len(bridges) == 0 {
				fmt.Println(tr("bridges.empty"))
				return nil
			}
			fmt.Println(tr("bridges.header", len(bridges)))
			for _, b := range bridges {
				line := fmt.Sprintf("  %s  %s -[%s]-> %s", b.ID, b.SourceID, b.RelationType, b.TargetID)
				if showWeight {
					line += fmt.Sprintf("  (%.2f)", b.Weight)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "only bridges touching this thread")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete dead bridges")
	cmd.Flags().BoolVar(&showWeight, "show-weight", false, "show bridge weights")
	return cmd
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Rank threads against a query",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			cfg, _ := config.Load(st.Paths().Config())
			ranker := retrieve.NewRanker(st, embedding.New(cfg.LLM.EmbeddingURL, cfg.LLM.EmbeddingModel, 0))
			scored := ranker.Rank(args[0], nil, true, retrieve.DefaultLimit, 0.05)
			if len(scored) == 0 {
				fmt.Println(tr("search.empty", args[0]))
				return nil
			}
			fmt.Println(tr("search.header", args[0]))
			for _, s := range scored {
				fmt.Printf("  %.2f  %s  %s (%s)\n", s.Priority, s.Thread.ID, s.Thread.Title, s.Thread.Status)
			}
			return nil
		},
	}
}

func newHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Show the maintenance heartbeat",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			hb, err := state.OpenHeartbeat(st.Paths().Heartbeat())
			if err != nil {
				return err
			}
			h := hb.Get()
			fmt.Println(tr("heartbeat.line", h.Beat,
				h.StartedAt.Format(time.RFC3339), h.LastBeatAt.Format(time.RFC3339)))
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check store and daemon health",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			paths := st.Paths()
			stats := st.Stats()
			if stats.Corrupted > 0 {
				fmt.Println(tr("health.corrupt", stats.Corrupted))
			} else {
				fmt.Println(tr("health.ok"))
			}

			client := daemon.NewClient(paths.Socket(), daemon.CLITimeout)
			reply, err := client.Call(daemon.Request{Op: "suggestions"})
			if err != nil {
				fmt.Println(tr("status.daemon.down"))
				return nil
			}
			fmt.Println(string(reply.Result))
			return nil
		},
	}
}

func newReindexCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the store indexes from disk",
		Args:  maxArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			st, err := openStore()
			if err != nil {
				return err
			}
			if err := st.Reindex(); err != nil {
				return err
			}
			stats := st.Stats()
			if verbose {
				for _, id := range st.ThreadIDs(types.ThreadActive, types.ThreadSuspended) {
					fmt.Println("  " + id)
				}
			}
			fmt.Println(tr("reindex.done",
				stats.Active+stats.Suspended, stats.Bridges, time.Since(start).Round(time.Millisecond)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "list every indexed thread id")
	return cmd
}
