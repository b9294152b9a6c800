package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/daemon"
	"github.com/vthunder/plexus/internal/embedding"
	"github.com/vthunder/plexus/internal/retrieve"
)

func newRecallCmd() *cobra.Command {
	var (
		limit      int
		activeOnly bool
	)
	cmd := &cobra.Command{
		Use:   "recall <query>...",
		Short: "Search memory and reactivate matching dormant threads",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError{fmt.Errorf("recall expects a query")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			// The daemon path reactivates matches; without it, fall back
			// to an in-process recall over the same store.
			st, err := openStore()
			if err != nil {
				return err
			}
			paths := st.Paths()

			client := daemon.NewClient(paths.Socket(), daemon.CLITimeout)
			reply, err := client.Call(daemon.Request{
				Op:               "recall",
				Query:            query,
				IncludeSuspended: !activeOnly,
				Limit:            limit,
			})
			if err == nil && reply.Result != nil {
				var out struct {
					Block   string                 `json:"block"`
					Matches []retrieve.RecallMatch `json:"matches"`
				}
				if json.Unmarshal(reply.Result, &out) == nil {
					printRecall(out.Block, out.Matches, query)
					return nil
				}
			}

			cfg, _ := config.Load(paths.Config())
			ranker := retrieve.NewRanker(st, embedding.New(cfg.LLM.EmbeddingURL, cfg.LLM.EmbeddingModel, 0))
			block, matches, err := ranker.Recall(query, !activeOnly, limit)
			if err != nil {
				return err
			}
			printRecall(block, matches, query)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max threads to return")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "skip suspended threads")
	return cmd
}

func printRecall(block string, matches []retrieve.RecallMatch, query string) {
	if strings.TrimSpace(block) == "" {
		fmt.Println(tr("search.empty", query))
		return
	}
	fmt.Println(block)
	reactivated := 0
	for _, m := range matches {
		if m.Reactivated {
			reactivated++
		}
	}
	if reactivated > 0 {
		fmt.Println(tr("recall.reactivated", reactivated))
	}
}
