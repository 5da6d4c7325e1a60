package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawtalk/internal/config"
	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

func talksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "talks",
		Short: "Inspect Talks on disk",
	}
	cmd.AddCommand(talksListCmd())
	cmd.AddCommand(talksShowCmd())
	return cmd
}

func openStore() *talks.Store {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}
	store, err := talks.NewStore(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "talk store: %s\n", err)
		os.Exit(1)
	}
	return store
}

func talksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List Talks, most recently updated first",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tVERSION\tBINDINGS\tJOBS\tUPDATED")
			for _, t := range openStore().List() {
				title := t.TopicTitle
				if title == "" {
					title = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					t.ID, title, t.TalkVersion,
					len(t.PlatformBindings), len(t.Jobs),
					time.UnixMilli(t.UpdatedAt).Format(time.RFC3339))
			}
			w.Flush()
		},
	}
}

func talksShowCmd() *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "show <talk-id>",
		Short: "Show one Talk with recent messages and job reports",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := openStore()
			t, err := store.Get(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s\n", err)
				os.Exit(1)
			}

			fmt.Printf("Talk %s (v%d)\n", t.ID, t.TalkVersion)
			if t.TopicTitle != "" {
				fmt.Printf("  Title:      %s\n", t.TopicTitle)
			}
			if t.Objective != "" {
				fmt.Printf("  Objective:  %s\n", t.Objective)
			}
			fmt.Printf("  Agent:      %s\n", openclaw.ManagedAgentID(t.ID))
			fmt.Printf("  Mode:       %s\n", t.ExecutionMode)
			for _, b := range t.PlatformBindings {
				fmt.Printf("  Binding:    %s %s (%s, account %s)\n",
					b.Platform, b.Scope, b.Permission, b.AccountID)
			}
			for _, j := range t.Jobs {
				fmt.Printf("  Job:        %s [%s] schedule=%q active=%t status=%s\n",
					j.ID, j.Type, j.Schedule, j.Active, j.LastStatus)
			}

			msgs, err := store.GetRecentMessages(t.ID, recent)
			if err == nil && len(msgs) > 0 {
				fmt.Printf("\nRecent messages (%d):\n", len(msgs))
				for _, m := range msgs {
					fmt.Printf("  [%s] %s: %s\n",
						time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04"),
						m.Role, m.Content)
				}
			}

			reports, err := store.GetRecentReports(t.ID, 0, "")
			if err == nil && len(reports) > 0 {
				if len(reports) > recent {
					reports = reports[len(reports)-recent:]
				}
				fmt.Printf("\nRecent job reports (%d):\n", len(reports))
				for _, r := range reports {
					fmt.Printf("  [%s] %s: %s\n",
						time.UnixMilli(r.RunAt).Format("2006-01-02 15:04"),
						r.JobID, r.Status)
				}
			}
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "how many recent messages and reports to print")
	return cmd
}
