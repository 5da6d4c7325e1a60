package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawtalk/internal/config"
	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Materialize Talk bindings into the host config",
		Run: func(cmd *cobra.Command, args []string) {
			runReconcile()
		},
	}
}

func runReconcile() {
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

	res, err := openclaw.Reconcile(store, cfg.Host.ConfigPath, cfg.Host.DefaultModel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %s\n", err)
		os.Exit(1)
	}
	if !res.Written {
		fmt.Println("host config already up to date")
		return
	}
	fmt.Printf("host config updated: %d managed bindings, %d managed agents, %d retained, %d dropped\n",
		res.DesiredRows, res.ManagedAgents, res.RetainedRows, res.DroppedRows)
}
