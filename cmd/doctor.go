package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawtalk/internal/config"
	"github.com/nextlevelbuilder/clawtalk/internal/openclaw"
	"github.com/nextlevelbuilder/clawtalk/internal/talks"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, Talk storage, and host config health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("clawtalk doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Talk storage
	fmt.Println()
	fmt.Println("  Talks:")
	fmt.Printf("    %-12s %s\n", "Data dir:", cfg.DataDir)
	store, err := talks.NewStore(cfg.DataDir)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
		return
	}
	all := store.List()
	var bindings, jobs int
	for _, t := range all {
		bindings += len(t.PlatformBindings)
		jobs += len(t.Jobs)
	}
	fmt.Printf("    %-12s %d\n", "Talks:", len(all))
	fmt.Printf("    %-12s %d\n", "Bindings:", bindings)
	fmt.Printf("    %-12s %d\n", "Jobs:", jobs)

	// Host config + ownership
	fmt.Println()
	fmt.Println("  Host:")
	fmt.Printf("    %-12s %s\n", "Base URL:", cfg.Host.BaseURL)
	fmt.Printf("    %-12s %s", "Config:", cfg.Host.ConfigPath)
	hostCfg, err := openclaw.LoadHostConfig(cfg.Host.ConfigPath)
	if err != nil {
		fmt.Printf(" (UNREADABLE: %s)\n", err)
		return
	}
	fmt.Println(" (OK)")
	fmt.Printf("    %-12s %d\n", "Bindings:", len(hostCfg.Bindings))
	fmt.Printf("    %-12s %d\n", "Agents:", len(hostCfg.Agents.List))
	fmt.Printf("    %-12s %d\n", "Accounts:", len(hostCfg.Channels.Slack.Accounts))

	conflicts := openclaw.FindConflicts(all, hostCfg, nil)
	if len(conflicts) == 0 {
		fmt.Printf("    %-12s none\n", "Conflicts:")
		return
	}
	fmt.Printf("    %-12s %d\n", "Conflicts:", len(conflicts))
	for _, c := range conflicts {
		fmt.Printf("      - talk %s and agent %q both claim %s (account %s)\n",
			c.TalkID, c.OpenClawAgentID, c.OpenClawScope, c.OpenClawAccountID)
	}
}
