package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/devdash/pkg/client"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cmds := command{flags: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags),
		createScriptsCommand(cmds),
		createReposCommand(cmds),
		createEnvCommand(cmds),
		createStatusCommand(cmds),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "devdash",
		Short: "Local development dashboard backend",
		Long: `devdash serves the dashboard API for local repositories and runs their
scripts as supervised processes. The other commands talk to a running server.

Examples:
  devdash serve --config=devdash.toml
  devdash scripts list --repository=1
  devdash scripts run <id> --args="--port 4000"
  devdash status --api=http://localhost:3001`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api", client.DefaultBaseURL, "devdash server URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for an https server (e.g. the generated tls.crt)")
	root.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	return root
}
