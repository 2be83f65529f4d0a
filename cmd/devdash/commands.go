package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/devdash/pkg/client"
	"github.com/loykin/devdash/pkg/template"
)

// command runs client subcommands against the server named by --api.
type command struct {
	flags *GlobalFlags
}

func (c command) client() *client.Client {
	return client.New(client.Config{
		BaseURL:  c.flags.APIUrl,
		Timeout:  c.flags.APITimeout,
		CACert:   c.flags.CACert,
		Insecure: c.flags.Insecure,
	})
}

func (c command) reachable(ctx context.Context, api *client.Client) error {
	if !api.IsReachable(ctx) {
		return fmt.Errorf("devdash server not reachable at %s", c.flags.APIUrl)
	}
	return nil
}

// ScriptsFlags holds flags for the scripts subcommands
type ScriptsFlags struct {
	RepositoryID string
	Page         int
	Limit        int
	Args         string
	Env          []string
	UseRepoEnv   bool
	PackageMgr   string
}

func createScriptsCommand(c command) *cobra.Command {
	flags := &ScriptsFlags{}
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "List, run and stop repository scripts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			api := c.client()
			scripts, page, err := api.ListScripts(cmd.Context(), flags.RepositoryID, flags.Page, flags.Limit)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), map[string]any{"scripts": scripts, "pagination": page})
			return nil
		},
	}
	list.Flags().StringVar(&flags.RepositoryID, "repository", "", "only scripts of this repository")
	list.Flags().IntVar(&flags.Page, "page", 0, "page number")
	list.Flags().IntVar(&flags.Limit, "limit", 0, "page size (1-100)")

	run := &cobra.Command{
		Use:   "run <id>",
		Short: "Execute a script",
		Long: `Execute a script. --env entries apply to this run only.

Examples:
  devdash scripts run 3f2a... --args="--port 4000"
  devdash scripts run 3f2a... --env=DEBUG=1 --use-repo-env`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envs, err := parseEnvFlags(flags.Env)
			if err != nil {
				return err
			}
			api := c.client()
			rec, err := api.ExecuteScript(cmd.Context(), args[0], client.ExecuteRequest{
				Arguments:        flags.Args,
				Environment:      envs,
				UseRepositoryEnv: flags.UseRepoEnv,
			})
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	run.Flags().StringVar(&flags.Args, "args", "", "extra arguments appended to the command")
	run.Flags().StringArrayVar(&flags.Env, "env", nil, "KEY=VALUE for this run (repeatable)")
	run.Flags().BoolVar(&flags.UseRepoEnv, "use-repo-env", false, "include the repository's stored variables")

	stop := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a running script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client().StopScript(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stopping %s\n", args[0])
			return nil
		},
	}

	output := &cobra.Command{
		Use:   "output <id>",
		Short: "Print the output of the current or last run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := c.client().ScriptOutput(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, l := range lines {
				_, _ = io.WriteString(w, l)
				if !strings.HasSuffix(l, "\n") {
					_, _ = io.WriteString(w, "\n")
				}
			}
			return nil
		},
	}

	running := &cobra.Command{
		Use:   "running",
		Short: "List running scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			scripts, err := c.client().RunningScripts(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), scripts)
			return nil
		},
	}

	tmpl := &cobra.Command{
		Use:   "template <vite|next|react|node|unknown>",
		Short: "Print starter scripts for a repository type",
		Long: `Print the usual scripts for a repository type. With --repository they
are created on the server instead.

Examples:
  devdash scripts template next --package-manager=pnpm
  devdash scripts template vite --repository=1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scripts, err := template.NewGenerator().Generate(template.RepoType(args[0]), flags.PackageMgr)
			if err != nil {
				return err
			}
			if flags.RepositoryID == "" {
				printJSON(cmd.OutOrStdout(), scripts)
				return nil
			}
			api := c.client()
			created := make([]client.Script, 0, len(scripts))
			for _, s := range scripts {
				rec, err := api.CreateScript(cmd.Context(), client.CreateScriptRequest{
					Name:         s.Name,
					Command:      s.Command,
					RepositoryID: flags.RepositoryID,
				})
				if err != nil {
					return fmt.Errorf("create %s: %w", s.Name, err)
				}
				created = append(created, rec)
			}
			printJSON(cmd.OutOrStdout(), created)
			return nil
		},
	}
	tmpl.Flags().StringVar(&flags.PackageMgr, "package-manager", "npm", "npm, pnpm, yarn or bun")
	tmpl.Flags().StringVar(&flags.RepositoryID, "repository", "", "create the scripts in this repository")

	cmd.AddCommand(list, run, stop, output, running, tmpl)
	return cmd
}

// ReposFlags holds flags for the repos list command
type ReposFlags struct {
	Search         string
	Type           string
	PackageManager string
	Page           int
	Limit          int
}

func createReposCommand(c command) *cobra.Command {
	flags := &ReposFlags{}
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Inspect registered repositories",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			repos, page, err := c.client().ListRepositories(cmd.Context(), client.RepositoryQuery{
				Search:         flags.Search,
				Type:           flags.Type,
				PackageManager: flags.PackageManager,
				Page:           flags.Page,
				Limit:          flags.Limit,
			})
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), map[string]any{"repositories": repos, "pagination": page})
			return nil
		},
	}
	list.Flags().StringVar(&flags.Search, "search", "", "substring of name or path")
	list.Flags().StringVar(&flags.Type, "type", "", "vite, next, react, node or unknown")
	list.Flags().StringVar(&flags.PackageManager, "package-manager", "", "npm, pnpm, yarn or bun")
	list.Flags().IntVar(&flags.Page, "page", 0, "page number")
	list.Flags().IntVar(&flags.Limit, "limit", 0, "page size (1-100)")
	cmd.AddCommand(list)
	return cmd
}

func createEnvCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Work with repository environment variables",
	}
	file := &cobra.Command{
		Use:   "file <repository-id>",
		Short: "Print the repository's variables as a .env file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := c.client().EnvFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
	cmd.AddCommand(file)
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health and resource usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			api := c.client()
			if err := c.reachable(cmd.Context(), api); err != nil {
				return err
			}
			st, err := api.SystemStatus(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

// parseEnvFlags turns repeated KEY=VALUE flags into a map.
func parseEnvFlags(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, found := strings.Cut(kv, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		out[k] = v
	}
	return out, nil
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
