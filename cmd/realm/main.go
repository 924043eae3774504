package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	gin.SetMode(gin.ReleaseMode)
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and every subcommand.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	realmCommand := command{out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createStartCommand(realmCommand, globalFlags),
		createProxyCommand(realmCommand, globalFlags),
		createRoutesCommand(realmCommand, globalFlags),
		createCheckCommand(realmCommand, globalFlags),
		createInitCommand(realmCommand, globalFlags),
		createPsCommand(realmCommand, globalFlags),
		createRestartCommand(realmCommand, globalFlags),
		createStopCommand(realmCommand, globalFlags),
		createHistoryCommand(realmCommand, globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "realm",
		Short: "Run a project's dev processes behind one proxy port",
		Long: `Realm starts every process listed in realm.yml and serves them behind a
single HTTP port, routing each request by path to the process that owns it.

Examples:
  realm init --with web,api     # write a starter realm.yml
  realm start                   # start processes and the proxy
  realm start --watch           # also reload on realm.yml changes
  realm routes                  # print the route table
  realm ps                      # list processes via the admin API`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "realm.yml", "path to config file (yaml, toml or json)")
	return root
}

func createStartCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start all processes and serve the proxy",
		Long: `Start every configured process, then serve the proxy until interrupted.
On SIGINT or SIGTERM every process is stopped before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.Start(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVarP(&f.Watch, "watch", "w", false, "reload processes and routes when the config file changes")
	return cmd
}

func createProxyCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &StartFlags{ProxyOnly: true}
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the proxy without starting processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.Start(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVarP(&f.Watch, "watch", "w", false, "reload routes when the config file changes")
	return cmd
}

func createRoutesCommand(c command, g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the route table built from the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Routes(g.ConfigPath)
		},
	}
}

func createCheckCommand(c command, g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Check(g.ConfigPath)
		},
	}
}

func createInitCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &InitFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a starter realm.yml with one process per template type.

Template types: web (frontend), api (backend), docs, worker, simple.

Examples:
  realm init
  realm init --with web,api,docs --proxy-port 9000
  realm init -c dev/realm.yml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.Init(*f)
		},
	}
	cmd.Flags().StringSliceVar(&f.With, "with", []string{"web", "api"}, "template types to include")
	cmd.Flags().IntVar(&f.ProxyPort, "proxy-port", 0, "proxy port (default 8000)")
	cmd.Flags().BoolVarP(&f.Force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "admin API URL (default from admin.listen in the config)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createPsCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List processes of a running realm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.Ps(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createRestartCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "restart NAME",
		Short: "Restart one process of a running realm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.Restart(cmd.Context(), *f, args[0])
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStopCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop [NAME]",
		Short: "Stop one process, or every process, of a running realm",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.Stop(cmd.Context(), *f, name)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createHistoryCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent process lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.History(cmd.Context(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	cmd.Flags().StringVar(&f.Name, "name", "", "only events of this process")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of events")
	return cmd
}
