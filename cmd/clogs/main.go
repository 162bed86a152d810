package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/clogs/internal/auth"
	"github.com/loykin/clogs/pkg/template"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createAgentsCommand(),
		createLogsCommand(),
		createProcessorsCommand(),
		createHeartbeatCommand(),
		createHashTokenCommand(),
		createTemplateCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "clogs",
		Short: "Fleet telemetry collector",
		Long: `clogs collects heartbeats, container state and logs from host agents and
derives liveness, uptime sections and folded logs from them.

Examples:
  clogs serve config.toml                           # Start the collector
  clogs agents --api-url=http://collector:8080      # List registered agents
  clogs logs --container=c1 --level=error           # Newest error logs of c1
  clogs processors                                  # Processor loop states`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// addAPIFlags wires the flags every client command shares.
func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "collector URL including base path (default "+defaultAPIUrl+")")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for an https collector")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("CLOGS_API_TOKEN"), "bearer token (default $CLOGS_API_TOKEN)")
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the collector",
		Long: `Start the collector: HTTP API, processors and their interval loops.
Configuration comes from the TOML file and CLOGS_* environment overrides;
without a file the built-in defaults are used.

Examples:
  clogs serve                                 # Defaults plus CLOGS_* environment
  clogs serve config.toml                     # Start with specific config file
  clogs serve --daemonize --pidfile=clogs.pid --logfile=clogs.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(cmd.Context(), serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the collector PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")

	return cmd
}

func createAgentsCommand() *cobra.Command {
	f := &APIFlags{}
	var active bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Long: `List registered agents, or with --active the liveness verdict per agent.

Examples:
  clogs agents
  clogs agents --active --api-url=http://collector:8080/clogs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgents(cmd.Context(), cmd.OutOrStdout(), *f, active)
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().BoolVar(&active, "active", false, "show which agents are currently active")
	return cmd
}

func createLogsCommand() *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the newest collected logs",
		Long: `Show collected logs, newest first.

Examples:
  clogs logs --limit=20
  clogs logs --container=c1 --level=warning`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	cmd.Flags().StringVar(&f.ContainerID, "container", "", "only logs of this container")
	cmd.Flags().StringVar(&f.Level, "level", "", "only logs of this level")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum number of lines")
	return cmd
}

func createProcessorsCommand() *cobra.Command {
	f := &APIFlags{}
	var uptime bool
	cmd := &cobra.Command{
		Use:   "processors",
		Short: "Show processor loop states",
		Long: `Show every processor loop with its state, interval and last run.
With --uptime the uptime processor's per-container sections are shown instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessors(cmd.Context(), cmd.OutOrStdout(), *f, uptime)
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().BoolVar(&uptime, "uptime", false, "show container uptime instead")
	return cmd
}

func createHeartbeatCommand() *cobra.Command {
	f := &HeartbeatFlags{}
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Send one heartbeat for an agent",
		Long: `Send one heartbeat on behalf of an agent, e.g. from a cron job or to
check connectivity from a host.

Examples:
  clogs heartbeat --agent=host-1 --api-url=https://collector:8443 --ca-cert=tls_ca.crt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeartbeat(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent id (required)")
	if err := cmd.MarkFlagRequired("agent"); err != nil {
		panic(err)
	}
	return cmd
}

func createHashTokenCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash of an API token",
		Long: `Print the bcrypt hash of a token for [server.auth] agent_tokens or
reader_tokens, so the config file does not hold the token itself.

Examples:
  clogs hash-token "$(openssl rand -hex 24)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashToken(args[0], cost)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	return cmd
}

func createTemplateCommand() *cobra.Command {
	var name string
	gen := template.NewGenerator()
	cmd := &cobra.Command{
		Use:   "config-template [type]",
		Short: "Print a starter config file",
		Long: `Print a starter TOML config. Types: minimal, sqlite, postgres, production.

Examples:
  clogs config-template sqlite > clogs.toml
  clogs config-template production --name=fleet`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: gen.GetSupportedTypes(),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := template.TypeSQLite
			if len(args) > 0 {
				typ = template.TemplateType(args[0])
			}
			b, err := gen.GenerateTOML(typ, name)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "clogs", "name used for database, log and env file names")
	return cmd
}
