package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the command tree. Every command shares one session that is
// opened before it runs and closed afterwards.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	s := &session{flags: globalFlags}
	cmd := &command{s: s}

	root := createRootCommand(globalFlags, s)
	root.AddCommand(
		createServerCommand(cmd),
		createServeCommand(s, &ServeFlags{}),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags, s *session) *cobra.Command {
	root := &cobra.Command{
		Use:   "xchainctl",
		Short: "Supervise the nodes of a local sidechain network",
		Long: `xchainctl starts, stops, restarts and inspects the chain and witness
node processes of a local sidechain network. Nodes are tracked in a
registry under the home directory so separate invocations share state.

Examples:
  xchainctl server list
  xchainctl server print --name=main_chain
  xchainctl server request --name=main_chain ping
  xchainctl serve                                            # HTTP API
  xchainctl server list --api-url=http://remote:8080/api     # remote fleet`,
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return s.open(c)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return s.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&flags.Home, "home", "", "directory holding the registry and node output (overrides config)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.LogFormat, "log-format", "", "log format: text, json, color")
	pf.StringVar(&flags.APIUrl, "api-url", "", "talk to a running 'xchainctl serve' instead of the local registry")
	pf.DurationVar(&flags.APITimeout, "api-timeout", defaultAPITimeout, "timeout for API calls")
	pf.BoolVar(&flags.APIInsecure, "api-insecure", false, "skip TLS verification of the API server")
	return root
}

func createServerCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage chain and witness nodes",
	}
	cmd.AddCommand(
		createListCommand(c, &ListFlags{}),
		createPrintCommand(c, &PrintFlags{}),
		createStartCommand(c, &StartFlags{}),
		createStopCommand(c, &StopFlags{}),
		createRestartCommand(c, &RestartFlags{}),
		createRequestCommand(c, &RequestFlags{}),
		createPruneCommand(c),
	)
	return cmd
}

func createListCommand(c *command, f *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List running chain and witness nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.List(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "only list this kind: chain or witness")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON instead of tables")
	return cmd
}

func createPrintCommand(c *command, f *PrintFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the captured output of a node",
		Long: `Print the captured stdout/stderr of a node.

With --debug-log the node's own debug log is printed instead; it is read from
$XCHAIN_CONFIG_DIR/<name>/debug.log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Print(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "node name")
	cmd.Flags().IntVar(&f.Tail, "tail", 0, "only print the last N lines")
	cmd.Flags().BoolVar(&f.DebugLog, "debug-log", false, "print the node's debug log")
	mustRequire(cmd, "name")
	return cmd
}

func createStartCommand(c *command, f *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a node and register it",
		Long: `Start a node as "<exe> --conf <conf>" and record it in the registry.

Examples:
  xchainctl server start --name=main_chain --kind=chain --exe=./node --conf=main.toml \
      --ws-ip=127.0.0.1 --ws-port=6011 --http-ip=127.0.0.1 --http-port=5011
  xchainctl server start --name=witness0 --kind=witness --exe=./witness --conf=w0.toml \
      --ip=127.0.0.1 --rpc-port=6010`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Start(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Name, "name", "", "node name")
	fl.StringVar(&f.Kind, "kind", "chain", "node kind: chain or witness")
	fl.StringVar(&f.Exe, "exe", "", "node executable")
	fl.StringVar(&f.Conf, "conf", "", "node configuration file passed as --conf")
	fl.StringVar(&f.WSIP, "ws-ip", "127.0.0.1", "chain websocket admin address")
	fl.IntVar(&f.WSPort, "ws-port", 0, "chain websocket admin port")
	fl.StringVar(&f.HTTPIP, "http-ip", "127.0.0.1", "chain http admin address")
	fl.IntVar(&f.HTTPPort, "http-port", 0, "chain http admin port")
	fl.StringVar(&f.IP, "ip", "127.0.0.1", "witness rpc address")
	fl.IntVar(&f.RPCPort, "rpc-port", 0, "witness rpc port")
	mustRequire(cmd, "name", "exe", "conf")
	return cmd
}

func createStopCommand(c *command, f *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a node, or every registered node with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Stop(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "node name")
	cmd.Flags().BoolVar(&f.All, "all", false, "stop every registered node")
	cmd.Flags().StringVar(&f.Signal, "signal", "INT", "signal to send: INT, TERM, KILL, HUP")
	cmd.MarkFlagsMutuallyExclusive("name", "all")
	cmd.MarkFlagsOneRequired("name", "all")
	return cmd
}

func createRestartCommand(c *command, f *RestartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a node in place, or every registered node with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Restart(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "node name")
	cmd.Flags().BoolVar(&f.All, "all", false, "restart every registered node")
	cmd.MarkFlagsMutuallyExclusive("name", "all")
	cmd.MarkFlagsOneRequired("name", "all")
	return cmd
}

func createRequestCommand(c *command, f *RequestFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request METHOD [PARAMS_JSON]",
		Short: "Send an admin RPC to a node and print its response",
		Long: `Send an admin RPC to a node and print the JSON response unchanged.

PARAMS_JSON is an object or an array of objects; it defaults to [{}].

Examples:
  xchainctl server request --name=main_chain ping
  xchainctl server request --name=main_chain server_info '{"verbose":true}'
  xchainctl server request --name=main_chain --ws ping`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Method = args[0]
			if len(args) > 1 {
				f.Params = args[1]
			}
			return c.Request(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "node name")
	cmd.Flags().BoolVar(&f.WS, "ws", false, "use the chain's websocket admin endpoint")
	mustRequire(cmd, "name")
	return cmd
}

func createPruneCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove registry entries whose process has terminated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Prune(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
