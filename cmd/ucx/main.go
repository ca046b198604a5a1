package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ucx/internal/bootstrap"
	"ucx/internal/modules/extension/dto"
	"ucx/internal/platform/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:           "ucx",
		Short:         "Peer-to-peer extension discovery and command execution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data", ".", "data directory")

	root.AddCommand(newDaemonCmd(&dataDir))
	root.AddCommand(newOffersCmd(&dataDir))
	root.AddCommand(newInstallCmd(&dataDir))
	root.AddCommand(newUninstallCmd(&dataDir))
	root.AddCommand(newDismissCmd(&dataDir))
	root.AddCommand(newEnableCmd(&dataDir, true))
	root.AddCommand(newEnableCmd(&dataDir, false))
	root.AddCommand(newListCmd(&dataDir))
	root.AddCommand(newExecCmd(&dataDir))
	root.AddCommand(newPublishCmd(&dataDir))
	return root
}

func loadApp(dataDir string) (*bootstrap.App, error) {
	cfg, err := config.New(dataDir)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(cfg)
}

func newDaemonCmd(dataDir *string) *cobra.Command {
	daemon := &cobra.Command{Use: "daemon", Short: "Node lifecycle"}

	daemon.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the node in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.ExtensionCLI.RunNode(ctx)
		},
	})
	return daemon
}

func newOffersCmd(dataDir *string) *cobra.Command {
	var window time.Duration

	offers := &cobra.Command{
		Use:   "offers",
		Short: "Scan the network and list discovered extension offers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			if window <= 0 {
				window = app.ScanWindow
			}
			ctx := cmd.Context()
			if err := app.ExtensionCLI.ScanFor(ctx, window); err != nil {
				return err
			}
			found, err := app.ExtensionCLI.Offers(ctx)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no offers")
				return nil
			}
			for _, offer := range found {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tpeers=%d\tlast-seen=%s\n",
					offer.ID, offer.Version, offer.Name, len(offer.PeerIDs),
					offer.LastSeenAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	offers.Flags().DurationVar(&window, "window", 0, "discovery window (default from config)")
	return offers
}

func newInstallCmd(dataDir *string) *cobra.Command {
	var window time.Duration

	install := &cobra.Command{
		Use:   "install <extension-id>",
		Short: "Install an offered extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			if window <= 0 {
				window = app.ScanWindow
			}
			return app.ExtensionCLI.WithNode(cmd.Context(), window, func(ctx context.Context) error {
				ins, err := app.ExtensionCLI.Install(ctx, args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "installed %s %s (%d commands, %d peers)\n",
					ins.ID, ins.Version, len(ins.Commands), len(ins.PeerIDs))
				return nil
			})
		},
	}
	install.Flags().DurationVar(&window, "window", 0, "discovery window (default from config)")
	return install
}

func newUninstallCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <extension-id>",
		Short: "Uninstall an installed extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			if err := app.ExtensionCLI.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newDismissCmd(dataDir *string) *cobra.Command {
	var window time.Duration

	dismiss := &cobra.Command{
		Use:   "dismiss <extension-id>",
		Short: "Dismiss an offer without installing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			if window <= 0 {
				window = app.ScanWindow
			}
			return app.ExtensionCLI.WithNode(cmd.Context(), window, func(ctx context.Context) error {
				if err := app.ExtensionCLI.Dismiss(ctx, args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dismissed %s\n", args[0])
				return nil
			})
		},
	}
	dismiss.Flags().DurationVar(&window, "window", 0, "discovery window (default from config)")
	return dismiss
}

func newEnableCmd(dataDir *string, enabled bool) *cobra.Command {
	use, short := "enable", "Mark an installed extension as enabled"
	if !enabled {
		use, short = "disable", "Mark an installed extension as disabled"
	}
	return &cobra.Command{
		Use:   use + " <extension-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			if err := app.ExtensionCLI.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", use, args[0])
			return nil
		},
	}
}

func newListCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed extensions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			installed, err := app.ExtensionCLI.Installed(cmd.Context())
			if err != nil {
				return err
			}
			if len(installed) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no installed extensions")
				return nil
			}
			for _, ins := range installed {
				state := "enabled"
				if !ins.Enabled {
					state = "disabled"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\tpeers=%d\n",
					ins.ID, ins.Version, ins.Name, state, len(ins.PeerIDs))
				for _, spec := range ins.Commands {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\n", spec.Syntax, spec.Description)
				}
			}
			return nil
		},
	}
}

func newExecCmd(dataDir *string) *cobra.Command {
	var window time.Duration

	exec := &cobra.Command{
		Use:   "exec \"/<extension>-<command> [args...]\"",
		Short: "Execute an extension command against its peers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			if window <= 0 {
				window = app.ScanWindow
			}
			line := strings.Join(args, " ")
			return app.ExtensionCLI.WithNode(cmd.Context(), window, func(ctx context.Context) error {
				out, err := app.ExtensionCLI.ExecuteLine(ctx, line)
				if err != nil {
					return err
				}
				printExecuteOutput(cmd, out)
				return nil
			})
		},
	}
	exec.Flags().DurationVar(&window, "window", 0, "discovery window before executing")
	return exec
}

func printExecuteOutput(cmd *cobra.Command, out dto.ExecuteOutput) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s-%s served by %s\n", out.ExtensionID, out.Command, out.PeerID)
	if out.Data != "" {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Data)
	}
}

func newPublishCmd(dataDir *string) *cobra.Command {
	publish := &cobra.Command{Use: "publish", Short: "Published extension commands"}

	publish.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List extensions this node publishes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			return app.ExtensionCLI.WithNode(cmd.Context(), 0, func(ctx context.Context) error {
				records, err := app.ExtensionCLI.PublishedList(ctx)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no published extensions")
					return nil
				}
				for _, record := range records {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tcommands=%d\tbinary=%s\n",
						record.ID, record.Version, record.Name, record.Commands, record.Binary)
				}
				return nil
			})
		},
	})

	publish.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show node status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*dataDir)
			if err != nil {
				return err
			}
			return app.ExtensionCLI.WithNode(cmd.Context(), 0, func(ctx context.Context) error {
				status, err := app.ExtensionCLI.Status(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "peer %s\n", status.PeerID)
				for _, addr := range status.ListenAddrs {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listen %s\n", addr)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "offers=%d installed=%d published=%d\n",
					status.Offers, status.Installed, status.Published)
				return nil
			})
		},
	})
	return publish
}
