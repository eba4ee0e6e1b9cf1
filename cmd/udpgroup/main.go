// Package main provides the CLI entry point for udpgroup.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/udpgroup/internal/config"
	"github.com/postalsys/udpgroup/internal/control"
	"github.com/postalsys/udpgroup/internal/group"
	"github.com/postalsys/udpgroup/internal/health"
	"github.com/postalsys/udpgroup/internal/logging"
	"github.com/postalsys/udpgroup/internal/metrics"
	"github.com/postalsys/udpgroup/internal/pathway"
	"github.com/postalsys/udpgroup/internal/recovery"
	"github.com/postalsys/udpgroup/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "udpgroup",
		Short: "udpgroup - UDP pathway multiplexer",
		Long: `udpgroup binds a single UDP socket and splits incoming datagrams
into pathways keyed by remote address and port.

Each pathway buffers the datagrams from its remote peer. Outbound
datagrams can be sent to an explicit address or to a pathway by key
or nickname.`,
		Version: Version,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(pathwaysCmd())
	rootCmd.AddCommand(addPathwayCmd())
	rootCmd.AddCommand(sendCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("init requires an interactive terminal")
			}

			if _, err := wizard.New().Run(); err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var configPath string
	var printMessages bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the group",
		Long:  "Bind the UDP socket and start delivering datagrams to the configured pathways.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			gcfg, err := cfg.GroupConfig()
			if err != nil {
				return err
			}

			g, err := group.New(gcfg, logger, metrics.Default())
			if err != nil {
				return fmt.Errorf("failed to create group: %w", err)
			}
			defer g.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			// Every pathway, including ones added over the control socket,
			// needs a reader or the block policy stalls the socket.
			g.Subscribe(group.EventInfo, func(ev group.Event) {
				if ev.Channel != nil {
					ch := ev.Channel
					recovery.Go(logger, "pathway-reader", func() {
						drain(ctx, ch, logger, printMessages)
					})
				}
			})

			if err := g.Start(cfg.Pathways...); err != nil {
				if !errors.Is(err, pathway.ErrConfig) {
					return fmt.Errorf("failed to start group: %w", err)
				}
				logger.Warn("some pathways were skipped", logging.KeyError, err)
			}

			fmt.Printf("Listening on %s (pathways: %d)\n", g.Addr(), len(g.Pathways()))

			if cfg.Health.Enabled {
				hs := health.NewServer(health.ServerConfig{
					Address:      cfg.Health.Address,
					ReadTimeout:  cfg.Health.ReadTimeout,
					WriteTimeout: cfg.Health.WriteTimeout,
					Gatherer:     prometheus.DefaultGatherer,
				}, g)
				if err := hs.Start(); err != nil {
					return fmt.Errorf("failed to start health server: %w", err)
				}
				defer hs.Stop()
				fmt.Printf("Health server: http://%s/health\n", hs.Address())
			}

			if cfg.Control.Enabled {
				ccfg := control.DefaultServerConfig()
				ccfg.SocketPath = cfg.Control.SocketPath
				cs := control.NewServer(ccfg, g)
				if err := cs.Start(); err != nil {
					return fmt.Errorf("failed to start control server: %w", err)
				}
				defer cs.Stop()
				fmt.Printf("Control socket: %s\n", cs.SocketPath())
			}

			if err := g.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Println("\nShutting down...")

			stats := g.Stats()
			fmt.Printf("Received %s in %d datagrams, sent %s in %d datagrams.\n",
				humanize.IBytes(stats.Socket.BytesReceived), stats.Socket.DatagramsReceived,
				humanize.IBytes(stats.Socket.BytesSent), stats.Socket.DatagramsSent)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./udpgroup.yaml", "Path to configuration file")
	cmd.Flags().BoolVarP(&printMessages, "print", "p", false, "Print received datagrams to stdout")

	return cmd
}

// drain reads a pathway until it closes or ctx is done.
func drain(ctx context.Context, ch *pathway.Channel, logger *slog.Logger, echo bool) {
	for {
		payload, err := ch.Recv(ctx)
		if err != nil {
			return
		}
		if echo {
			fmt.Printf("[%s] %s\n", ch.Name(), strconv.Quote(string(payload)))
		}
		logger.Debug("datagram read",
			logging.KeyPathway, ch.Name(),
			logging.KeyBytes, len(payload))
	}
}

func checkCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			fmt.Printf("%s is valid: %s port %d, %d pathways\n",
				configPath, cfg.Group.UDPVersion, cfg.Group.ListenPort, len(cfg.Pathways))
			for _, d := range cfg.Pathways {
				name := d.RemoteName
				if name == "" {
					name = "-"
				}
				fmt.Printf("  %-24s %s\n", d.Key(), name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./udpgroup.yaml", "Path to configuration file")

	return cmd
}

func addSocketFlag(cmd *cobra.Command, socketPath *string) {
	cmd.Flags().StringVarP(socketPath, "socket", "s", "./udpgroup.sock", "Path to control socket")
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*time.Second)
}

func statusCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show group status",
		Long:  "Display the status of a running group via its control socket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			status, err := client.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Running:     %t\n", status.Running)
			fmt.Printf("Listening:   %s\n", status.ListenAddr)
			if status.RemoteAddr != "" {
				fmt.Printf("Connected:   %s\n", status.RemoteAddr)
			}
			if status.Uptime != "" {
				fmt.Printf("Uptime:      %s\n", status.Uptime)
			}
			fmt.Printf("Pathways:    %d (%d keys)\n", status.PathwayCount, status.KeyCount)
			fmt.Printf("Received:    %s in %d datagrams\n", humanize.IBytes(status.BytesReceived), status.DatagramsReceived)
			fmt.Printf("Sent:        %s in %d datagrams\n", humanize.IBytes(status.BytesSent), status.DatagramsSent)
			return nil
		},
	}

	addSocketFlag(cmd, &socketPath)
	return cmd
}

func pathwaysCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "pathways",
		Short: "List pathways",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			resp, err := client.Pathways(ctx)
			if err != nil {
				return err
			}

			if len(resp.Pathways) == 0 {
				fmt.Println("No pathways.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKEY\tDELIVERED\tDROPPED\tQUEUED\tAGE")
			for _, p := range resp.Pathways {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
					p.Name, p.Key, p.Stats.Delivered, p.Stats.Dropped, p.Stats.Queued,
					humanize.Time(p.CreatedAt))
			}
			return tw.Flush()
		},
	}

	addSocketFlag(cmd, &socketPath)
	return cmd
}

func addPathwayCmd() *cobra.Command {
	var socketPath, port, name string

	cmd := &cobra.Command{
		Use:   "add-pathway <remote-address>",
		Short: "Add a pathway to a running group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			added, err := client.AddPathway(ctx, pathway.Descriptor{
				RemoteAddress: args[0],
				RemotePort:    pathway.Port(port),
				RemoteName:    name,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Added pathway %s (key %s, id %s)\n", added.Name, added.Key, added.ID)
			return nil
		},
	}

	addSocketFlag(cmd, &socketPath)
	cmd.Flags().StringVar(&port, "port", "", "Remote port (empty or * for any)")
	cmd.Flags().StringVar(&name, "name", "", "Pathway nickname")
	return cmd
}

func sendCmd() *cobra.Command {
	var socketPath, address, encoding string
	var port int

	cmd := &cobra.Command{
		Use:   "send [pathway] <payload>",
		Short: "Send a datagram through a running group",
		Long: `Send a datagram to a pathway (by key or nickname) or, with --port,
to an explicit address.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := control.SendRequest{Encoding: encoding}
			switch {
			case port != 0 && len(args) == 1:
				req.Address = address
				req.Port = port
				req.Payload = args[0]
			case port == 0 && len(args) == 2:
				req.Pathway = args[0]
				req.Payload = args[1]
			default:
				return errors.New("use either <pathway> <payload> or --port <port> <payload>")
			}

			client := control.NewClient(socketPath)
			defer client.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			resp, err := client.Send(ctx, req)
			if err != nil {
				return err
			}

			if resp.Pending {
				fmt.Printf("Queued %s\n", humanize.IBytes(uint64(resp.Bytes)))
			} else {
				fmt.Printf("Sent %s\n", humanize.IBytes(uint64(resp.Bytes)))
			}
			return nil
		},
	}

	addSocketFlag(cmd, &socketPath)
	cmd.Flags().StringVar(&address, "address", "", "Destination address (defaults to loopback)")
	cmd.Flags().IntVar(&port, "port", 0, "Destination port")
	cmd.Flags().StringVar(&encoding, "encoding", control.EncodingText, "Payload encoding (text or base64)")
	return cmd
}
