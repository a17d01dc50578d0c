// Command superethd runs a single superethd tunnel endpoint: it brings up a
// TAP interface, binds a UDP socket, and bridges Ethernet frames to and
// from the configured peer(s) until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/superethd/seth/internal/config"
	"github.com/superethd/seth/internal/logging"
	"github.com/superethd/seth/internal/seth"
	"github.com/superethd/seth/internal/switchd"
	"github.com/superethd/seth/internal/wire"
)

const version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Default()
	var configFile string

	cmd := &cobra.Command{
		Use:     "superethd",
		Short:   "Layer-2 Ethernet-over-UDP tunnel daemon",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), cfg, configFile)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config-file", "c", "", "INI configuration file")
	flags.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "error|warning|notice|info|debug")
	flags.IntVarP(&cfg.MTU, "mtu", "m", cfg.MTU, "tunnel MTU")
	flags.IntVarP(&cfg.TXSize, "txsize", "t", cfg.TXSize, "maximum UDP transmission size")
	flags.StringVarP(&cfg.Src, "src", "s", "", "local bind address (mandatory)")
	flags.StringVarP(&cfg.Dst, "dst", "d", "", "remote peer address (mandatory)")
	flags.IntVarP(&cfg.Port, "port", "p", cfg.Port, "UDP port")
	flags.StringVarP(&cfg.IfName, "ifname", "i", cfg.IfName, "TAP interface name")
	flags.StringVarP((*string)(&cfg.Compression), "compression", "a", string(cfg.Compression), "none|lz4|zstd")

	cmd.SetVersionTemplate(fmt.Sprintf("superethd version %s\n", version))

	return cmd
}

func run(flags *pflag.FlagSet, cfg *config.Config, configFile string) error {
	if configFile != "" {
		// Flags given on the command line are re-applied over the file's
		// values so that they take precedence.
		given := map[string]string{}
		flags.Visit(func(f *pflag.Flag) { given[f.Name] = f.Value.String() })
		if err := config.LoadINI(cfg, configFile); err != nil {
			return err
		}
		for name, value := range given {
			if err := flags.Set(name, value); err != nil {
				return seth.ConfigErrorf("flag --%s: %w", name, err)
			}
		}
	}
	if err := config.LoadPeerList(cfg, cfg.PeerListFile); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return seth.ConfigErrorf("%w", err)
	}
	log, err := logging.New("superethd", level, "")
	if err != nil {
		return seth.SetupErrorf("create logger: %w", err)
	}
	defer log.Close()

	peers, err := buildPeerConfigs(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sw, err := switchd.New(ctx, switchd.Config{
		InterfaceName: cfg.IfName,
		MTU:           uint16(cfg.MTU),
		TXSize:        uint16(cfg.TXSize),
		ListenPort:    uint16(cfg.Port),
		Peers:         peers,
		Log:           log,
	})
	if err != nil {
		return err
	}

	log.Infof("superethd starting: ifname=%s mtu=%d txsize=%d port=%d peers=%d",
		cfg.IfName, cfg.MTU, cfg.TXSize, cfg.Port, len(peers))

	sw.Start(ctx)

	var fatal error
	select {
	case <-ctx.Done():
	case fatal = <-sw.Errors():
	}

	log.Info("superethd shutting down")
	sw.Stop()
	return fatal
}

func buildPeerConfigs(cfg *config.Config) ([]switchd.PeerConfig, error) {
	var out []switchd.PeerConfig
	for _, p := range cfg.AllPeers() {
		addr, err := netip.ParseAddrPort(p.Addr)
		if err != nil {
			return nil, seth.ConfigErrorf("invalid peer address %q: %w", p.Addr, err)
		}
		out = append(out, switchd.PeerConfig{
			Addr:        addr,
			Compression: compressionFormat(p.Compression),
		})
	}
	return out, nil
}

func compressionFormat(c config.Compression) wire.CompressionFormat {
	switch c {
	case config.CompressionLZ4:
		return wire.CompressionLZ4
	case config.CompressionZSTD:
		return wire.CompressionZSTD
	default:
		return wire.CompressionNone
	}
}

// exitCodeFor maps a ConfigError/SetupError/FatalIOError to exit code 1, the
// only category meant to propagate out of run.
func exitCodeFor(err error) int {
	fmt.Fprintln(os.Stderr, "superethd:", err)
	return 1
}
