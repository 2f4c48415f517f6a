package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/pktcraft/internal/config"
	"firestige.xyz/pktcraft/internal/log"
	"firestige.xyz/pktcraft/internal/metrics"
	"firestige.xyz/pktcraft/internal/neighbor"
	"firestige.xyz/pktcraft/pkg/core"
	"firestige.xyz/pktcraft/pkg/ipv4"
	"firestige.xyz/pktcraft/pkg/link"
	"firestige.xyz/pktcraft/pkg/sink"
	"firestige.xyz/pktcraft/pkg/socket"
)

const defaultPayload = "Hellorld\n"

// sendFlagBindings maps config keys to the send flags that override them.
var sendFlagBindings = map[string]string{
	"link.type":        "link",
	"link.interface":   "iface",
	"link.src_mac":     "src-mac",
	"link.dst_mac":     "dst-mac",
	"sink.type":        "sink",
	"sink.pcap_file":   "pcap-file",
	"serial.device":    "serial",
	"serial.baud":      "baud",
	"ipv4.source_addr": "src-ip",
	"ipv4.ttl":         "ttl",
	"ipv4.no_fragment": "no-fragment",
}

type sendOptions struct {
	src      string
	dst      string
	payload  string
	count    int
	parallel int
	dryRun   bool
}

func newSendCmd(configFile *string) *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send hand-built datagrams",
		Long: `Send hand-built datagrams.

Subcommands:
  udp  - Send UDP datagrams over the configured link`,
	}
	sendCmd.AddCommand(newSendUDPCmd(configFile))
	return sendCmd
}

func newSendUDPCmd(configFile *string) *cobra.Command {
	var opts sendOptions

	udpCmd := &cobra.Command{
		Use:   "udp",
		Short: "Send UDP datagrams",
		Long: `Build IPv4/UDP datagrams and transmit them over the configured link.

Examples:
  pktcraft send udp --iface eth0 --src 10.0.0.2:1234 --dst 10.0.0.1:1337
  pktcraft send udp --sink pcap --pcap-file out.pcap --dst 10.0.0.1:1337 --count 100 --parallel 4
  pktcraft send udp --link slip --serial /dev/ttyUSB0 --src 10.0.0.2:1234 --dst 10.0.0.1:1337
  pktcraft send udp --dry-run --src 10.0.0.2:1234 --dst 10.0.0.1:1337`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile, config.WithFlags(cmd.Flags(), sendFlagBindings))
			if err != nil {
				return err
			}
			if err := log.Init(cfg.Log); err != nil {
				return err
			}
			return runSend(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	f := udpCmd.Flags()
	f.StringVar(&opts.src, "src", "", "source ip:port; the address may be omitted (\":1234\")")
	f.StringVar(&opts.dst, "dst", "", "destination ip:port (required)")
	f.StringVar(&opts.payload, "payload", defaultPayload, "UDP payload")
	f.IntVar(&opts.count, "count", 1, "number of datagrams to send")
	f.IntVar(&opts.parallel, "parallel", 1, "number of concurrent senders")
	f.BoolVar(&opts.dryRun, "dry-run", false, "build frames in memory and print a decode instead of sending")

	f.String("link", "", "link type: ethernet or slip")
	f.String("iface", "", "network interface for the ethernet link")
	f.String("src-mac", "", "source MAC (default: interface address)")
	f.String("dst-mac", "", "destination MAC (default: neighbour lookup)")
	f.String("sink", "", fmt.Sprintf("frame sink for the ethernet link (%s)", strings.Join(sink.Registered(), ", ")))
	f.String("pcap-file", "", "output file for the pcap sink")
	f.String("serial", "", "serial device for the slip link")
	f.Int("baud", sink.DefaultBaud, "serial baud rate")
	f.String("src-ip", "", "source IPv4 address when --src carries none")
	f.Int("ttl", ipv4.DefaultTTL, "IPv4 time to live")
	f.Bool("no-fragment", false, "set the don't-fragment flag")

	_ = udpCmd.MarkFlagRequired("dst")
	return udpCmd
}

// runSend sends opts.count datagrams with at most opts.parallel in flight
// and writes a summary to out.
func runSend(ctx context.Context, cfg *config.Config, opts sendOptions, out io.Writer) error {
	if opts.count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", opts.count)
	}
	if opts.parallel < 1 {
		opts.parallel = 1
	}

	dst, err := netip.ParseAddrPort(opts.dst)
	if err != nil {
		return fmt.Errorf("invalid --dst %q: %w", opts.dst, err)
	}
	src, err := sourceAddrPort(cfg, opts.src)
	if err != nil {
		return err
	}

	kind, err := cfg.Link.Kind()
	if err != nil {
		return err
	}

	var (
		rec  *sink.Recorder
		wire *bytes.Buffer
		l    link.Link
	)
	switch kind {
	case link.KindEthernet:
		l, rec, err = openEthernet(ctx, cfg, dst.Addr(), opts.dryRun)
	case link.KindSLIP:
		l, wire, err = openSLIP(cfg, opts.dryRun)
	}
	if err != nil {
		return err
	}

	sockOpts := []socket.Option{
		socket.WithLink(l),
		socket.WithProtocol(socket.ProtocolUDP),
		socket.WithIPv4Options(ipv4Options(cfg.IPv4)),
		socket.WithLogger(slog.Default()),
	}
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			_ = l.Close()
			return err
		}
		defer srv.Stop(context.WithoutCancel(ctx))
		sockOpts = append(sockOpts, socket.WithMetrics(metrics.Recorder{}))
	}

	sock, err := socket.New(sockOpts...)
	if err != nil {
		_ = l.Close()
		return err
	}
	defer sock.Close()

	var sent, total atomic.Int64
	payload := []byte(opts.payload)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallel)
	for i := 0; i < opts.count; i++ {
		g.Go(func() error {
			n, err := sock.SendUDP(gctx, src, dst, payload)
			if err != nil {
				return err
			}
			sent.Add(1)
			total.Add(int64(n))
			return nil
		})
	}
	sendErr := g.Wait()

	fmt.Fprintf(out, "sent %d/%d datagram(s), %d bytes via %s: %s -> %s\n",
		sent.Load(), opts.count, total.Load(), kind, src, dst)

	if sendErr != nil {
		return fmt.Errorf("send failed: %w", sendErr)
	}

	if opts.dryRun {
		return dump(out, rec, wire)
	}
	return nil
}

// sourceAddrPort parses --src. A missing address falls back to
// ipv4.source_addr and then to the first address of the link interface.
func sourceAddrPort(cfg *config.Config, s string) (netip.AddrPort, error) {
	if s == "" {
		return netip.AddrPort{}, errors.New("--src is required (ip:port or :port)")
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil || host != "" {
		return netip.AddrPort{}, fmt.Errorf("invalid --src %q", s)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid --src %q: %w", s, err)
	}

	var addr netip.Addr
	if cfg.IPv4.SourceAddr != "" {
		addr, err = netip.ParseAddr(cfg.IPv4.SourceAddr)
	} else {
		addr, err = config.ResolveSourceAddr(cfg.Link.Interface)
	}
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, port), nil
}

func parsePort(s string) (uint16, error) {
	ap, err := netip.ParseAddrPort("0.0.0.0:" + s)
	if err != nil {
		return 0, err
	}
	return ap.Port(), nil
}

func ipv4Options(c config.IPv4Config) *ipv4.SocketOptions {
	o := ipv4.NewSocketOptions()
	o.SetTTL(uint8(c.TTL))
	o.SetPrecedence(ipv4.Precedence(c.Precedence))
	o.SetLowDelay(c.LowDelay)
	o.SetHighThroughput(c.HighThroughput)
	o.SetHighReliability(c.HighReliability)
	o.SetNoFragment(c.NoFragment)
	o.SetMTU(uint16(c.MTU))
	return o
}

// openEthernet opens the configured sink and resolves any MAC address the
// configuration leaves out. Sinks that never reach a wire fall back to the
// zero source and broadcast destination when nothing can be resolved.
func openEthernet(ctx context.Context, cfg *config.Config, dst netip.Addr, dryRun bool) (link.Link, *sink.Recorder, error) {
	offline := dryRun || cfg.Sink.Type == sink.TypePcap || cfg.Sink.Type == sink.TypeMemory

	srcMAC, dstMAC, err := cfg.Link.HardwareAddrs()
	if err != nil {
		return nil, nil, err
	}
	if srcMAC == nil || dstMAC == nil {
		if cfg.Link.Interface != "" {
			res, err := neighbor.Resolve(ctx, cfg.Link.Interface, dst, cfg.Link.Timeout())
			switch {
			case err == nil:
				slog.Debug("resolved link addresses", "next_hop", res.NextHop, "dst_mac", res.DstMAC, "source", res.Source)
				if srcMAC == nil {
					srcMAC = res.SrcMAC
				}
				if dstMAC == nil {
					dstMAC = res.DstMAC
				}
			case !offline:
				return nil, nil, fmt.Errorf("cannot resolve link addresses, set --src-mac/--dst-mac: %w", err)
			default:
				slog.Debug("neighbor resolution failed", "error", err)
			}
		} else if !offline {
			return nil, nil, fmt.Errorf("link.interface is required for sink %s: %w", cfg.Sink.Type, core.ErrConfigInvalid)
		}
	}
	if len(srcMAC) != 6 {
		srcMAC = make(net.HardwareAddr, 6)
	}
	if len(dstMAC) != 6 {
		dstMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}

	var (
		s   sink.Sink
		rec *sink.Recorder
	)
	if dryRun {
		rec = sink.NewRecorder()
		s = rec
	} else if s, err = sink.Open(cfg.Sink); err != nil {
		return nil, nil, err
	}

	l, err := link.NewEthernet(srcMAC, dstMAC, s)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return l, rec, nil
}

func openSLIP(cfg *config.Config, dryRun bool) (link.Link, *bytes.Buffer, error) {
	if dryRun {
		wire := &bytes.Buffer{}
		l, err := link.NewSLIP(wire)
		if err != nil {
			return nil, nil, err
		}
		return l, wire, nil
	}
	port, err := sink.OpenSerial(cfg.Serial.Device, cfg.Serial.Baud)
	if err != nil {
		return nil, nil, err
	}
	l, err := link.NewSLIP(port)
	if err != nil {
		_ = port.Close()
		return nil, nil, err
	}
	return l, nil, nil
}

// dump prints a layer decode of every frame a dry run produced.
func dump(out io.Writer, rec *sink.Recorder, wire *bytes.Buffer) error {
	if rec != nil {
		for i, frame := range rec.Frames() {
			fmt.Fprintf(out, "--- frame %d (%d bytes)\n", i+1, len(frame))
			fmt.Fprint(out, gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default).Dump())
		}
	}
	if wire != nil {
		dec := link.NewDecoder(wire)
		for i := 1; ; i++ {
			pkt, err := dec.ReadFrame()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("decode slip stream: %w", err)
			}
			fmt.Fprintf(out, "--- slip frame %d (%d bytes)\n", i, len(pkt))
			fmt.Fprint(out, gopacket.NewPacket(pkt, layers.LayerTypeIPv4, gopacket.Default).Dump())
		}
	}
	return nil
}
