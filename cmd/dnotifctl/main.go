// Command dnotifctl is a debugging tool for notification substreams.
//
// "dnotifctl listen" accepts QUIC connections
// and prints every notification it receives.
// "dnotifctl send" dials a listener and sends notifications to it.
//
// The listener presents an ephemeral self-signed certificate
// and the sender does not verify it,
// so dnotifctl must only be used for local testing.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gordian-engine/dnotif"
	"github.com/gordian-engine/dnotif/dpubsub"
	"github.com/gordian-engine/dnotif/dquic"
	"github.com/gordian-engine/dnotif/dselect"
	"github.com/gordian-engine/dnotif/internal/dtls"
)

var cli struct {
	Config  string `help:"Path to a TOML config file." type:"path" short:"c"`
	Verbose bool   `help:"Enable debug logging." short:"v"`

	Listen struct {
		Addr string `arg:"" help:"UDP address to listen on, e.g. 127.0.0.1:4800."`
	} `cmd:"" help:"Accept notification substreams and print their notifications."`

	Send struct {
		Addr     string   `arg:"" help:"Address of a dnotifctl listener."`
		Messages []string `arg:"" optional:"" help:"Notifications to send, in order."`
	} `cmd:"" help:"Open a notification substream and send notifications."`
}

func main() {
	kctx := kong.Parse(&cli)

	lvl := slog.LevelInfo
	if cli.Verbose {
		lvl = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	switch kctx.Command() {
	case "listen <addr>":
		err = runListen(ctx, log, cfg, cli.Listen.Addr, os.Stdout)
	case "send <addr>", "send <addr> <messages>":
		err = runSend(ctx, log, cfg, cli.Send.Addr, cli.Send.Messages)
	default:
		err = fmt.Errorf("unknown command %q", kctx.Command())
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Command failed", "err", err)
		os.Exit(1)
	}
}

func runListen(ctx context.Context, log *slog.Logger, cfg Config, addr string, out io.Writer) error {
	ca, err := dtls.GenerateCA("dnotifctl CA", 24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to generate CA: %w", err)
	}
	leaf, err := ca.CreateLeaf([]string{"localhost"}, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}

	uAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", addr, err)
	}
	uc, err := net.ListenUDP("udp", uAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer uc.Close()

	return listen(ctx, log, cfg, uc, leaf, out)
}

// listen serves notification substreams on uc until ctx is canceled.
func listen(
	ctx context.Context,
	log *slog.Logger,
	cfg Config,
	uc *net.UDPConn,
	cert tls.Certificate,
	out io.Writer,
) error {
	qt := dquic.MakeTransport(ctx, uc)
	ql, err := dquic.StartListener(&tls.Config{
		Certificates: []tls.Certificate{cert},
	}, nil, dquic.DefaultConfig(), qt)
	if err != nil {
		return err
	}

	log.Info("Listening", "addr", uc.LocalAddr().String(), "protocol", cfg.Protocol)

	ctx, cancel := context.WithCancel(ctx)

	// Every substream feeds one channel,
	// so a single printer writes whole lines in arrival order.
	notifs := make(chan []byte)
	ps, psDone := dpubsub.RunChannelToStream(ctx, notifs)
	printed := make(chan struct{})
	go printNotifications(ps, psDone, out, printed)
	defer func() {
		cancel()
		<-printed
	}()

	iu := dnotif.NewInboundUpgrade(log, cfg.inboundConfig())
	for {
		qc, err := ql.Accept(ctx)
		if err != nil {
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		conn := dquic.WrapConn(qc)
		go acceptStreams(ctx, log.With("remote", conn.RemoteAddr().String()), cfg, iu, conn, notifs)
	}
}

func acceptStreams(
	ctx context.Context,
	log *slog.Logger,
	cfg Config,
	iu *dnotif.InboundUpgrade,
	conn dquic.Conn,
	notifs chan<- []byte,
) {
	for {
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			log.Debug("Stopped accepting streams", "err", err)
			return
		}

		go handleStream(ctx, log, cfg, iu, s, notifs)
	}
}

func handleStream(
	ctx context.Context,
	log *slog.Logger,
	cfg Config,
	iu *dnotif.InboundUpgrade,
	s dquic.Stream,
	notifs chan<- []byte,
) {
	setupCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	name, err := dselect.Select(setupCtx, s, iu.ProtocolNames())
	if err != nil {
		cancel()
		log.Info("Protocol selection failed", "err", err)
		s.CancelRead(dnotif.StreamErrorCodeClosed)
		s.CancelWrite(dnotif.StreamErrorCodeClosed)
		return
	}

	open, err := iu.Upgrade(setupCtx, s, name)
	cancel()
	if err != nil {
		log.Info(
			"Inbound upgrade failed",
			"err", err,
			"protocol_violation", dnotif.IsProtocolViolation(err),
		)
		return
	}

	log = log.With("protocol", string(name))
	log.Info("Received substream", "handshake", string(open.Handshake))

	if cfg.Refuse {
		log.Info("Refusing substream")
		if err := open.Substream.Close(); err != nil {
			log.Debug("Error closing refused substream", "err", err)
		}
		return
	}

	open.Substream.SetLocalHandshake(cfg.Handshake)

	for {
		msg, err := open.Substream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Substream closed by remote")
				return
			}

			log.Info(
				"Substream failed",
				"err", err,
				"protocol_violation", dnotif.IsProtocolViolation(err),
			)
			_ = open.Substream.Close()
			return
		}

		select {
		case notifs <- msg:
		case <-ctx.Done():
			_ = open.Substream.Close()
			return
		}
	}
}

// printNotifications writes every value published to s, one per line,
// until stop is closed and all published values were written.
func printNotifications(
	s *dpubsub.Stream[[]byte], stop <-chan struct{}, out io.Writer, done chan<- struct{},
) {
	defer close(done)

	for {
		// Drain published values before checking stop.
		select {
		case <-s.Ready:
			fmt.Fprintf(out, "%s\n", s.Val)
			s = s.Next
			continue
		default:
		}

		select {
		case <-s.Ready:
			fmt.Fprintf(out, "%s\n", s.Val)
			s = s.Next
		case <-stop:
			return
		}
	}
}

func runSend(ctx context.Context, log *slog.Logger, cfg Config, addr string, msgs []string) error {
	uAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", addr, err)
	}

	uc, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("failed to open UDP socket: %w", err)
	}
	defer uc.Close()

	d := dquic.Dialer{
		BaseTLSConf: &tls.Config{
			ServerName: "localhost",

			// The listener only has an ephemeral certificate.
			InsecureSkipVerify: true,
		},
		QUICTransport: dquic.MakeTransport(ctx, uc),
		QUICConfig:    dquic.DefaultConfig(),
	}

	setupCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := d.Dial(setupCtx, uAddr)
	if err != nil {
		return err
	}
	defer conn.CloseWithError(0, "done")

	s, err := conn.OpenStreamSync(setupCtx)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	ou := dnotif.NewOutboundUpgrade(log, cfg.outboundConfig(addr))
	name, err := dselect.Propose(setupCtx, s, ou.ProtocolNames())
	if err != nil {
		return fmt.Errorf("protocol selection failed: %w", err)
	}

	open, err := ou.Upgrade(setupCtx, s, name)
	if err != nil {
		return fmt.Errorf("outbound upgrade failed: %w", err)
	}
	log.Info(
		"Opened substream",
		"protocol", string(name),
		"fallback", string(open.NegotiatedFallback),
		"handshake", string(open.Handshake),
	)

	sub := open.Substream
	for _, m := range msgs {
		if err := sub.Ready(ctx); err != nil {
			return err
		}
		if err := sub.Send([]byte(m)); err != nil {
			return err
		}
	}
	if err := sub.Close(ctx); err != nil {
		return fmt.Errorf("failed to close substream: %w", err)
	}

	// Only drop the connection once the listener has read everything.
	select {
	case <-sub.RemoteClosed():
	case <-time.After(cfg.Timeout):
		log.Warn("Listener did not close substream in time")
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	log.Info("Sent notifications", "count", len(msgs))
	return nil
}
