// as2d is the AS2 node daemon. It receives AS2 messages and MDNs over
// HTTP, delivers inbound payloads to per-partner folders, and sends the
// files dropped into the outbox.
//
// Usage:
//
//	as2d --config /etc/as2/as2.yaml
//	as2d --config /etc/as2/as2.yaml --send invoice.xml --to acme
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sirosfoundation/go-as2/internal/config"
	"github.com/sirosfoundation/go-as2/pkg/message"
)

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	sendFile   string
	sendTo     string
	sendFrom   string
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("as2d", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVarP(&opts.configPath, "config", "c", "as2.yaml", "path to the configuration file")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flagSet.StringVar(&opts.sendFile, "send", "", "send this file once and exit")
	flagSet.StringVar(&opts.sendTo, "to", "", "partner alias for --send")
	flagSet.StringVar(&opts.sendFrom, "from", "", "local party alias for --send (default: localParty)")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if opts.sendFile != "" && opts.sendTo == "" {
		return nil, fmt.Errorf("--send requires --to")
	}
	return &opts, nil
}

func newLogger(level, format string, output io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(output, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(output, handlerOpts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

func run(args []string, output io.Writer) error {
	opts, err := parseFlags(args, output)
	if err != nil {
		return err
	}
	logger, err := newLogger(opts.logLevel, opts.logFormat, output)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if opts.sendFile != "" {
		return sendOnce(ctx, n, opts, logger)
	}
	return n.serve(ctx)
}

// sendOnce sends a single file. For asynchronous partners it waits for the
// MDN or the end of the confirmation window.
func sendOnce(ctx context.Context, n *node, opts *options, logger *slog.Logger) error {
	n.start(ctx, false)
	defer n.close(context.Background())

	res, err := n.ctrl.Send(ctx, &message.TransferContext{
		FullTarget: opts.sendFile,
		Direction:  message.DirectionOutbound,
		From:       opts.sendFrom,
		To:         opts.sendTo,
	})
	if err != nil {
		return err
	}
	logger.Info("file sent",
		slog.String("message_id", res.MessageID),
		slog.String("mic", res.MIC),
		slog.String("status", string(res.Status)))
	return n.awaitMDN(ctx, res)
}
