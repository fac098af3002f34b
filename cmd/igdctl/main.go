// Command igdctl lists and edits the port mappings of the local Internet
// Gateway Device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	igd "github.com/go-i2p/go-upnp-igd"
	"github.com/go-i2p/go-upnp-igd/internal/config"
)

var (
	configFile = flag.String("config", "", "INI configuration file")
	logLevel   = flag.String("log-level", "", "log level (debug, info, warn, error); overrides the config")
	addArg     = flag.String("add", "", "add a mapping: ext:proto:int:client[:description]")
	deleteArg  = flag.String("delete", "", "delete a mapping: ext:proto")
	watch      = flag.Bool("watch", false, "keep running and print the table on every refresh")
	timeout    = flag.Duration("timeout", 15*time.Second, "overall time limit for scan and changes")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "igdctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New(*configFile)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := igd.NewController(igd.NewUPnPLibrary(logger), cfg.ControllerOptions(logger))
	defer c.Close()

	opCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c.Scan()
	if err := c.WaitScan(opCtx); err != nil {
		return fmt.Errorf("scan did not complete: %w", err)
	}
	if !c.ValidIGD() {
		return igd.ErrNoValidIGD
	}

	if *addArg != "" {
		if err := addMapping(opCtx, c, *addArg, cfg.Description); err != nil {
			return err
		}
	}
	if *deleteArg != "" {
		if err := deleteMapping(opCtx, c, *deleteArg); err != nil {
			return err
		}
	}

	printState(os.Stdout, c)

	if !*watch {
		return nil
	}
	return watchMappings(ctx, c, cfg, logger)
}

// watchMappings reprints the table after every refresh until interrupted.
func watchMappings(ctx context.Context, c *igd.Controller, cfg *config.Config, logger *slog.Logger) error {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}

	c.OnEvent(func(e igd.Event) {
		if e == igd.DataRefreshed {
			printState(os.Stdout, c)
		}
	})

	r := igd.NewAutoRefresher(c, interval, nil, logger)
	r.Start()
	defer r.Stop()

	logger.Info("watching port mappings", "interval", interval)
	<-ctx.Done()
	return nil
}

func addMapping(ctx context.Context, c *igd.Controller, arg, defaultDescription string) error {
	parts := strings.SplitN(arg, ":", 5)
	if len(parts) < 4 {
		return fmt.Errorf("invalid -add %q: want ext:proto:int:client[:description]", arg)
	}

	ext, err := parsePort(parts[0])
	if err != nil {
		return err
	}
	internal, err := parsePort(parts[2])
	if err != nil {
		return err
	}
	description := defaultDescription
	if len(parts) == 5 {
		description = parts[4]
	}

	return c.AddPortMapping(ctx, ext, strings.ToUpper(parts[1]), internal, parts[3], description)
}

func deleteMapping(ctx context.Context, c *igd.Controller, arg string) error {
	parts := strings.Split(arg, ":")
	if len(parts) != 2 {
		return fmt.Errorf("invalid -delete %q: want ext:proto", arg)
	}
	ext, err := parsePort(parts[0])
	if err != nil {
		return err
	}
	proto := igd.ParseProtocol(strings.ToUpper(parts[1]))

	target := igd.PortMapping{ExternalPort: ext, Protocol: proto}
	for _, m := range c.Mappings() {
		if m.ExternalPort == ext && m.Protocol == proto {
			target = m
			break
		}
	}

	err = c.DeletePortMapping(ctx, target)
	if errors.Is(err, igd.ErrInvalidProtocol) {
		return fmt.Errorf("invalid -delete %q: protocol must be TCP or UDP", arg)
	}
	return err
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return uint16(n), nil
}

func printState(w io.Writer, c *igd.Controller) {
	state := c.State()
	fmt.Fprintf(w, "IGD:         %s\n", state.Status)
	fmt.Fprintf(w, "Control URL: %s\n", state.ControlURL)
	fmt.Fprintf(w, "Service:     %s\n", state.ServiceType)
	fmt.Fprintf(w, "LAN address: %s\n", state.LANAddr)
	fmt.Fprintf(w, "External IP: %s\n", state.ExternalIP)
	fmt.Fprintf(w, "Connected:   %t\n", state.Connected)
	if state.EnumerationErr != nil {
		fmt.Fprintf(w, "Warning:     table read stopped early: %v\n", state.EnumerationErr)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXTERNAL\tPROTO\tINTERNAL\tCLIENT\tENABLED\tLEASE\tDESCRIPTION")
	for _, m := range c.Mappings() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			m.ExternalPort, m.Protocol, m.InternalPort, m.InternalClient,
			m.Enabled, m.Duration, m.Description)
	}
	tw.Flush()
}
