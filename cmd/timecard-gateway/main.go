// ABOUTME: Entry point for timecard-gateway
// ABOUTME: Runs the gateway server and offers operator commands against a running instance

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/2389/timecard-gateway/internal/auth"
	"github.com/2389/timecard-gateway/internal/config"
	"github.com/2389/timecard-gateway/internal/control"
	"github.com/2389/timecard-gateway/internal/gateway"
)

// version is set at build time.
var version = "dev"

const banner = `
  _   _                                _
 | |_(_)_ __ ___   ___  ___ __ _ _ __ | |
 | __| | '_ ' _ \ / _ \/ __/ _' | '__/ _' |
 | |_| | | | | | |  __/ (_| (_| | | | (_| |
  \__|_|_| |_| |_|\___|\___\__,_|_|  \__,_|
`

func usage() {
	fmt.Println("Usage: timecard-gateway <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                           Start the gateway server")
	fmt.Println("  health                          Check gateway health")
	fmt.Println("  clients                         List connected devices")
	fmt.Println("  pending [--since TIME]          List open card reservations")
	fmt.Println("  reserve --card ID --driver N    Reserve a card for a driver")
	fmt.Println("  cancel --card ID                Cancel a card reservation")
	fmt.Println("  delete-card --card ID           Tell devices to delete a card")
	fmt.Println("  token --subject NAME [--ttl D]  Issue an operator token")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TIMECARD_CONFIG   Config file (default ~/.config/timecard/gateway.yaml)")
	fmt.Println("  TIMECARD_TOKEN    Operator token for control commands")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "clients":
		err = runClients(ctx, os.Stdout)
	case "pending":
		err = runPending(ctx, args, os.Stdout)
	case "reserve":
		err = runReserve(ctx, args, os.Stdout)
	case "cancel":
		err = runCancel(ctx, args, os.Stdout)
	case "delete-card":
		err = runDeleteCard(ctx, args, os.Stdout)
	case "token":
		err = runToken(args, os.Stdout)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label, value)
	}
	line("Config:", configPath)
	line("gRPC:", cfg.Server.GRPCAddr)
	line("HTTP:", cfg.Server.HTTPAddr)
	line("Database:", cfg.Database.Path)
	if cfg.Webhook.URL != "" {
		line("Webhook:", cfg.Webhook.URL)
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "Tailscale:")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! control API is unauthenticated (no auth.jwt_secret)")
	}
	fmt.Println()

	logger.Info("starting timecard-gateway",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	scheme := "http"
	if cfg.Server.TLSCertFile != "" {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/health/ready", scheme, cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		color.Green("healthy: %s", body)
	case http.StatusServiceUnavailable:
		color.Yellow("alive: %s", body)
	default:
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// extraDialOptions are appended when dialing the control API.
var extraDialOptions []grpc.DialOption

// controlConn connects to the control API named in the config. The returned
// context carries TIMECARD_TOKEN when set.
func controlConn(ctx context.Context) (*control.Client, context.Context, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	addr := cfg.Server.GRPCAddr
	if env := os.Getenv("TIMECARD_GATEWAY_GRPC"); env != "" {
		addr = env
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, extraDialOptions...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if token := os.Getenv("TIMECARD_TOKEN"); token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	return control.NewClient(conn), ctx, func() {
		cancel()
		_ = conn.Close()
	}, nil
}

func runClients(ctx context.Context, out io.Writer) error {
	client, ctx, done, err := controlConn(ctx)
	if err != nil {
		return err
	}
	defer done()

	resp, err := client.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("ListClients: %w", err)
	}

	color.New(color.Bold).Fprintf(out, "%d connected device(s)\n", resp.Total)
	for _, c := range resp.Clients {
		fmt.Fprintf(out, "  %-36s  %-15s  connected %s  last seen %s\n", c.SessionID, c.IPAddress, c.ConnectedAt, c.LastActivity)
	}
	return nil
}

func runPending(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	since := fs.String("since", "", "RFC3339 or 'YYYY-MM-DD HH:MM:SS' start (default: last hour)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, ctx, done, err := controlConn(ctx)
	if err != nil {
		return err
	}
	defer done()

	resp, err := client.ListPending(ctx, &control.ListPendingRequest{Since: *since})
	if err != nil {
		return fmt.Errorf("ListPending: %w", err)
	}
	gray := color.New(color.FgHiBlack)
	if len(resp.Items) == 0 {
		gray.Fprintln(out, "no pending reservations")
		return nil
	}
	for _, p := range resp.Items {
		driver := gray.Sprint("unassigned")
		if p.ReservedDriverID != nil {
			driver = fmt.Sprintf("driver %d", *p.ReservedDriverID)
		}
		fmt.Fprintf(out, "  %-20s  %-12s  %s\n", p.CardID, driver, p.ReservationTime)
	}
	return nil
}

func runReserve(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reserve", flag.ContinueOnError)
	card := fs.String("card", "", "card id")
	driver := fs.Int64("driver", 0, "driver id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *card == "" || *driver == 0 {
		return errors.New("--card and --driver are required")
	}

	client, ctx, done, err := controlConn(ctx)
	if err != nil {
		return err
	}
	defer done()

	resp, err := client.ReserveDirect(ctx, &control.ReserveDirectRequest{CardID: *card, DriverID: *driver})
	if err != nil {
		return fmt.Errorf("ReserveDirect: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("%s: %s", resp.Reason, resp.Message)
	}
	color.New(color.FgGreen).Fprintf(out, "reserved %s for %s (driver %d) at %s\n",
		resp.CardID, resp.DriverName, resp.DriverID, resp.ReservationTime)
	return nil
}

func runCancel(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	card := fs.String("card", "", "card id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *card == "" {
		return errors.New("--card is required")
	}

	client, ctx, done, err := controlConn(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := client.CancelReservation(ctx, &control.CancelReservationRequest{CardID: *card}); err != nil {
		return fmt.Errorf("CancelReservation: %w", err)
	}
	color.New(color.FgGreen).Fprintf(out, "reservation for %s cancelled\n", *card)
	return nil
}

func runDeleteCard(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("delete-card", flag.ContinueOnError)
	card := fs.String("card", "", "card id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *card == "" {
		return errors.New("--card is required")
	}

	client, ctx, done, err := controlConn(ctx)
	if err != nil {
		return err
	}
	defer done()

	resp, err := client.RequestDelete(ctx, &control.RequestDeleteRequest{CardID: *card})
	if err != nil {
		return fmt.Errorf("RequestDelete: %w", err)
	}
	color.New(color.FgGreen).Fprintf(out, "%s (%d device(s) reached)\n", resp.Message, resp.Sessions)
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "operator name recorded in the token")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(*subject, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
