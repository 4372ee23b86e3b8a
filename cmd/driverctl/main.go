package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frclink/dsctl/internal/config"
	"github.com/frclink/dsctl/internal/logging"
	"github.com/frclink/dsctl/internal/protocol"
	"github.com/frclink/dsctl/internal/remote"
)

const defaultSettingsPath = "settings.toml"

func main() {
	settingsPath := flag.String("settings", defaultSettingsPath, "path to persisted client settings")
	host := flag.String("host", "", "override server host")
	port := flag.Int("port", 0, "override server UDP port")
	clientID := flag.String("client-id", "", "override advertised client id")
	command := flag.String("command", "", "send a single command and exit: enable|disable|estop")
	flag.Parse()

	logging.ConfigureRuntime("warn", logging.FileConfig{})

	if err := run(*settingsPath, *host, *port, *clientID, *command); err != nil {
		fmt.Fprintf(os.Stderr, "driverctl: %v\n", err)
		os.Exit(1)
	}
}

func run(settingsPath, host string, port int, clientID, command string) error {
	cfg, err := config.LoadDriverConfig(settingsPath)
	if err != nil {
		return err
	}

	// flag overrides persist for the next session
	changed := false
	if host != "" && host != cfg.ServerHost {
		cfg.ServerHost = host
		changed = true
	}
	if port != 0 && port != cfg.ServerPort {
		cfg.ServerPort = port
		changed = true
	}
	if clientID != "" && clientID != cfg.ClientID {
		cfg.ClientID = clientID
		changed = true
	}
	if changed {
		if err := config.SaveDriverConfig(settingsPath, cfg); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := remote.Dial(ctx, remote.Config{
		ServerHost:         cfg.ServerHost,
		ServerPort:         cfg.ServerPort,
		ClientID:           cfg.ClientID,
		Secret:             cfg.Secret,
		HeartbeatInterval:  cfg.HeartbeatInterval.Duration,
		HelloRetryInterval: cfg.HelloRetryInterval.Duration,
		HandshakeTimeout:   cfg.HandshakeTimeout.Duration,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if command != "" {
		return oneShot(client, cfg.ClientID, command)
	}
	return interactiveShell(ctx, client)
}

func oneShot(client *remote.Client, clientID, command string) error {
	kind, err := protocol.ParseCommandKind(command)
	if err != nil {
		return err
	}
	if err := client.SendCommand(kind); err != nil {
		return err
	}
	// the handshake STATUS may still be buffered; wait for a broadcast
	// that reflects this command before printing
	if report, ok := awaitConfirmation(client.Status(), clientID, 500*time.Millisecond); ok {
		fmt.Println(formatStatus(report))
	}
	return nil
}

// awaitConfirmation drains status reports until one attributed to our
// own client arrives, or the deadline passes. Returns the last report
// seen either way so a slow confirmation still prints something useful.
func awaitConfirmation(statusCh <-chan protocol.StatusReport, clientID string, timeout time.Duration) (protocol.StatusReport, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	var last protocol.StatusReport
	seen := false
	for {
		select {
		case report, ok := <-statusCh:
			if !ok {
				return last, seen
			}
			last, seen = report, true
			if report.LastCommandBy == clientID {
				return report, true
			}
		case <-deadline.C:
			return last, seen
		}
	}
}

func interactiveShell(ctx context.Context, client *remote.Client) error {
	fmt.Println("Commands: enable | disable | estop | teleop | auto | practice | test | status | quit")

	go printStatusChanges(ctx, client)
	go printServerErrors(ctx, client)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.ToLower(strings.TrimSpace(line))
			switch input {
			case "":
			case "quit", "exit":
				fmt.Println("Exiting client...")
				return nil
			case "status":
				if report, ok := client.LastStatus(); ok {
					fmt.Println(formatStatus(report))
				} else {
					fmt.Println("No status received yet.")
				}
			default:
				kind, err := protocol.ParseCommandKind(input)
				if err != nil {
					fmt.Println("Unknown command. Available: enable | disable | estop | teleop | auto | practice | test | status | quit")
					continue
				}
				if err := client.SendCommand(kind); err != nil {
					fmt.Printf("Failed to send command: %v\n", err)
				}
			}
		}
	}
}

// printStatusChanges echoes broadcasts, but only when something the
// operator cares about actually changed; at a 100ms cadence printing
// every report would drown the shell.
func printStatusChanges(ctx context.Context, client *remote.Client) {
	var last protocol.StatusReport
	seen := false
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-client.Status():
			if !ok {
				return
			}
			if !seen || report.RobotState != last.RobotState ||
				report.LastCommandBy != last.LastCommandBy ||
				report.ConnectedClients != last.ConnectedClients {
				fmt.Println(formatStatus(report))
			}
			last = report
			seen = true
		}
	}
}

func printServerErrors(ctx context.Context, client *remote.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-client.Errors():
			if !ok {
				return
			}
			fmt.Printf("[server] %v\n", err)
		}
	}
}

func formatStatus(report protocol.StatusReport) string {
	lastBy := report.LastCommandBy
	if lastBy == "" {
		lastBy = "n/a"
	}
	lastAt := "n/a"
	if report.LastCommandAt != 0 {
		lastAt = time.Unix(0, int64(report.LastCommandAt*float64(time.Second))).Format("15:04:05.000")
	}
	line := fmt.Sprintf("State: %-8s | last cmd by: %-12s | last at: %-12s | connected clients: %d",
		report.RobotState, lastBy, lastAt, report.ConnectedClients)
	if report.DSState != "" {
		line += fmt.Sprintf(" | ds: %s", report.DSState)
	}
	return line
}
