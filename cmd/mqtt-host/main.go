package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PrinceK001/d11-react-native-mqtt/internal/builtin"
	"github.com/PrinceK001/d11-react-native-mqtt/internal/config"
	"github.com/PrinceK001/d11-react-native-mqtt/internal/jsbridge"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		brokerURL   = flag.String("broker", "", "broker URL, e.g. tcp://host:1883 (overrides config)")
		clientID    = flag.String("client-id", "", "MQTT client id (overrides config)")
		configPath  = flag.String("config", "", "config file path (default: $D11_MQTT_CONFIG or ~/.d11-mqtt/config)")
		timeout     = flag.Duration("timeout", 0, "exit after this duration; 0 runs until the script stops or a signal arrives")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options] <script.js>\n\n", os.Args[0])
		_, _ = fmt.Fprintln(os.Stderr, "Runs a JavaScript file with the mqtt:client module available.")
		_, _ = fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("mqtt-host %s\n", version)
		return nil
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one script argument")
	}
	scriptPath := flag.Arg(0)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if *brokerURL != "" {
		cfg.BrokerURL = *brokerURL
	}
	if *clientID != "" {
		cfg.ClientID = *clientID
	}

	code, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	rt, err := jsbridge.New(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	builtin.Register(ctx, rt, nil)

	if err := rt.SetGlobal("hostConfig", configDict(cfg)); err != nil {
		return err
	}

	slog.Debug("running script", "path", scriptPath, "broker", cfg.BrokerURL)
	if err := rt.LoadScript(scriptPath, string(code)); err != nil {
		return fmt.Errorf("script %s: %w", scriptPath, err)
	}

	<-ctx.Done()
	if err := ctx.Err(); err == context.DeadlineExceeded {
		slog.Debug("timeout reached", "timeout", *timeout)
	}
	return nil
}

// configDict exposes the host config to scripts as a plain object. The
// password is deliberately not included.
func configDict(cfg *config.Config) map[string]any {
	return map[string]any{
		"brokerUrl":             cfg.BrokerURL,
		"clientId":              cfg.ClientID,
		"username":              cfg.Username,
		"keepAliveSeconds":      int(cfg.KeepAlive / time.Second),
		"connectTimeoutSeconds": int(cfg.ConnectTimeout / time.Second),
		"autoReconnect":         cfg.AutoReconnect,
	}
}
