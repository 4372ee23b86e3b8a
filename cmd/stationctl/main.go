package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	svc "github.com/kardianos/service"
	"github.com/rs/zerolog/log"

	"github.com/frclink/dsctl/internal/actuate"
	"github.com/frclink/dsctl/internal/config"
	"github.com/frclink/dsctl/internal/detect"
	"github.com/frclink/dsctl/internal/logging"
	"github.com/frclink/dsctl/internal/station"
)

const defaultConfigPath = "cmd/stationctl/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to station config")
	serviceCmd := flag.String("service", "", "service control: install|uninstall|start|stop|run")
	flag.Parse()

	if *serviceCmd != "" {
		if err := handleServiceCmd(*serviceCmd, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "stationctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "stationctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadStationConfig(configPath)
	if err != nil {
		return err
	}
	logging.ConfigureRuntime(cfg.Log.Level, logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	exec, err := actuate.ForBackend(cfg.Backend, actuate.FMSConfig{
		TeamID:          cfg.FMS.TeamID,
		AllianceStation: cfg.FMS.AllianceStation,
		DSAddress:       cfg.FMS.DSAddress,
	}, actuate.ScriptConfig{
		Enable:  cfg.Script.Enable,
		Disable: cfg.Script.Disable,
		EStop:   cfg.Script.EStop,
		SetMode: cfg.Script.SetMode,
		Timeout: cfg.Script.Timeout.Duration,
	})
	if err != nil {
		return err
	}
	if closer, ok := exec.(actuate.Closer); ok {
		defer closer.Close()
	}

	server := station.New(station.Config{
		Host:             cfg.Host,
		Port:             cfg.Port,
		HeartbeatTimeout: cfg.HeartbeatTimeout.Duration,
		StatusInterval:   cfg.StatusInterval.Duration,
		LogStatusEvery:   cfg.LogStatusEvery.Duration,
		RequireHello:     cfg.RequireHello,
		Secret:           cfg.Secret,
	}, exec)

	if cfg.Detect.StateFile != "" {
		source, err := detect.NewFileSource(cfg.Detect.StateFile)
		if err != nil {
			return err
		}
		defer source.Close()
		server.AttachDetect(source)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var monitor *station.Monitor
	if cfg.Monitor.Addr != "" {
		monitor = station.NewMonitor(cfg.Monitor.Addr, server, cfg.Monitor.CorsOrigins)
	}

	if err := server.Start(runCtx); err != nil {
		return err
	}
	defer server.Close()

	if monitor != nil {
		go func() {
			if err := monitor.Start(runCtx); err != nil {
				log.Error().Err(err).Msg("stationctl: monitor stopped")
			}
		}()
	}

	<-runCtx.Done()
	log.Info().Msg("stationctl: shutting down")
	return server.Close()
}

// program adapts run to the host service manager lifecycle.
type program struct {
	configPath string
	cancel     context.CancelFunc
	done       chan struct{}
}

func (p *program) Start(_ svc.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := run(ctx, p.configPath); err != nil {
			log.Error().Err(err).Msg("stationctl: service run failed")
		}
	}()
	return nil
}

func (p *program) Stop(_ svc.Service) error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}

func handleServiceCmd(cmd, configPath string) error {
	s, err := svc.New(&program{configPath: configPath}, &svc.Config{
		Name:        "dsctl-station",
		DisplayName: "dsctl station server",
		Description: "Fail-safe robot arm/disarm control station",
		Arguments:   []string{"-service", "run", "-config", configPath},
	})
	if err != nil {
		return err
	}
	switch cmd {
	case "install":
		return s.Install()
	case "uninstall":
		return s.Uninstall()
	case "start":
		return s.Start()
	case "stop":
		return s.Stop()
	case "run":
		return s.Run()
	default:
		return fmt.Errorf("unknown service command %q", cmd)
	}
}
