package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"switchboard/internal/config"
	"switchboard/internal/logging"
	"switchboard/internal/obs"
	"switchboard/internal/server"
	"switchboard/internal/util"
)

const shutdownGrace = 5 * time.Second

func newServeCommand(info BuildInfo) *cobra.Command {
	var (
		host     string
		port     int
		mode     string
		logLevel string
		open     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Flags beat both the file and the environment, for this
			// process only.
			var flagErr error
			cmd.Flags().Visit(func(f *pflag.Flag) {
				if flagErr != nil {
					return
				}
				switch f.Name {
				case "host":
					cfg.SetHost(host)
				case "port":
					flagErr = cfg.SetPort(port)
				case "mode":
					flagErr = cfg.SetMode(mode)
				case "log-level":
					flagErr = cfg.SetLogLevel(logLevel)
				}
			})
			if flagErr != nil {
				return flagErr
			}

			if !util.IsPortAvailable(cfg.GetHost(), cfg.GetPort()) {
				return fmt.Errorf("port %d is already in use on %s", cfg.GetPort(), cfg.GetHost())
			}

			level := cfg.GetLogLevel()
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = "trace"
			}
			ring, err := logging.Setup(logging.Options{
				Level:   level,
				LogFile: cfg.LogFilePath(),
				Console: true,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			meter, err := newMeterSetup(ctx, cfg)
			if err != nil {
				return err
			}

			srv, err := server.NewServer(cfg,
				server.WithVersion(info.Version),
				server.WithLogRing(ring),
				server.WithUsageTracker(meter.Tracker()),
				server.WithOpenBrowser(open),
			)
			if err != nil {
				return err
			}

			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Start() }()

			select {
			case err := <-serveErr:
				return err
			case <-ctx.Done():
			}

			logrus.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logrus.WithError(err).Warn("shutdown did not finish cleanly")
			}
			if err := meter.Shutdown(shutdownCtx); err != nil {
				logrus.WithError(err).Warn("metrics shutdown failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "bind address")
	cmd.Flags().IntVar(&port, "port", 0, "bind port")
	cmd.Flags().StringVar(&mode, "mode", "", `proxy mode, "direct" or "translated"`)
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.Flags().BoolVar(&open, "open", false, "open the monitor page once the port accepts connections")
	return cmd
}

// newMeterSetup translates the persisted metrics section into the meter
// config. Returns a nil setup when export is disabled, which is safe to use.
func newMeterSetup(ctx context.Context, cfg *config.Config) (*obs.MeterSetup, error) {
	mc := cfg.GetMetrics()
	oc := obs.DefaultConfig()
	oc.Enabled = mc.Enabled
	if mc.Exporter != "" {
		oc.Exporter = mc.Exporter
	}
	oc.Endpoint = mc.Endpoint
	if mc.IntervalSeconds > 0 {
		oc.ExportInterval = time.Duration(mc.IntervalSeconds) * time.Second
	}
	return obs.NewMeterSetup(ctx, oc)
}
