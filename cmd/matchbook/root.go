package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"matchbook/config"
)

type cli struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	log        *zap.Logger
	out        io.Writer
	prom       *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	c := &cli{
		v:    config.New(),
		out:  os.Stdout,
		prom: prometheus.NewRegistry(),
	}

	root := &cobra.Command{
		Use:           "matchbook",
		Short:         "Price-time priority matching over a feed of order events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.out = cmd.OutOrStdout()
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "Path of a config file (yaml, json or toml)")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.String("log-format", "console", "Log format: console or json")
	c.bind(pf.Lookup("log-level"), "log.level")
	pf.Bool("color", true, "Colour report headers")
	c.bind(pf.Lookup("log-format"), "log.format")
	c.bind(pf.Lookup("color"), "report.color")

	root.AddCommand(
		c.runCmd(),
		c.serveCmd(),
		c.publishCmd(),
		c.showCmd(),
		c.broadcastCmd(),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	c.cfg, c.log = cfg, log
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "log.level %q", cfg.Level)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, errors.Errorf("log.format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
