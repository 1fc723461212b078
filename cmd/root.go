// Package cmd implements the sdp command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sdpdash/config"
	"sdpdash/logging"
	"sdpdash/settings"
	"sdpdash/shell"
)

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

type app struct {
	configPath string
	debug      bool
}

// NewRootCmd builds the sdp command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "sdp",
		Short:         "Student data pipeline dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newGenerateCmd(a),
		newProcessCmd(a),
		newUploadCmd(a),
		newRunCmd(a),
		newReportCmd(a),
		newClassesCmd(a),
		newAnalyticsCmd(a),
		newExportCmd(a),
		newNotificationsCmd(a),
		newChangelogCmd(a),
		newSettingsCmd(a),
		newSearchCmd(a),
		newFeatureCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newInitCmd(a),
	)
	return root
}

// session is one opened shell plus what commands need to print.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	sh     *shell.Shell
	styles settings.Styles
}

func (a *app) open() (*session, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(a.debug || cfg.Debug)
	if err != nil {
		return nil, err
	}
	sh, err := shell.New(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{
		cfg:    cfg,
		logger: logger,
		sh:     sh,
		styles: sh.Settings.Theme().Styles(),
	}, nil
}

func (s *session) Close() {
	if err := s.sh.Close(); err != nil {
		s.logger.Warn("failed to close shell", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// withSession opens a session around fn.
func (a *app) withSession(fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := a.open()
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, args, s)
	}
}

func parseOnOff(v string) (bool, error) {
	switch v {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", v)
}
