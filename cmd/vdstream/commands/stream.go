package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vdstream/internal/capture"
	"vdstream/internal/compose"
	"vdstream/internal/config"
	"vdstream/internal/grid"
	"vdstream/internal/logger"
	"vdstream/internal/session"
	"vdstream/internal/transport"
)

var (
	streamDemo        bool
	streamFramebuffer string
)

var streamCmd = &cobra.Command{
	Use:   "stream ENDPOINT",
	Short: "Stream framebuffer frames to a viewer",
	Long: `Stream frames from the configured framebuffer snapshot file to a viewer
websocket endpoint. The session reconnects on transport failures and
terminates when the framebuffer disappears or the reconnect budget is
exhausted.`,
	Example: `  # Stream the configured framebuffer to a viewer
  vdstream stream ws://viewer.local:4513/session

  # Stream a synthetic test pattern instead of a real framebuffer
  vdstream stream --demo ws://localhost:4513/session

  # Override the framebuffer snapshot path
  vdstream stream --framebuffer /tmp/xvfb/Xvfb_screen0 ws://localhost:4513/session`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.Flags().BoolVar(&streamDemo, "demo", false, "stream a synthetic test pattern")
	streamCmd.Flags().StringVar(&streamFramebuffer, "framebuffer", "", "framebuffer snapshot file (overrides config)")
}

func runStream(cmd *cobra.Command, args []string) error {
	endpoint := args[0]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg := configMgr.Get()

	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		cfg.LogLevel = viper.GetString("log_level")
	}
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))

	capturer, err := buildCapturer(cfg)
	if err != nil {
		return err
	}

	sess := session.New(session.Config{
		Endpoint:             endpoint,
		SamplingPeriod:       cfg.SamplingPeriod.Std(),
		DiffThreshold:        cfg.DiffThreshold,
		MaxStaleness:         cfg.MaxStaleness.Std(),
		ReconnectBackoff:     cfg.ReconnectBackoff.Std(),
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, session.Deps{
		Capturer:   capturer,
		Compositor: compose.New(cfg.ResizeInterpolation),
		Dialer: &transport.WebsocketDialer{
			ConnectTimeout: cfg.ConnectTimeout.Std(),
			WriteTimeout:   cfg.WriteTimeout.Std(),
		},
		Geometry: session.NewStaticGeometry(grid.Geometry{
			Width:  cfg.Target.Width,
			Height: cfg.Target.Height,
		}),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = sess.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildCapturer(cfg *config.Config) (capture.Capturer, error) {
	if streamDemo {
		return capture.NewDemoSource(cfg.Target.Width*2, cfg.Target.Height*2), nil
	}
	path := cfg.FramebufferPath
	if streamFramebuffer != "" {
		path = streamFramebuffer
	}
	if path == "" {
		return nil, fmt.Errorf("no framebuffer path configured (set framebuffer_path or pass --framebuffer or --demo)")
	}
	return capture.NewFramebufferCapturer(path), nil
}
