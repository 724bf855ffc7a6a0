package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vdstream/internal/config"
	"vdstream/internal/grid"
	"vdstream/internal/logger"
	"vdstream/internal/render"
	"vdstream/internal/viewer"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Accept a frame stream and render it in a window",
	Long: `Start the viewer: listen for one producer connection and render its
frames into an X11 window. The window follows the stream's geometry.`,
	Example: `  # Listen on the configured port (default 4513)
  vdstream view

  # Listen on a custom port
  vdstream view --port 9000`,
	RunE: runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)
	viewCmd.Flags().Int("port", 0, "listen port (overrides config)")
	viper.BindPFlag("listen_port", viewCmd.Flags().Lookup("port"))
}

func runView(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg := configMgr.Get()

	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		cfg.LogLevel = viper.GetString("log_level")
	}
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))

	port := cfg.ListenPort
	if viper.GetInt("listen_port") > 0 {
		port = viper.GetInt("listen_port")
	}

	// The window opens at the configured target geometry and follows the
	// stream from the first frame on.
	window, err := render.NewWindow(cfg.WindowTitle, grid.Geometry{
		Width:  cfg.Target.Width,
		Height: cfg.Target.Height,
	})
	if err != nil {
		return fmt.Errorf("failed to create viewer window: %w", err)
	}
	defer window.Close()

	server := viewer.NewServer(window)
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log := logger.WithComponent("view")
	log.Info().Int("port", port).Msg("Viewer running, waiting for a producer")

	select {
	case err := <-errChan:
		return fmt.Errorf("viewer server failed: %w", err)
	case <-sigChan:
		log.Info().Msg("Shutting down")
		return nil
	}
}
