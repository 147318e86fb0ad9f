// Package main API Server 入口
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eagle-task/api"
	"eagle-task/internal/apiserver/server"
	"eagle-task/internal/config"
	"eagle-task/pkg/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "api-server",
		Short:         "eagle-task relay between Canvas and the chat-completion API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "config directory (overrides CONFIG_DIR)")
	rootCmd.Flags().StringP("port", "p", "", "listen port (overrides api_server.port)")

	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if dir, _ := cmd.Flags().GetString("config"); dir != "" {
		config.SetConfigDir(dir)
	}
	return config.Load()
}

// newConfigCmd 打印生效配置并校验 OpenAPI 文档
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := api.Load(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(cfg.String())
			if cfg.LoadedFrom != "" {
				fmt.Println("loaded from", cfg.LoadedFrom)
			}
			return nil
		},
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.APIServer.Port = port
	}

	log := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    "stdout",
		Component: "api-server",
	})
	log.Info().Str("env", string(cfg.Env)).Msg("Starting API Server...")
	log.Info().Str("config", cfg.String()).Msg("Config loaded")

	if _, err := api.Load(cmd.Context()); err != nil {
		return err
	}

	h, err := server.NewHandler(cfg, log, nil)
	if err != nil {
		return fmt.Errorf("init handler: %w", err)
	}
	defer h.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.APIServer.Port,
		Handler:      h.Router(),
		ReadTimeout:  cfg.APIServer.ReadTimeout,
		WriteTimeout: cfg.APIServer.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("API Server listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-done

	log.Info().Msg("Server stopped")
	return nil
}
