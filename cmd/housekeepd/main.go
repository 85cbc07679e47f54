package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"housekeeping-sync/config"
	"housekeeping-sync/internal/auth"
	"housekeeping-sync/internal/backend"
	"housekeeping-sync/internal/daemon"
	"housekeeping-sync/internal/db"
	"housekeeping-sync/internal/store"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "housekeepd",
		Short:         "Realtime room-state sync for housekeeping",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $CONFIG_PATH or ./config/config.yaml)")

	load := func() (*config.Config, error) {
		path := configPath
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}
		if path == "" {
			path = "./config/config.yaml" // Default path for local development
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		return cfg, nil
	}

	root.AddCommand(serveCmd(load), loginCmd(load), logoutCmd(load), statusCmd(load))

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "housekeepd:", err)
		os.Exit(1)
	}
}

type loader func() (*config.Config, error)

func serveCmd(load loader) *cobra.Command {
	var port int
	var visible bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon and its local API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stdout, "housekeepd ", log.LstdFlags)

			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("visible") {
				cfg.Server.StartVisible = visible
			}
			logger.Printf("configuration loaded, backend %s", cfg.Backend.URL)

			gormDB, err := db.Init(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			logger.Println("database initialized successfully")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			d, err := daemon.New(ctx, cfg, gormDB)
			if err != nil {
				return err
			}
			done := make(chan struct{})
			go func() {
				d.Run(ctx)
				close(done)
			}()

			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
				Handler: d.Router,
			}
			go func() {
				logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatalf("HTTP server ListenAndServe: %v", err)
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			logger.Println("Shutdown signal received, stopping services...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Printf("HTTP server Shutdown: %v", err)
			}
			cancel()
			<-done

			logger.Println("Server gracefully stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "local API port (overrides server.port)")
	cmd.Flags().BoolVar(&visible, "visible", false, "open the realtime channel without waiting for a front end")
	return cmd
}

// session opens the persisted session without starting the daemon.
func session(ctx context.Context, cfg *config.Config) (*auth.Provider, error) {
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	client := backend.New(cfg.Backend)
	p := auth.New(client, store.NewGormStore(gormDB))
	client.SetTokenSource(p)
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func loginCmd(load loader) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("HOUSEKEEPD_PASSWORD")
			}
			p, err := session(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := p.Login(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", p.Username())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $HOUSEKEEPD_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func logoutCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			p, err := session(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := p.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func statusCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			p, err := session(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !p.Authenticated() {
				fmt.Fprintln(out, "not signed in")
				return nil
			}
			fmt.Fprintf(out, "signed in as %s\n", p.Username())
			if f := p.LockedFloor(); f != nil {
				fmt.Fprintf(out, "locked floor: %s\n", *f)
			}
			_, err = p.EnsureValidToken(cmd.Context())
			switch {
			case errors.Is(err, auth.ErrLoggedOut):
				fmt.Fprintln(out, "session expired and could not be refreshed")
			case err != nil:
				return err
			default:
				fmt.Fprintln(out, "token valid")
			}
			return nil
		},
	}
}
