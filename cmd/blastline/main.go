package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mkadyrov/blastline/internal/api"
	"github.com/mkadyrov/blastline/internal/config"
	"github.com/mkadyrov/blastline/internal/dispatch"
	"github.com/mkadyrov/blastline/internal/gateway"
	"github.com/mkadyrov/blastline/internal/models"
	"github.com/mkadyrov/blastline/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "blastline",
		Short: "Blastline bulk messaging campaign backend",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(contactCmd(&configPath))
	rootCmd.AddCommand(campaignCmd(&configPath))
	rootCmd.AddCommand(statusCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Blastline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			client := gateway.NewBridgeClient(cfg.Gateway.BridgeURL, cfg.Gateway.Timeout, cfg.Gateway.MinSendInterval, log)
			dispatcher := dispatch.New(cfg.Dispatch, store, client, log)

			if cfg.Dispatch.ReconcileOnStart {
				if err := dispatcher.Reconcile(context.Background()); err != nil {
					return fmt.Errorf("failed to reconcile interrupted campaigns: %w", err)
				}
			}

			server := api.NewServer(cfg.Server, store, dispatcher, client, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("bridge", cfg.Gateway.BridgeURL).
				Str("storage", cfg.Storage.Driver).
				Msg("Blastline is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			// Aborts any in-flight campaign; its remainder finalizes as
			// cancelled rather than hanging the shutdown.
			dispatcher.Shutdown()

			log.Info().Msg("Blastline stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Println("migrations completed successfully")
			return nil
		},
	}
}

func contactCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Manage contacts",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			name, _ := cmd.Flags().GetString("name")
			if phone == "" {
				return fmt.Errorf("--phone is required")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			c := &models.Contact{
				ID:        models.NewID("ct"),
				Phone:     phone,
				Name:      name,
				CreatedAt: now,
				UpdatedAt: now,
			}

			if err := store.CreateContact(context.Background(), c); err != nil {
				return fmt.Errorf("failed to create contact: %w", err)
			}

			out, _ := json.MarshalIndent(c, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	addCmd.Flags().String("phone", "", "contact phone number")
	addCmd.Flags().String("name", "", "contact display name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			contacts, err := store.ListContacts(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list contacts: %w", err)
			}

			if len(contacts) == 0 {
				fmt.Println("No contacts found.")
				return nil
			}

			for _, c := range contacts {
				fmt.Printf("  %s  %-16s  %s\n", c.ID, c.Phone, c.Name)
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

func campaignCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Manage campaigns",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			body, _ := cmd.Flags().GetString("body")
			if name == "" || body == "" {
				return fmt.Errorf("--name and --body are required")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			c := &models.Campaign{
				ID:        models.NewID("cmp"),
				Name:      name,
				Body:      body,
				Status:    models.CampaignDraft,
				CreatedAt: now,
				UpdatedAt: now,
			}

			if err := store.CreateCampaign(context.Background(), c); err != nil {
				return fmt.Errorf("failed to create campaign: %w", err)
			}

			out, _ := json.MarshalIndent(c, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "campaign name")
	createCmd.Flags().String("body", "", "message body")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			campaigns, err := store.ListCampaigns(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list campaigns: %w", err)
			}

			if len(campaigns) == 0 {
				fmt.Println("No campaigns found.")
				return nil
			}

			for _, c := range campaigns {
				fmt.Printf("  %s  %-24s  %-22s  sent=%d failed=%d of %d\n",
					c.ID, c.Name, c.Status, c.SentCount, c.FailedCount, c.TotalRecipients)
			}
			return nil
		},
	}

	sendCmd := &cobra.Command{
		Use:   "send <campaign_id>",
		Short: "Dispatch a campaign and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: blastline campaign send <campaign_id>")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			client := gateway.NewBridgeClient(cfg.Gateway.BridgeURL, cfg.Gateway.Timeout, cfg.Gateway.MinSendInterval, log)
			dispatcher := dispatch.New(cfg.Dispatch, store, client, log)

			if err := dispatcher.Dispatch(context.Background(), args[0]); err != nil {
				return fmt.Errorf("dispatch rejected: %w", err)
			}
			dispatcher.Wait()

			camp, err := store.GetCampaign(context.Background(), args[0])
			if err != nil || camp == nil {
				return fmt.Errorf("failed to load campaign result: %w", err)
			}

			out, _ := json.MarshalIndent(camp, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, sendCmd)
	return cmd
}

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway session state and delivery stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			client := gateway.NewBridgeClient(cfg.Gateway.BridgeURL, cfg.Gateway.Timeout, cfg.Gateway.MinSendInterval, log)

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			fmt.Printf("gateway: %s\n", client.State())
			if code := client.PairingCode(); code != "" {
				fmt.Printf("pairing code: %s\n", code)
			}
			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Blastline v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
