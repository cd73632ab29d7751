package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleeteye/internal/agent"
	"github.com/fleeteye/internal/alert"
	"github.com/fleeteye/internal/api"
	"github.com/fleeteye/internal/auth"
	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/database"
	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/models"
	"github.com/fleeteye/internal/monitor"
	"github.com/fleeteye/internal/notify"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "fleeteye",
		Short: "Server fleet monitoring and alerting",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory containing config.yaml")

	root.AddCommand(serveCmd(), agentCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level)
			log := logger.WithComponent("main")

			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer database.Close(db)

			provider := config.NewProvider(cfg)
			provider.Watch(configPath)

			dispatcher := notify.NewDispatcher(buildChannels(cfg)...)
			store := alert.NewStore(db)
			manager := alert.NewManager(store, provider, dispatcher, serverNameResolver(db))
			ingestor := monitor.NewIngestor(db, manager, provider)

			sweeper := monitor.NewSweeper(db, manager, provider)
			if err := sweeper.Start(time.Duration(cfg.Offline.SweepSeconds) * time.Second); err != nil {
				return err
			}
			defer sweeper.Stop()

			server := api.NewServer(db, store, ingestor, cfg.Server.JWTSecret)
			log.Info().Int("port", cfg.Server.Port).Msg("starting api server")
			return server.Start(cfg.Server.Port)
		},
	}
}

func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the host metrics agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = agent.New(cfg.Agent).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject, role string
	var ttlHours int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}
			token, err := auth.GenerateToken(cfg.Server.JWTSecret, subject, role, time.Duration(ttlHours)*time.Hour)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "token role (operator or agent)")
	cmd.Flags().IntVar(&ttlHours, "ttl", 24*30, "token lifetime in hours")
	return cmd
}

func buildChannels(cfg *config.Config) []notify.Notifier {
	var channels []notify.Notifier
	if cfg.Notify.Slack.Token != "" {
		channels = append(channels, notify.NewSlackNotifier(cfg.Notify.Slack.Token, cfg.Notify.Slack.Channel))
	}
	if cfg.Notify.Email.SMTPHost != "" {
		channels = append(channels, notify.NewEmailNotifier(
			cfg.Notify.Email.SMTPHost,
			cfg.Notify.Email.SMTPPort,
			cfg.Notify.Email.From,
			cfg.Notify.Email.Password,
			cfg.Notify.Email.ToReceivers,
		))
	}
	if cfg.Notify.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhookNotifier(
			cfg.Notify.Webhook.URL,
			time.Duration(cfg.Notify.Webhook.TimeoutSeconds)*time.Second,
		))
	}
	return channels
}

func serverNameResolver(db *gorm.DB) alert.NameResolver {
	return func(serverID string) string {
		var server models.Server
		if err := db.Select("name").First(&server, "server_id = ?", serverID).Error; err != nil || server.Name == "" {
			return serverID
		}
		return server.Name
	}
}
