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

	"github.com/go-telegram/bot"
	"github.com/smith3v/couple-devotional/pkg/auth"
	"github.com/smith3v/couple-devotional/pkg/config"
	"github.com/smith3v/couple-devotional/pkg/content"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/devotional"
	"github.com/smith3v/couple-devotional/pkg/envelope"
	"github.com/smith3v/couple-devotional/pkg/gate"
	"github.com/smith3v/couple-devotional/pkg/httpapi"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"github.com/smith3v/couple-devotional/pkg/notify"
	"github.com/smith3v/couple-devotional/pkg/pairing"
	"github.com/smith3v/couple-devotional/pkg/plans"
	"github.com/smith3v/couple-devotional/pkg/progress"
	"github.com/smith3v/couple-devotional/pkg/timezone"
	"github.com/smith3v/couple-devotional/pkg/users"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var secureCookie bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cfg, secureCookie)
		},
	}
	cmd.Flags().BoolVar(&secureCookie, "secure-cookie", false, "mark the session cookie Secure")
	return cmd
}

func serve(cfg config.Config, secureCookie bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gdb, err := db.Open(cfg.Database, cfg.Logging)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	services, err := wire(ctx, cfg, gdb)
	if err != nil {
		return err
	}
	defer services.Sessions.Wait()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.New(services, httpapi.WithCORSOrigins(cfg.Server.CORSOrigins), httpapi.WithSecureCookie(secureCookie)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

func wire(ctx context.Context, cfg config.Config, gdb *gorm.DB) (httpapi.Services, error) {
	tz := timezone.New(cfg.Timezone.Offset())
	issuer, err := auth.NewIssuer(cfg.Security.JWTSecret, time.Duration(cfg.Security.TokenTTLHours)*time.Hour, nil)
	if err != nil {
		return httpapi.Services{}, err
	}
	env, err := envelope.New(cfg.Security.EncryptionMasterKey)
	if err != nil {
		return httpapi.Services{}, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	generator := content.FallbackGenerator{}
	planner := content.FallbackPlanner{}
	if cfg.Content.GeminiAPIKey != "" {
		gemini := content.NewGeminiGenerator(cfg.Content.GeminiAPIKey, cfg.Content.GeminiModel, httpClient)
		generator.Next = gemini
		planner.Next = gemini
	} else {
		logger.Warn("gemini api key not configured, serving the default devotional")
	}
	bible := content.NewBibleClient(cfg.Content.BibleAPIBaseURL, cfg.Content.BibleVersion, cfg.Content.BibleAPIToken, httpClient)

	notifier, err := newNotifier(ctx, cfg.Telegram, gdb)
	if err != nil {
		return httpapi.Services{}, err
	}

	userSvc := users.NewService(gdb, nil)
	ledger := progress.NewLedger(gdb, tz, nil)
	daily := gate.New(gdb, tz, nil)
	sessions := devotional.NewService(gdb, devotional.Deps{
		Envelope: env,
		Ledger:   ledger,
		Library:  content.NewLibrary(gdb, generator, bible),
		Gate:     daily,
		Premium:  userSvc,
		Notifier: notifier,
		Reward:   cfg.Rewards.XPPerCompletion,
	})

	return httpapi.Services{
		Auth:      issuer,
		Users:     userSvc,
		Pairing:   pairing.NewRegistry(gdb, userSvc),
		Sessions:  sessions,
		Ledger:    ledger,
		Gate:      daily,
		Plans:     plans.NewService(gdb, planner, userSvc),
		Suggester: content.Suggester{},
	}, nil
}

func newNotifier(ctx context.Context, cfg config.TelegramConfig, gdb *gorm.DB) (notify.Notifier, error) {
	if cfg.Token == "" {
		logger.Info("telegram token not configured, partner notifications disabled")
		return notify.Nop{}, nil
	}
	b, err := bot.New(cfg.Token, bot.WithDefaultHandler(notify.HandleStart))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	go b.Start(ctx)
	logger.Info("telegram notifications enabled")
	return notify.NewTelegramNotifier(gdb, notify.BotSender{B: b}), nil
}
