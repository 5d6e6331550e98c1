// Command unuxt-sweeper runs the periodic maintenance jobs: expiring overdue
// invitations and purging dead sessions and login tokens. The API handles
// each of these lazily on access; the sweeper keeps the tables from
// accumulating rows nobody will touch again.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/unuxt/unuxt/pkg/auth"
	"github.com/unuxt/unuxt/pkg/config"
	"github.com/unuxt/unuxt/pkg/observability"
	"github.com/unuxt/unuxt/pkg/orgs"
	"github.com/unuxt/unuxt/pkg/storage/postgres"
)

const sweepSchedule = "*/15 * * * *"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	users := auth.NewPostgresService(db)
	organizations := orgs.NewPostgresService(db, logger, nil, cfg.Auth.InvitationTTL)

	sweep := func() {
		if n, err := organizations.ExpireInvitations(ctx); err != nil {
			logger.WithError(err).Error("failed to expire invitations")
		} else if n > 0 {
			logger.WithField("count", n).Info("expired invitations")
		}

		if n, err := users.PurgeExpiredSessions(ctx); err != nil {
			logger.WithError(err).Error("failed to purge sessions")
		} else if n > 0 {
			logger.WithField("count", n).Info("purged expired sessions")
		}

		if n, err := users.PurgeExpiredLoginTokens(ctx); err != nil {
			logger.WithError(err).Error("failed to purge login tokens")
		} else if n > 0 {
			logger.WithField("count", n).Info("purged login tokens")
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(sweepSchedule, sweep); err != nil {
		logger.WithError(err).Error("failed to schedule sweep")
		os.Exit(1)
	}

	// One pass at startup so a crash-looping sweeper still makes progress.
	sweep()

	scheduler.Start()
	logger.WithField("schedule", sweepSchedule).Info("sweeper running")

	<-ctx.Done()
	<-scheduler.Stop().Done()
}
