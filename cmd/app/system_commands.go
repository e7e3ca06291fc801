package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/allisson/kms/cmd/app/commands"
	"github.com/allisson/kms/internal/app"
	kmsUsecase "github.com/allisson/kms/internal/kms/usecase"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Start the health, readiness and metrics server with the rotation scheduler",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, _ kmsUsecase.KeyManagementSystem) error {
						logger := container.Logger()
						logger.Info("starting server", slog.String("version", version))

						server, err := container.HTTPServer()
						if err != nil {
							return err
						}
						scheduler, err := container.RotationScheduler()
						if err != nil {
							return err
						}

						return commands.RunServe(ctx, scheduler, server, logger, container.Config().DBConnMaxLifetime)
					},
				)
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithContainer(ctx, func(ctx context.Context, container *app.Container) error {
					db, err := container.DB()
					if err != nil {
						return err
					}
					return commands.RunMigrations(db, container.Config().DBDriver, container.Logger())
				})
			},
		},
		{
			Name:  "init",
			Usage: "Bootstrap or verify the master key",
			Flags: []cli.Flag{requesterFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, kms kmsUsecase.KeyManagementSystem) error {
						return commands.RunInit(
							ctx,
							kms,
							container.Logger(),
							commands.DefaultIO().Writer,
							cmd.String("requester"),
						)
					},
				)
			},
		},
		{
			Name:  "sweep",
			Usage: "Rotate every active key past its expiry",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, kms kmsUsecase.KeyManagementSystem) error {
						return commands.RunSweep(ctx, kms, container.Logger(), commands.DefaultIO().Writer)
					},
				)
			},
		},
		{
			Name:  "verify-audit-records",
			Usage: "Verify HMAC signatures of persisted audit records",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "limit",
					Aliases: []string{"l"},
					Value:   1000,
					Usage:   "Number of most recent records to verify",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, _ kmsUsecase.KeyManagementSystem) error {
						lister, err := container.AuditRecordLister()
						if err != nil {
							return err
						}
						return commands.RunVerifyAuditRecords(
							ctx,
							lister,
							container.AuditSigner(),
							container.Logger(),
							commands.DefaultIO().Writer,
							int(cmd.Int("limit")),
							cmd.String("format"),
						)
					},
				)
			},
		},
	}
}
