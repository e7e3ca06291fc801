package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/kms/cmd/app/commands"
	"github.com/allisson/kms/internal/app"
	kmsUsecase "github.com/allisson/kms/internal/kms/usecase"
)

func getKeyCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create-key",
			Usage: "Create version 1 of a new managed key",
			Flags: []cli.Flag{nameFlag(), requesterFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, kms kmsUsecase.KeyManagementSystem) error {
						return commands.RunCreateKey(
							ctx,
							kms,
							container.Logger(),
							commands.DefaultIO().Writer,
							cmd.String("name"),
							cmd.String("requester"),
							cmd.String("format"),
						)
					},
				)
			},
		},
		{
			Name:  "rotate-key",
			Usage: "Create a new active version of a managed key",
			Flags: []cli.Flag{nameFlag(), requesterFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, kms kmsUsecase.KeyManagementSystem) error {
						return commands.RunRotateKey(
							ctx,
							kms,
							container.Logger(),
							commands.DefaultIO().Writer,
							cmd.String("name"),
							cmd.String("requester"),
							cmd.String("format"),
						)
					},
				)
			},
		},
		{
			Name:  "delete-key",
			Usage: "Soft delete one version of a managed key, or every version",
			Flags: []cli.Flag{
				nameFlag(),
				&cli.UintFlag{
					Name:    "version",
					Aliases: []string{"v"},
					Value:   0,
					Usage:   "Version to delete; 0 deletes every version",
				},
				requesterFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, kms kmsUsecase.KeyManagementSystem) error {
						return commands.RunDeleteKey(
							ctx,
							kms,
							container.Logger(),
							commands.DefaultIO().Writer,
							cmd.String("name"),
							uint(cmd.Uint("version")),
							cmd.String("requester"),
						)
					},
				)
			},
		},
		{
			Name:  "list-keys",
			Usage: "List metadata of every live key version",
			Flags: []cli.Flag{requesterFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, _ *app.Container, kms kmsUsecase.KeyManagementSystem) error {
						return commands.RunListKeys(
							ctx,
							kms,
							commands.DefaultIO().Writer,
							cmd.String("requester"),
							cmd.String("format"),
						)
					},
				)
			},
		},
	}
}
