package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/kms/cmd/app/commands"
	"github.com/allisson/kms/internal/app"
	kmsUsecase "github.com/allisson/kms/internal/kms/usecase"
)

func passwordEnvFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "password-env",
		Value: "ZK_PASSWORD",
		Usage: "Environment variable holding the password",
	}
}

func passwordFromEnv(cmd *cli.Command) ([]byte, error) {
	name := cmd.String("password-env")
	password, ok := os.LookupEnv(name)
	if !ok || password == "" {
		return nil, fmt.Errorf("environment variable %s is not set", name)
	}
	return []byte(password), nil
}

func getCryptoCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "encrypt",
			Usage: "Encrypt stdin with the active version of a managed key",
			Flags: []cli.Flag{nameFlag(), requesterFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, kms kmsUsecase.KeyManagementSystem) error {
						return commands.RunEncrypt(
							ctx,
							kms,
							container.Logger(),
							commands.DefaultIO(),
							cmd.String("name"),
							cmd.String("requester"),
						)
					},
				)
			},
		},
		{
			Name:  "decrypt",
			Usage: "Decrypt a managed ciphertext read from stdin",
			Flags: []cli.Flag{requesterFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithKeyManagementSystem(
					ctx,
					func(ctx context.Context, container *app.Container, kms kmsUsecase.KeyManagementSystem) error {
						return commands.RunDecrypt(
							ctx,
							kms,
							container.Logger(),
							commands.DefaultIO(),
							cmd.String("requester"),
						)
					},
				)
			},
		},
		{
			Name:  "encrypt-passphrase",
			Usage: "Encrypt the master passphrase read from stdin with an external KMS key",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "kms-key-uri",
					Required: true,
					Usage:    "KMS key URI (e.g., base64key://, gcpkms://projects/.../cryptoKeys/...)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.WithContainer(ctx, func(ctx context.Context, container *app.Container) error {
					return commands.RunEncryptPassphrase(
						ctx,
						container.KMSService(),
						commands.DefaultIO(),
						cmd.String("kms-key-uri"),
						container.Logger(),
					)
				})
			},
		},
		{
			Name:  "zk-encrypt",
			Usage: "Encrypt stdin under a password-derived key the server never stores",
			Flags: []cli.Flag{passwordEnvFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				password, err := passwordFromEnv(cmd)
				if err != nil {
					return err
				}
				return commands.WithContainer(ctx, func(ctx context.Context, container *app.Container) error {
					wrapper, err := container.ZeroKnowledgeWrapper()
					if err != nil {
						return err
					}
					return commands.RunZKEncrypt(wrapper, container.Logger(), commands.DefaultIO(), password)
				})
			},
		},
		{
			Name:  "zk-decrypt",
			Usage: "Decrypt a zero-knowledge result read from stdin",
			Flags: []cli.Flag{passwordEnvFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				password, err := passwordFromEnv(cmd)
				if err != nil {
					return err
				}
				return commands.WithContainer(ctx, func(ctx context.Context, container *app.Container) error {
					wrapper, err := container.ZeroKnowledgeWrapper()
					if err != nil {
						return err
					}
					return commands.RunZKDecrypt(wrapper, container.Logger(), commands.DefaultIO(), password)
				})
			},
		},
	}
}
