package main

import (
	"github.com/urfave/cli/v3"
)

func getCommands(version string) []*cli.Command {
	cmds := []*cli.Command{}
	cmds = append(cmds, getSystemCommands(version)...)
	cmds = append(cmds, getKeyCommands()...)
	cmds = append(cmds, getCryptoCommands()...)
	return cmds
}

func requesterFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "requester",
		Aliases: []string{"r"},
		Value:   "admin",
		Usage:   "Identity checked against ACCESS_POLICIES",
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func nameFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "name",
		Aliases:  []string{"n"},
		Required: true,
		Usage:    "Managed key name (e.g., payments/card-data)",
	}
}
