// Command nodectl runs the field node.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/agrilink/internal/bus"
	"github.com/danmuck/agrilink/internal/config"
	"github.com/danmuck/agrilink/internal/field"
	"github.com/danmuck/agrilink/internal/link/udpradio"
	"github.com/danmuck/agrilink/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "nodectl",
		Usage: "agrilink field node",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the field node until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "cmd/nodectl/config.toml", Usage: "config file (.toml or .yaml)"},
				},
				Action: runAction,
			},
			{
				Name:  "validate",
				Usage: "Load and validate a config file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "cmd/nodectl/config.toml"},
				},
				Action: func(c *cli.Context) error {
					if _, err := config.LoadNode(c.String("config")); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "valid node config: %s\n", c.String("config"))
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	logging.ConfigureRuntime()
	path := c.String("config")
	fc, err := config.LoadNode(path)
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("loaded node config")

	svcCfg, err := config.NodeService(fc)
	if err != nil {
		return err
	}
	radio, err := udpradio.Open(fc.Radio.Listen, fc.Radio.Peer)
	if err != nil {
		return err
	}
	defer radio.Close()

	deps := field.Deps{Radio: radio}
	if strings.TrimSpace(fc.Bus.Listen) != "" {
		pc, err := config.NodeBus(fc)
		if err != nil {
			return err
		}
		peer, err := bus.Listen(pc)
		if err != nil {
			return err
		}
		defer peer.Close()
		deps.Bus = peer
	}
	if p := strings.TrimSpace(fc.Ground.Path); p != "" {
		deps.Ground = &field.FileGroundSource{Path: p}
	}

	svc, err := field.NewService(svcCfg, deps)
	if err != nil {
		return err
	}
	log.Info().Str("id", svcCfg.NodeID).Str("radio", radio.LocalAddr().String()).Msg("field node started")
	return svc.Run()
}
