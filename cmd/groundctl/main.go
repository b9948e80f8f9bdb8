// Command groundctl runs the ground station and sends one-off commands.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/agrilink/internal/config"
	"github.com/danmuck/agrilink/internal/ground"
	"github.com/danmuck/agrilink/internal/link/udpradio"
	"github.com/danmuck/agrilink/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "cmd/groundctl/config.toml", Usage: "config file (.toml or .yaml)"}
}

func main() {
	app := &cli.App{
		Name:  "groundctl",
		Usage: "agrilink ground station",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the ground station until interrupted",
				Flags:  []cli.Flag{configFlag()},
				Action: runAction,
			},
			{
				Name:      "send-command",
				Usage:     "Map command text to its token and transmit it once",
				ArgsUsage: "<command text>",
				Flags: []cli.Flag{
					configFlag(),
					&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
				},
				Action: sendCommandAction,
			},
			{
				Name:   "commands",
				Usage:  "List the command table",
				Flags:  []cli.Flag{configFlag()},
				Action: listCommandsAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func open(path string, withStatus bool) (*ground.Service, *udpradio.Radio, error) {
	fc, err := config.LoadGround(path)
	if err != nil {
		return nil, nil, err
	}
	svcCfg, err := config.GroundService(fc)
	if err != nil {
		return nil, nil, err
	}
	if !withStatus {
		svcCfg.StatusAddr = ""
		svcCfg.Relay.BaseURL = ""
	}
	radio, err := udpradio.Open(fc.Radio.Listen, fc.Radio.Peer)
	if err != nil {
		return nil, nil, err
	}
	svc, err := ground.NewService(context.Background(), svcCfg, ground.Deps{Radio: radio})
	if err != nil {
		_ = radio.Close()
		return nil, nil, err
	}
	return svc, radio, nil
}

func runAction(c *cli.Context) error {
	logging.ConfigureRuntime()
	svc, radio, err := open(c.String("config"), true)
	if err != nil {
		return err
	}
	defer radio.Close()
	log.Info().Str("path", c.String("config")).Str("radio", radio.LocalAddr().String()).Msg("ground station started")
	return svc.Run()
}

func sendCommandAction(c *cli.Context) error {
	logging.ConfigureRuntime()
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("command text required")
	}
	svc, radio, err := open(c.String("config"), false)
	if err != nil {
		return err
	}
	defer radio.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	token, err := svc.SendCommand(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "sent %q as %s\n", text, token)
	return nil
}

func listCommandsAction(c *cli.Context) error {
	fc, err := config.LoadGround(c.String("config"))
	if err != nil {
		return err
	}
	svcCfg, err := config.GroundService(fc)
	if err != nil {
		return err
	}
	for text, token := range svcCfg.Commands {
		fmt.Fprintf(c.App.Writer, "%-4s %s\n", token, text)
	}
	return nil
}
