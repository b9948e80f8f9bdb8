// Command configgen writes and validates agrilink config files.
package main

import (
	"fmt"
	"os"

	"github.com/danmuck/agrilink/internal/config"
	"github.com/urfave/cli/v2"
)

func defaultPath(kind string) (string, error) {
	switch kind {
	case "node":
		return "cmd/nodectl/config.toml", nil
	case "ground":
		return "cmd/groundctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func main() {
	app := &cli.App{
		Name:  "configgen",
		Usage: "write or validate agrilink config templates",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Value: "node", Usage: "config kind: node|ground"},
			&cli.StringFlag{Name: "out", Usage: "output path (defaults to per-kind cmd path)"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing config file"},
			&cli.BoolFlag{Name: "validate", Usage: "validate an existing config file instead of writing"},
		},
		Action: func(c *cli.Context) error {
			kind := c.String("kind")
			target := c.String("out")
			if target == "" {
				p, err := defaultPath(kind)
				if err != nil {
					return err
				}
				target = p
			}
			if c.Bool("validate") {
				var err error
				switch kind {
				case "node":
					_, err = config.LoadNode(target)
				case "ground":
					_, err = config.LoadGround(target)
				default:
					err = fmt.Errorf("unknown kind: %s", kind)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Validated %s config at %s\n", kind, target)
				return nil
			}
			if err := config.WriteTemplate(target, kind, c.Bool("force")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Wrote %s config template to %s\n", kind, target)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
