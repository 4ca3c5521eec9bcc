package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "eventsctl",
		Usage: "Provision, feed and consume topic fan-out queues",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Consume the given queues until interrupted",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "publish",
				Usage:  "Publish a payload to the topic",
				Flags:  publishFlags(),
				Action: publish,
			},
			{
				Name:   "send",
				Usage:  "Send a payload directly to a queue",
				Flags:  sendFlags(),
				Action: send,
			},
			{
				Name:   "remove",
				Usage:  "Delete the given queues and optionally the topic",
				Flags:  removeFlags(),
				Action: remove,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
