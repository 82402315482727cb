package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scribelog/scribec/client"
	"github.com/scribelog/scribec/internal"
	"github.com/scribelog/scribec/scribe"
)

var WriteCmd = &cobra.Command{
	Use:     "write [messages]",
	Aliases: []string{"w"},
	Short:   "Forward messages to the collector",
	Long: `Forwards messages to the collector under the configured category.
Messages come from the arguments, or from stdin one per line when no
arguments are given.`,
	Run: func(cmd *cobra.Command, args []string) {
		internal.Debugf(tmpConfig, "%+v", tmpConfig)
		if err := doWrite(args); err != nil {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
			os.Exit(1)
		}
	},
}

func doWrite(args []string) error {
	c := client.New(tmpConfig)
	defer c.Close()

	if len(args) > 0 {
		return logAndReport(c, args)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		if err := logAndReport(c, []string{scanner.Text()}); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func logAndReport(c *client.Client, messages []string) error {
	code, err := c.Log(tmpConfig.Category, messages...)
	if err != nil {
		return err
	}
	if code != scribe.OK {
		fmt.Fprintf(os.Stderr, "collector replied %s\n", code)
	}
	return nil
}
