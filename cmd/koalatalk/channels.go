package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(channelsCmd)
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the channels visible to this session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := setup()
		if err != nil {
			return err
		}
		chans, err := client.ListChannels(cmd.Context())
		if err != nil {
			return err
		}
		for _, ch := range chans {
			line := fmt.Sprintf("%-24s %s", ch.Key, ch.Title)
			if ch.IsDM() {
				line += " [" + strings.Join(ch.Members, ", ") + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}
