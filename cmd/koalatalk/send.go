package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koalatalk/koalatalk-go/internal/api"
	"github.com/koalatalk/koalatalk-go/internal/identity"
	"github.com/koalatalk/koalatalk-go/internal/model"
)

var (
	flagFile  string
	flagVoice string
)

func init() {
	sendCmd.Flags().StringVar(&flagFile, "file", "", "upload a file instead of text")
	sendCmd.Flags().StringVar(&flagVoice, "voice", "", "upload an audio file as a voice message")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Send a message to a channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := setup()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		alias, err := client.WhoAmI(ctx)
		if err != nil {
			return err
		}
		if alias == "" {
			return fmt.Errorf("not logged in")
		}
		userID, err := identity.DeviceID()
		if err != nil {
			return err
		}
		channel := cfg.Client.DefaultChannel

		switch {
		case flagFile != "":
			return uploadFrom(cmd, client, channel, alias, userID, "upload", flagFile)
		case flagVoice != "":
			return uploadFrom(cmd, client, channel, alias, userID, "audio", flagVoice)
		}

		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return fmt.Errorf("nothing to send")
		}
		msg, err := client.PostMessage(ctx, api.PostMessageRequest{
			Channel: channel,
			Alias:   alias,
			UserID:  userID,
			Type:    model.TypeText,
			Text:    text,
		})
		if err != nil {
			return err
		}
		fmt.Printf("sent #%d to %s\n", msg.ID, channel)
		return nil
	},
}

func uploadFrom(cmd *cobra.Command, client *api.Client, channel, alias, userID, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	msg, err := client.Upload(cmd.Context(), channel, alias, userID, field, filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Printf("sent #%d (%s) to %s\n", msg.ID, msg.Type, channel)
	return nil
}
