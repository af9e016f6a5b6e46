package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/koalatalk/koalatalk-go/internal/pager"
	"github.com/koalatalk/koalatalk-go/internal/store"
)

var flagPages int

func init() {
	historyCmd.Flags().IntVar(&flagPages, "pages", 1, "number of history windows to fetch")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [channel]",
	Short: "Print recent messages for a channel",
	Long: `Fetch the most recent history window for a channel and print it with
day separators. --pages fetches additional, older windows.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, err := setup()
		if err != nil {
			return err
		}
		channel := cfg.Client.DefaultChannel
		if len(args) == 1 {
			channel = args[0]
		}

		loc := time.Local
		if cfg.Client.Timezone != "" {
			if l, lerr := time.LoadLocation(cfg.Client.Timezone); lerr == nil {
				loc = l
			}
		}

		ctx := cmd.Context()
		alias, err := client.WhoAmI(ctx)
		if err != nil {
			return err
		}

		st := store.New(loc)
		pg := pager.New(client, st, cfg.Client.WindowDays)
		if err := pg.LoadInitial(ctx, channel, time.Now().Unix()); err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		for i := 1; i < flagPages && pg.HasMore(); i++ {
			if _, err := pg.LoadOlder(ctx); err != nil {
				return fmt.Errorf("load older: %w", err)
			}
		}

		for e := range st.Entries() {
			fmt.Println(formatEntry(e, alias))
		}
		if pg.HasMore() {
			fmt.Fprintln(os.Stderr, "(older history available)")
		}
		return nil
	},
}
