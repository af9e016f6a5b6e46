package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/koalatalk/koalatalk-go/internal/app"
	"github.com/koalatalk/koalatalk-go/internal/call"
	"github.com/koalatalk/koalatalk-go/internal/config"
	"github.com/koalatalk/koalatalk-go/internal/identity"
	"github.com/koalatalk/koalatalk-go/internal/pager"
	"github.com/koalatalk/koalatalk-go/internal/store"
	"github.com/koalatalk/koalatalk-go/internal/stream"
)

// noMedia is the terminal build's media source. Calls can be received,
// declined, and hung up; answering or placing one needs a media backend.
type noMedia struct{}

func (noMedia) Acquire(ctx context.Context) (call.LocalStream, error) {
	return nil, errors.New("no microphone backend in terminal mode")
}

type noNegotiator struct{}

func (noNegotiator) NewPeerConnection(local call.LocalStream, onRemoteTrack func()) (call.PeerConnection, error) {
	return nil, errors.New("no media engine in terminal mode")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, client, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	alias, err := client.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("session check: %w", err)
	}
	if alias == "" {
		return fmt.Errorf("not logged in; run `koalatalk login <id>` first")
	}
	userID, err := identity.DeviceID()
	if err != nil {
		return err
	}

	loc := time.Local
	if cfg.Client.Timezone != "" {
		if l, lerr := time.LoadLocation(cfg.Client.Timezone); lerr == nil {
			loc = l
		}
	}

	st := store.New(loc)
	archive := store.NewArchive(cachePath(cfg))
	pol := stream.Policy{Floor: cfg.Stream.BackoffFloor(), Cap: cfg.Stream.BackoffCap()}
	sc := client.StreamClient()

	renderer := newLineRenderer(os.Stdout, alias, loc)
	a := app.New(app.Options{
		Client:     client,
		Store:      st,
		Archive:    archive,
		Pager:      pager.New(client, st, cfg.Client.WindowDays),
		ChanStream: stream.NewChannelManager(cfg.Server.BaseURL, sc, pol),
		MetaStream: stream.NewMetaManager(cfg.Server.BaseURL, sc, pol),
		Calls: call.NewManager(client, noMedia{}, noNegotiator{}, call.Config{
			ConnectTimeout: cfg.Call.ConnectTimeout(),
			CandidateQueue: cfg.Call.CandidateQueue,
		}),
		Status:   statusLine{out: os.Stdout},
		Renderer: renderer,
		UserID:   userID,
		Channel:  cfg.Client.DefaultChannel,
	})

	runErr := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { runErr <- a.Run(runCtx) }()

	fmt.Printf("connected as %s; type /help for commands\n", alias)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				cancel()
				return <-runErr
			}
			if quit := dispatch(a, renderer, line); quit {
				cancel()
				return <-runErr
			}
		}
	}
}

// dispatch interprets one input line; slash commands drive the client,
// anything else is sent as a text message.
func dispatch(a *app.App, renderer *lineRenderer, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		a.SendText(line)
		return false
	}

	fields := strings.Fields(line)
	cmd, rest := fields[0], fields[1:]
	switch cmd {
	case "/help":
		fmt.Println(`/channels            list channels
/channel <key>       switch channel
/dm <alias>          open a direct-message channel
/older               load older history
/del <id>            delete one of your messages
/call <alias>        start a call
/accept  /decline    answer or reject a ringing call
/hangup              end the current call
/quit                exit`)
	case "/channels":
		for _, ch := range a.Channels() {
			fmt.Printf("  %s  %s\n", ch.Key, ch.Title)
		}
	case "/channel":
		if len(rest) != 1 {
			fmt.Println("usage: /channel <key>")
			return false
		}
		renderer.Reset()
		a.SwitchChannel(rest[0])
	case "/dm":
		if len(rest) != 1 {
			fmt.Println("usage: /dm <alias>")
			return false
		}
		renderer.Reset()
		a.StartDM(rest[0])
	case "/older":
		a.LoadOlder()
	case "/del":
		if len(rest) != 1 {
			fmt.Println("usage: /del <id>")
			return false
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			fmt.Println("bad message id")
			return false
		}
		a.DeleteMessage(id)
	case "/call":
		if len(rest) != 1 {
			fmt.Println("usage: /call <alias>")
			return false
		}
		a.StartCall(rest[0])
	case "/accept":
		a.AcceptCall()
	case "/decline":
		a.DeclineCall()
	case "/hangup":
		a.HangUp()
	case "/quit", "/exit":
		return true
	default:
		fmt.Printf("unknown command %s; /help lists commands\n", cmd)
	}
	return false
}

func cachePath(cfg *config.Config) string {
	if cfg.Cache.Path != "" {
		return cfg.Cache.Path
	}
	return filepath.Join(identity.Dir(), "messages.db")
}
