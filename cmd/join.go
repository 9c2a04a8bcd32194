package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/duet/internal/config"
	"github.com/BioHazard786/duet/internal/discovery"
	"github.com/BioHazard786/duet/internal/media"
	"github.com/BioHazard786/duet/internal/roomname"
	"github.com/BioHazard786/duet/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagServer   string
	flagEvent    string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagDiscover bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room, creating it when nobody is there yet",
	Long: `Join a room on the signaling server. The first peer in a room becomes the
initiator; the second joins it and answers. A random room name is generated
when none is given.

Examples:
  duet join
  duet join sleepy-otter-comet
  duet join --server wss://relay.example.org/ws my-room
  duet join --discover my-room`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := roomname.Generate()
		if len(args) == 1 {
			room = args[0]
		}
		return joinRoom(cmd.Context(), room)
	},
}

func joinRoom(ctx context.Context, room string) error {
	opts := config.Options{
		Server:       flagServer,
		MessageEvent: flagEvent,
		STUNServer:   flagSTUN,
		TURNServer:   flagTURN,
		TURNUser:     flagTURNUser,
		TURNPass:     flagTURNPass,
		ForceRelay:   flagRelay,
	}
	if flagDiscover {
		server, err := discoverServer(ctx)
		if err != nil {
			return err
		}
		opts.Server = server
	}

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	fmt.Println(ui.NewRoomInfo(room, cfg.Server).View())

	view := ui.NewSessionUI(room)
	sess, err := NewSession(cfg, room, view)
	if err != nil {
		return err
	}

	view.Start()
	sess.Start()
	defer sess.Close()

	summary := ui.SessionSummary{Room: room, ClientID: sess.Client.ID()}
	hello, err := waitForGreeting(ctx, sess, view)
	view.Stop()
	summary.Role = sess.Client.Role().String()
	if err != nil {
		summary.Status = "failed"
		summary.Duration = time.Since(sess.Started).Round(time.Millisecond).String()
		ui.RenderSessionSummary(summary)
		return err
	}
	if hello == nil {
		ui.PrintInfo("Left the room before a peer arrived.")
		return nil
	}

	summary.Peer = sess.Client.PeerID()
	summary.Device = fmt.Sprintf("%s (%s)", hello.DeviceName, hello.DeviceVersion)
	summary.Status = "connected"
	summary.Duration = time.Since(sess.Started).Round(time.Millisecond).String()
	ui.RenderSessionSummary(summary)

	ui.PrintSuccess("Session is up. Press Ctrl+C to leave.")
	select {
	case <-ctx.Done():
	case <-sess.Engine.Done():
		if err := sess.Engine.Err(); err != nil && !errors.Is(err, media.ErrPeerLeft) {
			return err
		}
		ui.PrintWarning("Peer left the session.")
	}
	return nil
}

// waitForGreeting blocks until the peer greets. A nil greeting with a nil
// error means the user left first.
func waitForGreeting(ctx context.Context, sess *Session, view *ui.SessionUI) (*media.Hello, error) {
	select {
	case h := <-sess.Engine.Greeting():
		view.SetPeer(h.DeviceName, h.DeviceVersion)
		return &h, nil
	case <-sess.Engine.Done():
		err := sess.Engine.Err()
		if err == nil {
			err = media.ErrConnectionFailed
		}
		view.Fail(err)
		return nil, err
	case <-sess.Unreachable():
		err := fmt.Errorf("%w: %s", ErrUnreachable, sess.Config.Server)
		view.Fail(err)
		return nil, err
	case <-view.Interrupted():
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}
}

func discoverServer(ctx context.Context) (string, error) {
	sp := ui.NewSearchSpinner("Looking for a relay on the local network...")
	sp.Start()

	ctx, cancel := context.WithTimeout(ctx, discovery.DefaultBrowseTimeout)
	defer cancel()

	relay, err := discovery.Find(ctx)
	if err != nil {
		sp.Error("No relay found on the local network")
		return "", err
	}
	sp.Success(fmt.Sprintf("Found relay %s", relay.Instance))
	return relay.URL(), nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagServer, "server", "", "Signaling server websocket URL")
	joinCmd.Flags().StringVarP(&flagEvent, "event", "e", "", "Message event name")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN servers, comma separated")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().BoolVarP(&flagDiscover, "discover", "d", false, "Find a relay on the local network via mDNS")
	joinCmd.MarkFlagsMutuallyExclusive("server", "discover")
}
