package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BioHazard786/meshroom/internal/chat"
	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/mesh"
	"github.com/BioHazard786/meshroom/internal/rooms"
	"github.com/BioHazard786/meshroom/internal/rtc"
	"github.com/BioHazard786/meshroom/internal/signaling"
	"github.com/BioHazard786/meshroom/internal/ui"
	"github.com/BioHazard786/meshroom/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	flagName       string
	flagPeerID     string
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagForceRelay bool
	flagRetries    int
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room and chat with everyone in it",
	Long: `Join a room and open a peer-to-peer connection to every other member.

Without a room code a new room is created on the relay first.

Examples:
  meshroom join
  meshroom join amber-otter-fable-quartz
  meshroom join --name alice --relay amber-otter-fable-quartz
  meshroom join --domain relay.example.com --insecure lab-room`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var room string
		if len(args) == 1 {
			room = args[0]
		}
		return joinRoom(cmd.Context(), cmd, room)
	},
}

func joinRoom(ctx context.Context, cmd *cobra.Command, room string) error {
	opts := config.Options{
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagForceRelay,
	}
	if cmd.Flags().Changed("retries") {
		opts.ReconnectAttempts = &flagRetries
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logFile, err := sessionLogger()
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	if room == "" {
		stopSpinner := ui.RunSpinner("Creating room...")
		created, err := rooms.NewClient(cfg.APIURL).Create(ctx, 0)
		stopSpinner()
		if err != nil {
			return err
		}
		room = created.Code
		fmt.Println(ui.NewRoomInfo(room, joinCommand(room)).View())
		fmt.Println()
	}

	self := peerID(flagPeerID)
	name := flagName
	if name == "" {
		name = defaultName()
	}

	factory, err := rtc.NewFactory(cfg.RTC(), logger)
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}

	if cfg.Insecure {
		ui.PrintWarning("Signaling traffic to the relay is not encrypted (insecure mode)")
	}

	sp := ui.NewConnectionSpinner("Connecting to relay...")
	sp.Start()
	relayClient := signaling.NewClient(signaling.Options{
		URL:               cfg.WebSocketURL,
		PeerID:            self,
		Room:              room,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectBackoff:  cfg.ReconnectBackoff,
		Logger:            logger,
	})
	if err := relayClient.Connect(ctx); err != nil {
		sp.Stop()
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer relayClient.Close()

	sp.UpdateMessage(fmt.Sprintf("Joining room %s as %s...", room, name))
	session, err := mesh.NewSession(mesh.Options{
		LocalID: mesh.PeerID(self),
		Relay:   relayClient,
		Factory: factory,
		Logger:  logger,
	})
	if err != nil {
		sp.Stop()
		return err
	}
	client := chat.NewClient(session, name, version.Version, logger)
	sp.Success(fmt.Sprintf("Joined room %s as %s", room, name))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var sessionErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		sessionErr = session.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		client.Run(ctx)
	}()

	uiErr := ui.RunChat(client, room)
	cancel()
	wg.Wait()

	if uiErr != nil {
		return uiErr
	}
	if errors.Is(sessionErr, mesh.ErrRelayClosed) {
		return fmt.Errorf("lost the relay: %w", sessionErr)
	}
	return nil
}

// peerID returns the id to join with: the --id value, or a fresh UUIDv4.
func peerID(flag string) string {
	if id := strings.TrimSpace(flag); id != "" {
		return id
	}
	return uuid.NewString()
}

// joinCommand is what another user runs to join room on the same relay.
func joinCommand(room string) string {
	parts := []string{"meshroom", "join"}
	if flagDomain != "" {
		parts = append(parts, "--domain", flagDomain)
	}
	if flagInsecure {
		parts = append(parts, "--insecure")
	}
	return strings.Join(append(parts, room), " ")
}

func defaultName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "anon"
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name (default $USER)")
	joinCmd.Flags().StringVar(&flagPeerID, "id", "", "Peer id in the room (default a random UUID)")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagForceRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().IntVar(&flagRetries, "retries", config.DefaultReconnectAttempts, "Relay reconnect attempts")
}
