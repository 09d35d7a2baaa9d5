package cmd

import (
	"fmt"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/rooms"
	"github.com/BioHazard786/meshroom/internal/ui"
	"github.com/spf13/cobra"
)

var flagRoomSize int

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"r"},
	Short:   "Manage rooms on the relay",
	Long: `Create, list, inspect and delete rooms in the relay's registry.

Examples:
  meshroom rooms create --max-peers 4
  meshroom rooms list
  meshroom rooms show amber-otter-fable-quartz
  meshroom rooms delete amber-otter-fable-quartz`,
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Reserve a new room",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := roomsClient()
		if err != nil {
			return err
		}
		stopSpinner := ui.RunSpinner("Creating room...")
		room, err := client.Create(cmd.Context(), flagRoomSize)
		stopSpinner()
		if err != nil {
			return err
		}
		fmt.Println(ui.NewRoomInfo(room.Code, joinCommand(room.Code)).View())
		return nil
	},
}

var roomsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List rooms",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := roomsClient()
		if err != nil {
			return err
		}
		list, err := client.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			ui.PrintInfo("No rooms on this relay yet. Create one with: meshroom rooms create")
			return nil
		}
		fmt.Println(ui.RoomsTableView(list))
		return nil
	},
}

var roomsShowCmd = &cobra.Command{
	Use:   "show <room>",
	Short: "Show a room and its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := roomsClient()
		if err != nil {
			return err
		}
		room, err := client.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(ui.RoomDetailView(room))
		return nil
	},
}

var roomsDeleteCmd = &cobra.Command{
	Use:     "delete <room>",
	Aliases: []string{"rm"},
	Short:   "Delete a room you created",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := roomsClient()
		if err != nil {
			return err
		}
		if err := client.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		ui.PrintSuccessf("Deleted room %s", args[0])
		return nil
	},
}

func roomsClient() (*rooms.Client, error) {
	cfg, err := loadConfig(config.Options{})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return rooms.NewClient(cfg.APIURL), nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.AddCommand(roomsCreateCmd, roomsListCmd, roomsShowCmd, roomsDeleteCmd)

	roomsCreateCmd.Flags().IntVarP(&flagRoomSize, "max-peers", "m", 0, "Room capacity (default: relay default)")
}
