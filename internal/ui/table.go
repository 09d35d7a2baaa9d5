package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BioHazard786/meshroom/internal/chat"
	"github.com/BioHazard786/meshroom/internal/rooms"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	pretty "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func styledTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// PeerTableView renders mesh members and their negotiation state.
func PeerTableView(peers []chat.PeerRow) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No other peers in the room")
	}

	headers := []string{"Name", "ID", "Role", "State", "Cands", "Error"}
	var rows [][]string
	for _, p := range peers {
		state := p.State
		if state == "" {
			state = p.Status
		}
		rows = append(rows, []string{
			truncate(p.Name, 20),
			chat.ShortID(p.ID),
			p.Role,
			state,
			strconv.FormatInt(p.Candidates, 10),
			truncate(p.Err, 30),
		})
	}

	return styledTable(headers, rows).Render()
}

// RoomsTableView renders registry rooms as a plain-text table.
func RoomsTableView(list []rooms.Room) string {
	t := pretty.NewWriter()
	t.SetStyle(pretty.StyleRounded)
	t.Style().Format.Header = text.FormatUpper
	t.AppendHeader(pretty.Row{"Room", "Peers", "Max", "Host", "Created"})
	for _, r := range list {
		t.AppendRow(pretty.Row{
			r.Code,
			len(r.Peers),
			r.MaxPeers,
			r.Host,
			r.CreatedAt.Local().Format(time.DateTime),
		})
	}
	t.AppendFooter(pretty.Row{"", fmt.Sprintf("%d rooms", len(list))})
	return t.Render()
}

// RoomDetailView renders one room with its members.
func RoomDetailView(r rooms.Room) string {
	t := pretty.NewWriter()
	t.SetStyle(pretty.StyleRounded)
	t.AppendRows([]pretty.Row{
		{"Room", r.Code},
		{"Host", r.Host},
		{"Capacity", fmt.Sprintf("%d / %d", len(r.Peers), r.MaxPeers)},
		{"Created", r.CreatedAt.Local().Format(time.DateTime)},
		{"Peers", strings.Join(r.Peers, "\n")},
	})
	return t.Render()
}

type RoomInfo struct {
	RoomID  string
	JoinCmd string
}

func NewRoomInfo(roomID, joinCmd string) *RoomInfo {
	return &RoomInfo{
		RoomID:  roomID,
		JoinCmd: joinCmd,
	}
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room:  %s\n%s Join:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconLink, MutedStyle.Render(r.JoinCmd),
	)

	return SuccessBoxStyle.Render(content)
}

// RelayBanner is printed when the relay starts.
func RelayBanner(addr string, maxPeers int) string {
	lines := []string{
		fmt.Sprintf("%s Listening  %s", IconLink, BoldStyle.Render(addr)),
		fmt.Sprintf("%s Rooms      %d peers per room by default", IconRoom, maxPeers),
		MutedStyle.Render("/ws  /v1/rooms  /health"),
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		HeaderStyle.Render(IconMesh+" meshroom relay"),
		InfoBoxStyle.Render(strings.Join(lines, "\n")),
	)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
