package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// SessionSummary is printed after a session ends.
type SessionSummary struct {
	Room     string
	Role     string
	ClientID string
	Peer     string
	Device   string
	Duration string
	Status   string
}

func SessionSummaryView(summary SessionSummary) string {
	rows := [][]string{
		{"Status", summary.Status},
		{"Room", summary.Room},
		{"Role", summary.Role},
		{"Client ID", summary.ClientID},
	}
	if summary.Peer != "" {
		rows = append(rows, []string{"Peer", summary.Peer})
	}
	if summary.Device != "" {
		rows = append(rows, []string{"Peer Device", summary.Device})
	}
	rows = append(rows, []string{"Duration", summary.Duration})

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
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

	return tbl.Render()
}

func RenderSessionSummary(summary SessionSummary) {
	fmt.Println(SessionSummaryView(summary))
}

// RoomInfo tells the user how the peer can join.
type RoomInfo struct {
	RoomID string
	Server string
}

func NewRoomInfo(roomID, server string) *RoomInfo {
	return &RoomInfo{
		RoomID: roomID,
		Server: server,
	}
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Room %s\n\n%s Server:  %s\n%s Peer:    %s",
		IconRoom, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconServer, MutedStyle.Render(r.Server),
		IconPeer, MutedStyle.Render("duet join "+r.RoomID),
	)
	return SuccessBoxStyle.Render(content)
}

// ServerInfo is shown when the relay starts.
func ServerInfo(addr string, advertised bool) string {
	content := fmt.Sprintf("%s Relay listening on %s", IconServer, BoldStyle.Foreground(Primary).Render(addr))
	if advertised {
		content += fmt.Sprintf("\n%s Advertised on the LAN via mDNS", IconSearch)
	}
	return InfoBoxStyle.Render(content)
}
