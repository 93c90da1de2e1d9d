package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"fde.dev/ipc/internal/infrastructure/bus"
)

// WatchFlags holds command-line flags for the watch command
type WatchFlags struct {
	MaxEvents int
	Plain     bool
}

// NewWatchCommand creates the watch command
func NewWatchCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	watchFlags := &WatchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow plugin registrations live",
		Long: `Subscribe to the PluginRegistered signal of a running control plane
and show each registration as it happens.

Examples:
  fde-ipc watch            # Interactive terminal view
  fde-ipc watch --plain    # One line per registration, for scripts`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(container, flags, func(client BusClient) error {
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()

				events, err := client.SubscribeRegistered(ctx)
				if err != nil {
					return fmt.Errorf("failed to subscribe: %w", err)
				}
				if watchFlags.Plain {
					return printRegistrations(ctx, cmd, events)
				}

				count, _ := client.PluginCount(ctx)
				program := tea.NewProgram(newWatchModel(events, count, watchFlags.MaxEvents),
					tea.WithAltScreen(), tea.WithContext(ctx))
				if _, err := program.Run(); err != nil && ctx.Err() == nil {
					return fmt.Errorf("watch failed: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&watchFlags.MaxEvents, "max-events", 100, "Maximum number of registrations to keep on screen")
	cmd.Flags().BoolVar(&watchFlags.Plain, "plain", false, "Print registrations line by line instead of the interactive view")

	return cmd
}

func printRegistrations(ctx context.Context, cmd *cobra.Command, events <-chan bus.RegisteredEvent) error {
	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "%s %s %s pid=%d sender=%s\n",
				time.Now().Format("15:04:05"), ev.Name, ev.HandlerType, ev.PID, ev.Sender)
		}
	}
}

// registrationRow is one registration as shown in the table
type registrationRow struct {
	Time        string
	Name        string
	HandlerType string
	PID         int32
	Sender      string
}

// watchModel holds the state for the Bubble Tea view
type watchModel struct {
	events      <-chan bus.RegisteredEvent
	rows        []registrationRow
	maxRows     int
	initial     int32
	selectedRow int
	paused      bool
	closed      bool
	started     time.Time
	lastEvent   time.Time
	height      int
}

func newWatchModel(events <-chan bus.RegisteredEvent, initial int32, maxRows int) watchModel {
	if maxRows <= 0 {
		maxRows = 100
	}
	return watchModel{
		events:  events,
		maxRows: maxRows,
		initial: initial,
		started: time.Now(),
	}
}

// registeredMsg carries one signal into the update loop
type registeredMsg bus.RegisteredEvent

// subscriptionClosedMsg is sent when the signal channel closes
type subscriptionClosedMsg struct{}

func (m watchModel) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return subscriptionClosedMsg{}
		}
		return registeredMsg(ev)
	}
}

// Init implements tea.Model
func (m watchModel) Init() tea.Cmd {
	return m.waitForEvent()
}

// Update implements tea.Model
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
		case "up", "k":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "down", "j":
			if m.selectedRow < len(m.rows)-1 {
				m.selectedRow++
			}
		case "c":
			m.rows = nil
			m.selectedRow = 0
		}
		return m, nil

	case registeredMsg:
		m.lastEvent = time.Now()
		if !m.paused {
			m.rows = append(m.rows, registrationRow{
				Time:        m.lastEvent.Format("15:04:05"),
				Name:        msg.Name,
				HandlerType: msg.HandlerType,
				PID:         msg.PID,
				Sender:      msg.Sender,
			})
			if len(m.rows) > m.maxRows {
				m.rows = m.rows[len(m.rows)-m.maxRows:]
			}
		}
		return m, m.waitForEvent()

	case subscriptionClosedMsg:
		m.closed = true
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m watchModel) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderTable(), m.renderFooter())
}

func (m watchModel) renderHeader() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Render("org.fde.Compositor")

	info := fmt.Sprintf("Plugins at start: %d | Registrations: %d | %s",
		m.initial, len(m.rows), time.Since(m.started).Round(time.Second))

	status, color := "LIVE", "46"
	switch {
	case m.closed:
		status, color = "DISCONNECTED", "196"
	case m.paused:
		status, color = "PAUSED", "214"
	}
	statusStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(color))

	line1 := lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", info, "  ", statusStyle.Render(status))

	last := "never"
	if !m.lastEvent.IsZero() {
		last = m.lastEvent.Format("15:04:05")
	}
	return lipgloss.JoinVertical(lipgloss.Left, line1, "Last registration: "+last, divider())
}

func (m watchModel) renderTable() string {
	if len(m.rows) == 0 {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Render("\n  No registrations yet. Waiting for plugins...\n")
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Render(fmt.Sprintf("%-8s │ %-24s │ %-10s │ %-7s │ %s", "TIME", "NAME", "TYPE", "PID", "SENDER"))
	rows := []string{header}

	visible := len(m.rows)
	if m.height > 8 && visible > m.height-8 {
		visible = m.height - 8
	}

	// Newest first
	for i := 0; i < visible; i++ {
		row := m.rows[len(m.rows)-1-i]
		style := lipgloss.NewStyle()
		if i == m.selectedRow {
			style = style.Background(lipgloss.Color("240"))
		}
		rows = append(rows, style.Render(fmt.Sprintf("%-8s │ %-24s │ %-10s │ %-7d │ %s",
			row.Time,
			truncateString(row.Name, 24),
			truncateString(row.HandlerType, 10),
			row.PID,
			row.Sender,
		)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m watchModel) renderFooter() string {
	controls := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")).
		Render("Controls: [Space] Pause/Resume | [↑↓] Navigate | [c] Clear | [q] Quit")
	return lipgloss.JoinVertical(lipgloss.Left, divider(), controls)
}

func divider() string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Render(strings.Repeat("─", 60))
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
