package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/isWangjianhua/GenPulse/pkg/client"
)

const (
	pollRate       = time.Second
	fetchTimeout   = 2 * time.Second
	maxTasks       = 50
	viewportHeight = 20
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	idStyle       = lipgloss.NewStyle().Width(38)
	providerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Width(12)

	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Width(12)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Width(12)
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Width(12)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Width(12)
)

// TaskLister is the part of the gateway client the dashboard polls.
type TaskLister interface {
	List(ctx context.Context, limit int) ([]client.Task, error)
}

type tickMsg time.Time

type dataMsg struct {
	tasks []client.Task
	err   error
}

type model struct {
	api      TaskLister
	endpoint string
	spinner  spinner.Model
	viewport viewport.Model
	tasks    []client.Task
	err      error
	ready    bool
}

func initialModel(api TaskLister, endpoint string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		api:      api,
		endpoint: endpoint,
		spinner:  s,
		viewport: newViewport(100),
	}
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchTasks(m.api),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetchTasks(m.api)
		}
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchTasks(m.api), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.tasks = msg.tasks
			m.updateViewportContent()
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder
	for _, t := range m.tasks {
		line := fmt.Sprintf("%s %s %s %s %3d%%",
			timeStyle.Render(t.UpdatedAt.Local().Format("15:04:05")),
			idStyle.Render(t.TaskID),
			providerStyle.Render(t.Provider),
			statusStyle(t.Status).Render(t.Status),
			t.Progress,
		)
		if t.Error != "" {
			line += " " + errorStyle.Render(t.Error)
		}
		sb.WriteString(line + "\n")
	}
	m.viewport.SetContent(sb.String())
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case client.StatusFailed:
		return failedStyle
	case client.StatusCompleted:
		return completedStyle
	case client.StatusProcessing:
		return activeStyle
	default:
		return pendingStyle
	}
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting to %s...", m.spinner.View(), m.endpoint)
	}

	var summary strings.Builder
	summary.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Providers") + "\n\n")

	byProvider := summarize(m.tasks)
	if len(byProvider) == 0 {
		summary.WriteString(subtleStyle.Render("No tasks yet."))
	} else {
		names := make([]string, 0, len(byProvider))
		for name := range byProvider {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := byProvider[name]
			summary.WriteString(fmt.Sprintf("• %-12s pending %d  processing %d  completed %d  failed %d\n",
				name, c[client.StatusPending], c[client.StatusProcessing], c[client.StatusCompleted], c[client.StatusFailed]))
		}
	}
	topPane := paneStyle.Render(summary.String())

	header := headerStyle.Render(fmt.Sprintf("%s Recent Tasks", m.spinner.View()))

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %s • %d Tasks", m.endpoint, len(m.tasks)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress r to refresh, q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, m.viewport.View(), footer)
}

// summarize counts tasks per provider and status.
func summarize(tasks []client.Task) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for _, t := range tasks {
		name := t.Provider
		if name == "" {
			name = "unknown"
		}
		if out[name] == nil {
			out[name] = make(map[string]int)
		}
		out[name][t.Status]++
	}
	return out
}

// Commands

func fetchTasks(api TaskLister) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		tasks, err := api.List(ctx, maxTasks)
		return dataMsg{tasks: tasks, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	endpoint := flag.String("endpoint", envOrDefault("GENPULSE_ENDPOINT", client.DefaultEndpoint), "gateway base URL")
	token := flag.String("token", os.Getenv("GENPULSE_TOKEN"), "API bearer token")
	flag.Parse()

	var opts []client.Option
	if *token != "" {
		opts = append(opts, client.WithToken(*token))
	}
	api := client.NewClient(*endpoint, opts...)

	p := tea.NewProgram(initialModel(api, *endpoint), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
