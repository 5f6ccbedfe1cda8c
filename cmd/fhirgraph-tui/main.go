package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/fhirgraph/pkg/client"
)

// Config
const (
	requestTimeout = 10 * time.Second
	listWidth      = 40
	paneHeight     = 20
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	fieldStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// browser is what the TUI needs from the client SDK.
type browser interface {
	Collections(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, collection string) (client.CollectionInfo, error)
	Rows(ctx context.Context, collection string, fn func(client.Row) error) error
}

// collectionItem adapts a collection name to list.Item.
type collectionItem string

func (c collectionItem) Title() string { return string(c) }
func (c collectionItem) Description() string {
	if strings.HasSuffix(string(c), ":edges") {
		return "edge"
	}
	return "vertex"
}
func (c collectionItem) FilterValue() string { return string(c) }

type collectionsMsg struct {
	names []string
	err   error
}

type detailMsg struct {
	name string
	info client.CollectionInfo
	rows []client.Row
	err  error
}

type model struct {
	api     browser
	maxRows int

	spinner  spinner.Model
	list     list.Model
	viewport viewport.Model

	selected string
	loading  bool
	err      error
}

func initialModel(api browser, maxRows int) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	l := list.New(nil, list.NewDefaultDelegate(), listWidth, paneHeight)
	l.Title = "Collections"
	l.SetShowHelp(false)

	return model{
		api:      api,
		maxRows:  maxRows,
		spinner:  s,
		list:     l,
		viewport: viewport.New(80, paneHeight),
		loading:  true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, fetchCollections(m.api))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, fetchCollections(m.api)
		case "enter":
			if item, ok := m.list.SelectedItem().(collectionItem); ok {
				m.selected = string(item)
				m.loading = true
				return m, fetchDetail(m.api, string(item), m.maxRows)
			}
		case "pgup", "pgdown":
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case collectionsMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			items := make([]list.Item, len(msg.names))
			for i, name := range msg.names {
				items[i] = collectionItem(name)
			}
			cmds = append(cmds, m.list.SetItems(items))
		}
		return m, tea.Batch(cmds...)

	case detailMsg:
		if msg.name != m.selected {
			return m, nil
		}
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.viewport.SetContent(renderDetail(msg))
			m.viewport.GotoTop()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.list.SetSize(listWidth, msg.Height-6)
		m.viewport.Width = max(msg.Width-listWidth-8, 20)
		m.viewport.Height = msg.Height - 6
		return m, nil
	}

	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func renderDetail(d detailMsg) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(d.name) + "\n\n")
	sb.WriteString(lipgloss.NewStyle().Bold(true).Render("Search fields") + "\n")
	if len(d.info.SearchFields) == 0 {
		sb.WriteString(subtleStyle.Render("none") + "\n")
	}
	for _, f := range d.info.SearchFields {
		sb.WriteString("  " + fieldStyle.Render(f) + "\n")
	}

	sb.WriteString("\n" + lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("First %d rows", len(d.rows))) + "\n")
	if len(d.rows) == 0 {
		sb.WriteString(subtleStyle.Render("no rows") + "\n")
	}
	for _, r := range d.rows {
		sb.WriteString(idStyle.Render(r.ID) + "\n")
		sb.WriteString(subtleStyle.Render(string(r.Data)) + "\n")
	}
	return sb.String()
}

func (m model) View() string {
	var status string
	switch {
	case m.loading:
		status = fmt.Sprintf("%s Loading...", m.spinner.View())
	case m.err != nil:
		status = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	default:
		status = okStyle.Render(fmt.Sprintf("Online • %d collections", len(m.list.Items())))
	}
	footer := subtleStyle.Render(fmt.Sprintf("%s\nenter: open • /: filter • pgup/pgdown: scroll • r: refresh • q: quit", status))

	detail := m.viewport.View()
	if m.selected == "" {
		detail = subtleStyle.Render("Select a collection and press enter.")
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Render(m.list.View()),
		paneStyle.Render(detail),
	)
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

// Commands

var errEnough = errors.New("enough rows")

func fetchCollections(api browser) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		names, err := api.Collections(ctx)
		return collectionsMsg{names: names, err: err}
	}
}

func fetchDetail(api browser, name string, maxRows int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		info, err := api.Describe(ctx, name)
		if err != nil {
			return detailMsg{name: name, err: err}
		}
		var rows []client.Row
		err = api.Rows(ctx, name, func(r client.Row) error {
			rows = append(rows, r)
			if len(rows) >= maxRows {
				return errEnough
			}
			return nil
		})
		if err != nil && !errors.Is(err, errEnough) {
			return detailMsg{name: name, err: err}
		}
		return detailMsg{name: name, info: info, rows: rows}
	}
}

func main() {
	target := os.Getenv("FHIRGRAPH_TARGET")
	if target == "" {
		target = client.DefaultTarget
	}
	flag.StringVar(&target, "target", target, "address of the fhirgraph-d daemon")
	maxRows := flag.Int("rows", 10, "rows shown per collection")
	flag.Parse()

	c, err := client.Dial(target)
	if err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
	defer c.Close()

	p := tea.NewProgram(initialModel(c, max(*maxRows, 1)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
