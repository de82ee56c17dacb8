package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"compat-probe/probe"
	"compat-probe/ui"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// CheckProgressMsg reports progress of a check
type CheckProgressMsg struct {
	Type     string // "status", "result", "error", "done"
	Message  string
	Response *probe.TestResponse
	Err      error
}

// CheckModel controls the UI for the check command
type CheckModel struct {
	spinner      spinner.Model
	progressChan chan CheckProgressMsg
	run          func(ctx context.Context, progress chan<- CheckProgressMsg)
	started      time.Time

	status   string
	response *probe.TestResponse
	err      error
	done     bool
}

func initialCheckModel(run func(ctx context.Context, progress chan<- CheckProgressMsg)) CheckModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = ui.AccentStyle()

	return CheckModel{
		spinner:      s,
		progressChan: make(chan CheckProgressMsg, 10),
		run:          run,
		started:      time.Now(),
		status:       "Initializing...",
	}
}

func (m CheckModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startCheck(),
		m.waitForActivity(),
	)
}

func (m CheckModel) startCheck() tea.Cmd {
	return func() tea.Msg {
		go func() {
			defer close(m.progressChan)
			m.run(context.Background(), m.progressChan)
		}()
		return nil
	}
}

func (m CheckModel) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.progressChan
		if !ok {
			return CheckProgressMsg{Type: "done"}
		}
		return msg
	}
}

func (m CheckModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case CheckProgressMsg:
		switch msg.Type {
		case "done":
			m.done = true
			return m, tea.Quit
		case "status":
			m.status = msg.Message
		case "result":
			m.response = msg.Response
			m.status = "Finished"
		case "error":
			m.err = msg.Err
			m.status = "Failed"
		}
		return m, m.waitForActivity()
	}

	return m, nil
}

func (m CheckModel) View() string {
	var symbol string
	switch {
	case m.done && m.err != nil:
		symbol = ui.Failure("✗")
	case m.done:
		symbol = ui.Success("✓")
	default:
		symbol = m.spinner.View()
	}

	s := fmt.Sprintf("\n %s %s %s\n\n", symbol, m.status, ui.Muted(time.Since(m.started).Round(time.Second).String()))
	if m.err != nil {
		s += ui.Failure("Error: ") + m.err.Error() + "\n"
	}
	if m.response != nil {
		s += renderResponse(m.response)
	}
	return s
}

// renderResponse formats a check result for the terminal.
func renderResponse(resp *probe.TestResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", ui.Heading(resp.Project.Title), ui.Muted(resp.Project.URL))

	switch resp.Type {
	case probe.ResultNative:
		fmt.Fprintf(&b, "  %s\n", ui.Success(fmt.Sprintf("Ships a native %s build for %s, no transformation needed", resp.Loader, resp.GameVersion)))
	case probe.ResultUnavailable:
		fmt.Fprintf(&b, "  %s\n", ui.Muted(fmt.Sprintf("No %s version available for %s", resp.Loader, resp.GameVersion)))
	case probe.ResultTested:
		passing := resp.Passing != nil && *resp.Passing
		fmt.Fprintf(&b, "  Result:      %s\n", ui.Verdict(passing))
		if resp.VersionNumber != "" {
			fmt.Fprintf(&b, "  Version:     %s (%s)\n", resp.VersionNumber, resp.VersionID)
		} else {
			fmt.Fprintf(&b, "  Version:     %s\n", resp.VersionID)
		}
		if resp.ModID != nil {
			fmt.Fprintf(&b, "  Mod id:      %s\n", *resp.ModID)
		}
		if env := resp.Environment; env != nil {
			fmt.Fprintf(&b, "  Environment: Connector %s, Minecraft %s, NeoForge %s\n", env.ToolchainVersion, env.GameVersion, env.LoaderVersion)
		}
	}
	return b.String()
}
