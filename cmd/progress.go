package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseResolving
	PhaseDownloading
	PhaseComplete
)

const (
	maxRecentOutcomes = 5
	maxMessages       = 8
)

type progressModel struct {
	phase         Phase
	currentStage  string
	spinner       spinner.Model
	batchProgress progress.Model
	itemProgress  progress.Model
	attachments   int
	totalBatches  int
	currentBatch  int
	batchSize     int
	batchDone     int
	succeeded     int
	failed        int
	skipped       int
	recent        []DownloadOutcome
	messages      []string
	width         int
	startTime     time.Time
	cancel        context.CancelFunc
	done          bool
	summary       *Summary
	err           error
}

type phaseMsg struct {
	phase   Phase
	message string
}

type messageMsg string

type resolvedMsg struct {
	attachments int
	batches     int
}

type batchStartMsg struct {
	index int
	total int
	size  int
}

type outcomeMsg struct {
	outcome DownloadOutcome
}

type batchDoneMsg struct {
	batch BatchSummary
}

type completeMsg struct {
	summary *Summary
}

type runErrMsg struct {
	err error
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFAA00")).
				Bold(true).
				Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)
)

// newProgressModel creates the TUI model; cancel is called when the user quits
func newProgressModel(cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return progressModel{
		phase:   PhaseConnecting,
		spinner: s,
		batchProgress: progress.New(
			progress.WithScaledGradient("#FF7CCB", "#FDFF8C"),
			progress.WithWidth(60),
		),
		itemProgress: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(60),
		),
		currentStage: "Initializing...",
		startTime:    time.Now(),
		cancel:       cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.cancel != nil {
				m.cancel()
			}
			m.done = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.batchProgress.Width = max(msg.Width-10, 10)
		m.itemProgress.Width = max(msg.Width-10, 10)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case phaseMsg:
		m.phase = msg.phase
		m.currentStage = msg.message
		m.addMessage(msg.message)
	case messageMsg:
		m.addMessage(string(msg))
	case resolvedMsg:
		m.phase = PhaseDownloading
		m.attachments = msg.attachments
		m.totalBatches = msg.batches
		m.addMessage(fmt.Sprintf("🔎 Resolved %d attachments in %d batches", msg.attachments, msg.batches))
	case batchStartMsg:
		m.currentBatch = msg.index
		m.totalBatches = msg.total
		m.batchSize = msg.size
		m.batchDone = 0
		m.currentStage = fmt.Sprintf("Batch %d/%d", msg.index, msg.total)
	case outcomeMsg:
		m.batchDone++
		if msg.outcome.Success {
			m.succeeded++
		} else {
			m.failed++
		}
		m.appendRecent(msg.outcome)
	case batchDoneMsg:
		if msg.batch.Err != nil {
			m.skipped++
			m.addMessage(fmt.Sprintf("❌ Batch %d skipped: %v", msg.batch.Index, msg.batch.Err))
		}
	case completeMsg:
		m.phase = PhaseComplete
		m.summary = msg.summary
		m.done = true
		return m, tea.Quit
	case runErrMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *progressModel) addMessage(msg string) {
	if msg == "" {
		return
	}
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
}

func (m *progressModel) appendRecent(outcome DownloadOutcome) {
	m.recent = append(m.recent, outcome)
	if len(m.recent) > maxRecentOutcomes {
		m.recent = m.recent[len(m.recent)-maxRecentOutcomes:]
	}
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var sections []string
	sections = append(sections, "", "   "+titleStyle.Render("Salesforce File Export"), "")

	sections = append(sections, helpStyle.Render("   Log:"))
	if len(m.messages) == 0 {
		sections = append(sections, "     (waiting for operations...)")
	}
	for _, msg := range m.messages {
		sections = append(sections, "     "+msg)
	}

	separatorWidth := 80
	if m.width > 0 && m.width < 200 {
		separatorWidth = max(m.width-6, 10)
	}
	separator := "   " + strings.Repeat("─", separatorWidth)
	sections = append(sections, "", lipgloss.NewStyle().Foreground(lipgloss.Color("#444")).Render(separator), "")

	switch m.phase { //nolint:exhaustive // PhaseComplete renders nothing
	case PhaseConnecting, PhaseResolving:
		sections = append(sections, stageStyle.Render(fmt.Sprintf("   %s %s", m.spinner.View(), m.currentStage)))
	case PhaseDownloading:
		sections = append(sections, m.renderDownloading()...)
	}

	sections = append(sections, "", helpStyle.Render("   Press Ctrl+C or 'q' to quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m progressModel) renderDownloading() []string {
	var sections []string
	sections = append(sections, tableHeaderStyle.Render(fmt.Sprintf("   Downloading %d attachments", m.attachments)), "")

	if m.totalBatches > 0 {
		batchInfo := fmt.Sprintf("   Batches: %d/%d", m.currentBatch, m.totalBatches)
		sections = append(sections, progressInfoStyle.Render(batchInfo))
		sections = append(sections, "   "+m.batchProgress.ViewAs(ratio(m.currentBatch, m.totalBatches)))
	}

	if m.batchSize > 0 {
		itemInfo := fmt.Sprintf("   %s %s: %d/%d", m.spinner.View(), m.currentStage, m.batchDone, m.batchSize)
		sections = append(sections, "", stageStyle.Render(itemInfo))
		sections = append(sections, "   "+m.itemProgress.ViewAs(ratio(m.batchDone, m.batchSize)))
	}

	counts := fmt.Sprintf("   ✅ %d   ❌ %d   ⏭️  %d batches skipped   ⏱️  %s",
		m.succeeded, m.failed, m.skipped, time.Since(m.startTime).Round(time.Second))
	sections = append(sections, "", progressInfoStyle.Render(counts))

	if len(m.recent) > 0 {
		sections = append(sections, "", tableHeaderStyle.Render("   Recent Downloads"), "")
		for _, o := range m.recent {
			if o.Success {
				sections = append(sections, fmt.Sprintf("   ✅ %s - %d bytes", filepath.Base(o.Path), o.Bytes))
			} else {
				sections = append(sections, fmt.Sprintf("   ❌ %s - %s", o.AttachmentID, o.Reason()))
			}
		}
	}
	return sections
}

func ratio(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return min(float64(done)/float64(total), 1)
}
