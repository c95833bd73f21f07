package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrNotTTY is returned when the TUI is asked to draw on a non-terminal.
var ErrNotTTY = errors.New("output is not a TTY")

// TUIRenderer draws sync progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *syncModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails on non-TTY output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, ErrNotTTY
	}
	tracker := NewProgressTracker()
	model := newSyncModel(tracker, cfg.RootDir)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the bubbletea program in the background.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Apply(event)
	r.send(refreshMsg{})
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(refreshMsg{})
}

// Complete shows the summary and ends the program.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete})
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop quits the program, waiting briefly for it to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()

	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

var _ Renderer = (*TUIRenderer)(nil)

type (
	refreshMsg  struct{}
	completeMsg CompletionStats
)

// syncModel is the bubbletea model. Progress state lives in the tracker;
// messages only trigger a redraw.
type syncModel struct {
	tracker  *ProgressTracker
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
	root     string
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
}

func newSyncModel(tracker *ProgressTracker, root string) *syncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &syncModel{
		tracker: tracker,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
		root:   root,
		width:  80,
	}
}

// Init implements tea.Model.
func (m *syncModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *syncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, msg.Width-20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *syncModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	title := "hybridsearch index"
	if m.root != "" {
		title += " • " + m.root
	}
	lines := []string{
		m.styles.Header.Render(title),
		m.renderStages(),
		m.renderProgress(),
	}
	if file := m.tracker.Stats().CurrentFile; file != "" {
		lines = append(lines, m.styles.Dim.Render(truncatePath(file, m.width-4)))
	}
	if status := m.renderErrors(); status != "" {
		lines = append(lines, status)
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m *syncModel) renderStages() string {
	current := m.tracker.Stats().Stage
	var parts []string
	for _, s := range []Stage{StageScanning, StageIndexing, StageRemoving} {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *syncModel) renderProgress() string {
	stats := m.tracker.Stats()
	if stats.Total == 0 {
		return m.styles.Label.Render(stats.Stage.String() + "...")
	}
	line := fmt.Sprintf("%s  %s  %s",
		m.bar.ViewAs(stats.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)),
		m.styles.Label.Render(fmt.Sprintf("%d/%d files", stats.Current, stats.Total)))
	if stats.ETA > 0 {
		line += m.styles.Label.Render("  ETA " + formatDuration(stats.ETA))
	}
	return line
}

func (m *syncModel) renderErrors() string {
	stats := m.tracker.Stats()
	var parts []string
	if stats.Warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.Warnings)))
	}
	if stats.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed", stats.Errors)))
	}
	return strings.Join(parts, "  ")
}

func (m *syncModel) renderComplete() string {
	lines := []string{
		m.styles.Success.Render("✓ Index up to date"),
		"",
		fmt.Sprintf("%s %d added, %d updated, %d removed, %d unchanged",
			m.styles.Label.Render("Files:   "), m.stats.Added, m.stats.Updated, m.stats.Removed, m.stats.Unchanged),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Chunks:  "), m.stats.Chunks),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:"), formatDuration(m.stats.Duration)),
	}
	if m.stats.Provider != "" {
		lines = append(lines, fmt.Sprintf("%s %s (%s)", m.styles.Label.Render("Model:   "), m.stats.Model, m.stats.Provider))
	}
	if m.stats.Failed > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d files failed, see the log", m.stats.Failed)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentDim)).
		Padding(0, 2)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders 45s, 3m 5s or 1h 2m.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncatePath keeps the tail of a slash path within maxLen.
func truncatePath(path string, maxLen int) string {
	if maxLen < 4 || len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
