package browser

import (
	"context"
	"fmt"
	"strings"

	"packrat/pkg/packer"
	"packrat/pkg/vault"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ReplayFunc re-sends one stored record through the configured transport
// and reports how many messages went out.
type ReplayFunc func(ctx context.Context, record vault.Record) (int, error)

type replayDoneMsg struct {
	shortID string
	items   int
	err     error
}

type model struct {
	ctx      context.Context
	store    *vault.Store
	replayFn ReplayFunc

	theme   theme
	spinner spinner.Model
	filter  textinput.Model
	detail  viewport.Model

	records   []vault.Record
	cursor    int
	listTop   int
	width     int
	height    int
	isReady   bool
	isBusy    bool
	filtering bool
	lastErr   string
	statusMsg string
}

func newModel(ctx context.Context, store *vault.Store, replayFn ReplayFunc) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Filter by id, category, or text..."
	in.CharLimit = 0

	vp := viewport.New(80, 10)

	m := &model{
		ctx:      ctx,
		store:    store,
		replayFn: replayFn,
		theme:    defaultTheme(),
		spinner:  spin,
		filter:   in,
		detail:   vp,
		width:    100,
		height:   28,
	}
	m.reload()

	return m
}

func (m *model) Init() tea.Cmd {
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshDetail()
		m.isReady = true
		return m, nil
	case spinner.TickMsg:
		if !m.isBusy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case replayDoneMsg:
		m.isBusy = false
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.statusMsg = ""
		} else {
			m.lastErr = ""
			m.statusMsg = fmt.Sprintf("replayed %s (%d items)", typed.shortID, typed.items)
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	}

	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.filtering {
		switch msg.String() {
		case "esc":
			m.filtering = false
			m.filter.Blur()
			m.filter.SetValue("")
			m.reload()
			return m, nil
		case "enter":
			m.filtering = false
			m.filter.Blur()
			return m, nil
		default:
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.reload()
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(-1)
		return m, nil
	case "down", "j":
		m.moveCursor(1)
		return m, nil
	case "home", "g":
		m.setCursor(0)
		return m, nil
	case "end", "G":
		m.setCursor(len(m.records) - 1)
		return m, nil
	case "pgup":
		m.detail.PageUp()
		return m, nil
	case "pgdown":
		m.detail.PageDown()
		return m, nil
	case "/":
		m.filtering = true
		m.filter.Focus()
		return m, textinput.Blink
	case "d":
		return m, m.deleteSelected()
	case "enter", "r":
		return m.replaySelected()
	}

	return m, nil
}

func (m *model) replaySelected() (tea.Model, tea.Cmd) {
	if m.isBusy || m.replayFn == nil {
		return m, nil
	}
	record, ok := m.selected()
	if !ok {
		return m, nil
	}

	m.isBusy = true
	m.lastErr = ""
	m.statusMsg = ""
	return m, tea.Batch(m.spinner.Tick, replayCmd(m.ctx, m.replayFn, record))
}

func (m *model) deleteSelected() tea.Cmd {
	record, ok := m.selected()
	if !ok {
		return nil
	}

	if err := m.store.Delete(record.ID); err != nil {
		m.lastErr = err.Error()
		return nil
	}

	m.lastErr = ""
	m.statusMsg = fmt.Sprintf("deleted %s", record.ShortID())
	m.reload()
	return nil
}

func (m *model) selected() (vault.Record, bool) {
	if m.cursor < 0 || m.cursor >= len(m.records) {
		return vault.Record{}, false
	}

	return m.records[m.cursor], true
}

func (m *model) moveCursor(delta int) {
	m.setCursor(m.cursor + delta)
}

func (m *model) setCursor(position int) {
	if len(m.records) == 0 {
		m.cursor = 0
		m.listTop = 0
		return
	}

	if position < 0 {
		position = 0
	}
	if position > len(m.records)-1 {
		position = len(m.records) - 1
	}
	m.cursor = position

	visible := m.listHeight()
	if m.cursor < m.listTop {
		m.listTop = m.cursor
	}
	if m.cursor >= m.listTop+visible {
		m.listTop = m.cursor - visible + 1
	}

	m.refreshDetail()
}

func (m *model) reload() {
	all := m.store.List(0)
	needle := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	if needle == "" {
		m.records = all
	} else {
		filtered := make([]vault.Record, 0, len(all))
		for _, record := range all {
			if recordMatches(record, needle) {
				filtered = append(filtered, record)
			}
		}
		m.records = filtered
	}

	m.setCursor(m.cursor)
	m.refreshDetail()
}

func recordMatches(record vault.Record, needle string) bool {
	if strings.HasPrefix(strings.ToLower(record.ID), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(string(record.Packed.Category)), needle) {
		return true
	}

	return strings.Contains(strings.ToLower(record.Preview()), needle)
}

func (m *model) refreshDetail() {
	record, ok := m.selected()
	if !ok {
		m.detail.SetContent(m.theme.emptyVault.Render("nothing selected"))
		return
	}

	label := func(name string) string {
		return m.theme.detailLabel.Render(name)
	}

	var lines []string
	lines = append(lines, label("id:")+" "+record.ID)
	if !record.CapturedAt.IsZero() {
		lines = append(lines, label("captured:")+" "+record.CapturedAt.Format("2006-01-02 15:04:05 MST"))
	}
	lines = append(lines, label("channel:")+" "+displayOrNA(record.Channel)+"  "+label("chat:")+" "+displayOrNA(record.ChatID)+"  "+label("sender:")+" "+displayOrNA(record.SenderID))
	lines = append(lines, label("category:")+" "+string(record.Packed.Category))

	if record.Packed.GroupID != "" {
		members := m.store.Group(record.Packed.GroupID)
		lines = append(lines, label("album:")+" "+fmt.Sprintf("%s (%d/%d)", record.Packed.GroupID, record.Packed.Ordinal+1, len(members)))
	}

	if content := record.Packed.Content; content != nil {
		switch content.Kind {
		case packer.RefRemote:
			lines = append(lines, label("content:")+" remote "+content.RemoteID)
		case packer.RefLocal:
			lines = append(lines, label("content:")+" local "+content.LocalPath)
		}
	}

	if record.Packed.Text != "" {
		lines = append(lines, "", record.Packed.Text)
	}
	if record.Packed.Caption != "" {
		lines = append(lines, "", label("caption:")+" "+record.Packed.Caption)
	}
	if count := len(record.Packed.Spans); count > 0 {
		lines = append(lines, "", m.theme.hint.Render(fmt.Sprintf("%d formatting spans", count)))
	}
	if len(record.Packed.ReplyMarkup) > 0 {
		lines = append(lines, m.theme.hint.Render("carries reply markup"))
	}

	m.detail.SetContent(strings.Join(lines, "\n"))
	m.detail.GotoTop()
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
	}

	header := m.theme.header.Width(m.width - 2).Render("📦 Packrat Vault")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"records:%d · shown:%d · root:%s",
		m.store.Len(),
		len(m.records),
		m.store.Root(),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 ↑/↓ move  ·  Enter replay  ·  d delete  ·  / filter  ·  q quit")
	if m.isBusy {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ replaying...", m.spinner.View()))
	}
	if m.statusMsg != "" {
		status = m.theme.statusOK.Render("✅ " + m.statusMsg)
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 " + m.lastErr)
	}

	parts := []string{
		header,
		meta,
		line,
		m.theme.listBox.Width(m.width - 2).Render(m.renderList()),
		m.theme.detailTitle.Render("▛▚ [ RECORD ] ▞▜"),
		m.theme.detailBox.Width(m.width - 2).Render(m.detail.View()),
		status,
	}

	if m.filtering {
		parts = append(parts,
			m.theme.filterLabel.Render("🔎 Filter")+" "+m.theme.hint.Render("(Enter apply, Esc clear)"),
			m.theme.filter.Width(m.width-2).Render(m.filter.View()),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) renderList() string {
	if len(m.records) == 0 {
		if strings.TrimSpace(m.filter.Value()) != "" {
			return m.theme.emptyVault.Render("no records match the filter")
		}
		return m.theme.emptyVault.Render("the vault is empty")
	}

	visible := m.listHeight()
	end := m.listTop + visible
	if end > len(m.records) {
		end = len(m.records)
	}

	rows := make([]string, 0, visible)
	for i := m.listTop; i < end; i++ {
		record := m.records[i]

		cells := []string{
			record.ShortID(),
			m.theme.listCategory.Render(fmt.Sprintf("%-9s", record.Packed.Category)),
		}
		if preview := record.Preview(); preview != "" {
			cells = append(cells, listPreview(preview, m.width-30))
		}
		if record.Packed.GroupID != "" {
			cells = append(cells, m.theme.listAlbum.Render("[album]"))
		}

		row := strings.Join(cells, "  ")
		if i == m.cursor {
			row = m.theme.listCursor.Render("▶ " + row)
		} else {
			row = m.theme.listItem.Render("  " + row)
		}
		rows = append(rows, row)
	}

	if m.listTop > 0 {
		rows[0] = rows[0] + m.theme.hint.Render("  ↑ more")
	}
	if end < len(m.records) {
		rows[len(rows)-1] = rows[len(rows)-1] + m.theme.hint.Render("  ↓ more")
	}

	return strings.Join(rows, "\n")
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}

	detailHeight := m.height - m.listHeight() - 10
	if detailHeight < 4 {
		detailHeight = 4
	}

	m.detail.Width = w
	m.detail.Height = detailHeight
	m.filter.Width = w - 2
}

func (m *model) listHeight() int {
	h := (m.height - 12) / 2
	if h < 5 {
		h = 5
	}

	return h
}

func listPreview(text string, width int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if width < 16 {
		width = 16
	}
	if len(collapsed) <= width {
		return collapsed
	}

	return collapsed[:width] + "..."
}

func replayCmd(ctx context.Context, replayFn ReplayFunc, record vault.Record) tea.Cmd {
	return func() tea.Msg {
		items, err := replayFn(ctx, record)
		return replayDoneMsg{shortID: record.ShortID(), items: items, err: err}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func max(a int, b int) int {
	if a > b {
		return a
	}

	return b
}
