package browser

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for browser UI regions.
type theme struct {
	header       lipgloss.Style
	headerMeta   lipgloss.Style
	divider      lipgloss.Style
	listBox      lipgloss.Style
	listItem     lipgloss.Style
	listCursor   lipgloss.Style
	listCategory lipgloss.Style
	listAlbum    lipgloss.Style
	detailBox    lipgloss.Style
	detailTitle  lipgloss.Style
	detailLabel  lipgloss.Style
	status       lipgloss.Style
	statusBusy   lipgloss.Style
	statusErr    lipgloss.Style
	statusOK     lipgloss.Style
	hint         lipgloss.Style
	filterLabel  lipgloss.Style
	filter       lipgloss.Style
	emptyVault   lipgloss.Style
}

// defaultTheme defines the retro terminal visual palette used by the vault browser.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("58")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("130")),
		listBox: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("130")).
			Background(lipgloss.Color("233")).
			Padding(0, 1),
		listItem: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		listCursor: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("214")),
		listCategory: lipgloss.NewStyle().
			Foreground(lipgloss.Color("109")),
		listAlbum: lipgloss.NewStyle().
			Foreground(lipgloss.Color("180")),
		detailBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("44")).
			Background(lipgloss.Color("234")).
			Padding(0, 1),
		detailTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("44")).
			Padding(0, 1),
		detailLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		statusBusy: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		statusErr: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		statusOK: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		filterLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
		filter: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("173")).
			Background(lipgloss.Color("236")).
			Padding(0, 1),
		emptyVault: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true),
	}
}
