package browser

import (
	"context"
	"fmt"

	"packrat/pkg/vault"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Run opens the interactive vault browser and blocks until the user quits.
func Run(ctx context.Context, store *vault.Store, replayFn ReplayFunc) error {
	model := newModel(ctx, store, replayFn)
	program := tea.NewProgram(model)
	_, err := program.Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("58")).
		Padding(1, 2)

	return style.Render("📦 The vault keeps what you packed")
}
