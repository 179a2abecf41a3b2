package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the interactive setup.
type KeyMap struct {
	// Cancel abandons the running connection check.
	Cancel key.Binding

	// Quit leaves the program from any screen.
	Quit key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}
