// Package setup is the interactive prompt that stores the mailbox and
// default account passwords in the system keyring after checking the
// mailbox login.
package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/club-activator/internal/credential"
	"github.com/nhle/club-activator/internal/keys"
	"github.com/nhle/club-activator/internal/theme"
)

// ErrAborted is returned when the user leaves the prompt without saving.
var ErrAborted = errors.New("setup aborted")

// validateTimeout bounds the IMAP login check.
const validateTimeout = 30 * time.Second

// Mode represents the current state of the setup view.
type Mode int

const (
	ModeForm       Mode = iota // Entering secrets
	ModeValidating             // Testing the IMAP login
	ModeDone                   // Finished, saved or failed
)

// Values are the secrets collected by the form.
type Values struct {
	IMAPPassword    string
	DefaultPassword string
}

// Validator checks that password opens the mailbox.
type Validator func(ctx context.Context, password string) error

// validateResultMsg carries the result of the IMAP login check.
type validateResultMsg struct {
	err error
}

// Model is the Bubble Tea model of the setup prompt.
type Model struct {
	mode     Mode
	username string
	form     *huh.Form
	values   *Values
	spinner  spinner.Model
	keys     *keys.KeyMap
	validate Validator
	save     func(Values) error
	err      error
	saved    bool
}

// New creates the setup model for the mailbox user username.
func New(username string, validate Validator, save func(Values) error) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	values := &Values{}
	return Model{
		mode:     ModeForm,
		username: username,
		form:     buildForm(username, values),
		values:   values,
		spinner:  sp,
		keys:     keys.DefaultKeyMap(),
		validate: validate,
		save:     save,
	}
}

func buildForm(username string, values *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP password").
				Description(fmt.Sprintf("Password or app password of %s", username)).
				EchoMode(huh.EchoModePassword).
				Value(&values.IMAPPassword).
				Validate(validateRequired("IMAP password")),
			huh.NewInput().
				Title("Default account password").
				Description("Given to accounts seen for the first time; leave empty to keep the stored one").
				EchoMode(huh.EchoModePassword).
				Value(&values.DefaultPassword),
		),
	)
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages and dispatches based on current mode.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.err = ErrAborted
			m.mode = ModeDone
			return m, tea.Quit
		}
		if m.mode == ModeValidating && key.Matches(msg, m.keys.Cancel) {
			m.err = ErrAborted
			m.mode = ModeDone
			return m, tea.Quit
		}

	case validateResultMsg:
		if m.mode != ModeValidating {
			return m, nil
		}
		m.mode = ModeDone
		if msg.err != nil {
			m.err = fmt.Errorf("checking IMAP login: %w", msg.err)
			return m, tea.Quit
		}
		if err := m.save(*m.values); err != nil {
			m.err = err
			return m, tea.Quit
		}
		m.saved = true
		return m, tea.Quit

	case spinner.TickMsg:
		if m.mode == ModeValidating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.mode != ModeForm {
		return m, nil
	}
	return m.updateForm(msg)
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.mode = ModeValidating
		return m, tea.Batch(m.spinner.Tick, m.validateCmd())
	case huh.StateAborted:
		m.err = ErrAborted
		m.mode = ModeDone
		return m, tea.Quit
	}
	return m, cmd
}

func (m Model) validateCmd() tea.Cmd {
	validate := m.validate
	password := m.values.IMAPPassword
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
		defer cancel()
		return validateResultMsg{err: validate(ctx, password)}
	}
}

// View renders the current step.
func (m Model) View() string {
	style := lipgloss.NewStyle().Padding(1, 2)

	switch m.mode {
	case ModeForm:
		return style.Render(theme.HeaderStyle.Render("Activator credentials") + "\n\n" + m.form.View())
	case ModeValidating:
		return style.Render(fmt.Sprintf(
			"%s Testing IMAP login for %s...\n\n%s",
			m.spinner.View(), m.username,
			theme.HelpStyle.Render("Press esc to cancel."),
		))
	default:
		return ""
	}
}

// Err reports why the prompt ended without saving, or nil.
func (m Model) Err() error {
	return m.err
}

// Saved reports whether the secrets were stored.
func (m Model) Saved() bool {
	return m.saved
}

// Save stores v in the keyring. An empty default password leaves the
// stored one untouched.
func Save(cfg credential.Config, username string, v Values) error {
	if err := credential.Set(cfg, credential.IMAPKey(username), v.IMAPPassword); err != nil {
		return err
	}
	if v.DefaultPassword == "" {
		return nil
	}
	return credential.Set(cfg, credential.DefaultPasswordKey, v.DefaultPassword)
}

// Run shows the prompt on the terminal, checks the login with validate
// and saves the secrets into the keyring described by cfg.
func Run(cfg credential.Config, username string, validate Validator) error {
	m := New(username, validate, func(v Values) error {
		return Save(cfg, username, v)
	})

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return fmt.Errorf("running setup: %w", err)
	}
	if fm, ok := final.(Model); ok {
		return fm.Err()
	}
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
