package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nhle/club-activator/internal/model"
	"github.com/nhle/club-activator/internal/store"
	"github.com/nhle/club-activator/internal/theme"
)

// WriteReport prints the most recently updated accounts and the latest
// activation events, limit rows each.
func (a *App) WriteReport(ctx context.Context, w io.Writer, limit int) error {
	accounts, err := a.store.ListAccounts(ctx, store.AccountFilter{Limit: limit})
	if err != nil {
		return err
	}
	events, err := a.store.ListEvents(ctx, limit)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\n%s\n\n%s\n%s\n",
		theme.HeaderStyle.Render("Accounts"),
		renderAccounts(accounts),
		theme.HeaderStyle.Render("Activation events"),
		renderEvents(events),
	)
	return err
}

func renderAccounts(accounts []model.Account) string {
	if len(accounts) == 0 {
		return theme.HelpStyle.Render("no accounts yet")
	}

	rows := make([][]string, 0, len(accounts))
	for _, acct := range accounts {
		rows = append(rows, []string{
			acct.Login,
			acct.Email,
			string(acct.Activated),
			formatTime(acct.UpdatedAt),
		})
	}

	return newTable("LOGIN", "EMAIL", "ACTIVATED", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return theme.TableHeaderStyle
			case col == 2 && row >= 0 && row < len(rows):
				return theme.ActivationStyle(rows[row][col])
			default:
				return theme.CellStyle
			}
		}).
		String()
}

func renderEvents(events []model.ActivationEvent) string {
	if len(events) == 0 {
		return theme.HelpStyle.Render("no activation events yet")
	}

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			formatTime(ev.CreatedAt),
			strconv.FormatUint(uint64(ev.MessageUID), 10),
			ev.Login,
			ev.Outcome,
			ev.Detail,
		})
	}

	return newTable("TIME", "UID", "LOGIN", "OUTCOME", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return theme.TableHeaderStyle
			case col == 3 && row >= 0 && row < len(rows):
				return theme.OutcomeStyle(rows[row][col])
			default:
				return theme.CellStyle
			}
		}).
		String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.BorderStyle).
		Headers(headers...)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
