package report

import (
	"strconv"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type TableFormatter struct {
	headerStyle  lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	readyStyle   lipgloss.Style
	pendingStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")
	green := lipgloss.Color("42")
	red := lipgloss.Color("203")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		readyStyle: lipgloss.NewStyle().
			Foreground(green).
			Padding(0, 1),
		pendingStyle: lipgloss.NewStyle().
			Foreground(red).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *TableFormatter) rowStyle(row int) lipgloss.Style {
	if row%2 == 0 {
		return f.evenRowStyle
	}
	return f.oddRowStyle
}

func (f *TableFormatter) FormatReadiness(rows []ServiceRow) (string, error) {
	if len(rows) == 0 {
		return "No services expected", nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case col == 1 && rows[row].Status == "ready":
				return f.readyStyle
			case col == 1:
				return f.pendingStyle
			default:
				return f.rowStyle(row)
			}
		}).
		Headers("Service", "Status", "Ready After")

	for _, row := range rows {
		readyAfter := row.ReadyAfter
		if readyAfter == "" {
			readyAfter = "-"
		}
		t.Row(row.Service, row.Status, readyAfter)
	}

	return t.String(), nil
}

func (f *TableFormatter) FormatOrphans(rows []OrphanRow) (string, error) {
	if len(rows) == 0 {
		return "No orphaned sandboxes found", nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return f.headerStyle
			}
			return f.rowStyle(row)
		}).
		Headers("Sandbox", "Supervisor PID", "Datastore", "Removed")

	for _, row := range rows {
		pid := "-"
		if row.SupervisorPID > 0 {
			pid = strconv.Itoa(row.SupervisorPID)
		}
		datastore := row.DatastoreDir
		if datastore == "" {
			datastore = "-"
		}
		t.Row(row.Name, pid, truncateString(datastore, 48), strconv.FormatBool(row.Removed))
	}

	return t.String(), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen+3:]
}
