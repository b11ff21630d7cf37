package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/testbed/internal/readiness"
	"github.com/harunnryd/testbed/internal/sandbox"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ServiceRow is one service in a readiness report.
type ServiceRow struct {
	Service    string `json:"service" yaml:"service"`
	Status     string `json:"status" yaml:"status"`
	ReadyAfter string `json:"ready_after,omitempty" yaml:"ready_after,omitempty"`
}

// OrphanRow is one abandoned sandbox found by gc.
type OrphanRow struct {
	Name          string `json:"name" yaml:"name"`
	Path          string `json:"path" yaml:"path"`
	SupervisorPID int    `json:"supervisor_pid,omitempty" yaml:"supervisor_pid,omitempty"`
	DatastoreDir  string `json:"datastore_dir,omitempty" yaml:"datastore_dir,omitempty"`
	Removed       bool   `json:"removed" yaml:"removed"`
}

type Formatter interface {
	FormatReadiness([]ServiceRow) (string, error)
	FormatOrphans([]OrphanRow) (string, error)
}

func New(format OutputFormat) (Formatter, error) {
	switch format {
	case OutputFormatTable:
		return NewTableFormatter(), nil
	case OutputFormatJSON:
		return NewJSONFormatter(), nil
	case OutputFormatYAML:
		return NewYAMLFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, json, yaml)", format)
	}
}

func ParseOutputFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(s))
	switch format {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json, yaml)", s)
	}
}

func ReadinessRows(statuses []readiness.ServiceStatus) []ServiceRow {
	rows := make([]ServiceRow, len(statuses))
	for i, status := range statuses {
		row := ServiceRow{Service: status.Name, Status: "pending"}
		if status.Ready {
			row.Status = "ready"
			row.ReadyAfter = status.ReadyAt.Round(time.Millisecond).String()
		}
		rows[i] = row
	}
	return rows
}

func OrphanRows(orphans []sandbox.Orphan) []OrphanRow {
	rows := make([]OrphanRow, len(orphans))
	for i, orphan := range orphans {
		row := OrphanRow{Name: orphan.Name, Path: orphan.RootPath}
		if orphan.State != nil {
			row.SupervisorPID = orphan.State.SupervisorPID
			row.DatastoreDir = orphan.State.DatastoreDir
		}
		rows[i] = row
	}
	return rows
}
