package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/rtm/internal/extension"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

// statusRow is the rendered state of one extension.
type statusRow struct {
	ID         string  `json:"id" yaml:"id"`
	Phase      string  `json:"phase" yaml:"phase"`
	Version    string  `json:"version,omitempty" yaml:"version,omitempty"`
	Latest     string  `json:"latest,omitempty" yaml:"latest,omitempty"`
	Progress   float64 `json:"progress,omitempty" yaml:"progress,omitempty"`
	Message    string  `json:"message,omitempty" yaml:"message,omitempty"`
	Executable string  `json:"executable,omitempty" yaml:"executable,omitempty"`
}

func newStatusRow(id string, s extension.State, latest, executable string) statusRow {
	row := statusRow{
		ID:         id,
		Phase:      s.Phase.String(),
		Version:    s.Version,
		Latest:     latest,
		Progress:   s.Progress,
		Message:    s.Message,
		Executable: executable,
	}
	if s.Latest != "" {
		row.Latest = s.Latest
	}
	return row
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported structured format %q", format)
	}
}

func writeStatus(w io.Writer, format string, rows []statusRow) error {
	if format != outputText {
		return writeStructured(w, format, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "EXTENSION\tSTATE\tVERSION\tLATEST\tDETAIL")
	for _, r := range rows {
		detail := r.Message
		if r.Phase == extension.PhaseInstalling.String() {
			detail = fmt.Sprintf("%.0f%%", r.Progress*100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Phase, dash(r.Version), dash(r.Latest), detail)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
