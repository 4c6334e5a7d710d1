package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/offsync/internal/client/iocli"
)

// render печатает v в YAML или вызывает text для человекочитаемого вывода
func render(out iocli.IO, format string, v any, text func()) error {
	if format != "yaml" {
		text()
		return nil
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

// table выводит строки, выровненные по колонкам
func table(out iocli.IO, header string, rows []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, header)
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, row)
	}
	_ = w.Flush()
}

// formatMillis форматирует unix ms; 0 означает "никогда"
func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// rawString возвращает JSON снимок как строку для YAML вывода
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
