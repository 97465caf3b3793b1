package master

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// csvHeader matches the column labels the admin spreadsheet import expects.
var csvHeader = []string{"分類", "名称", "説明"}

func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", ExportJSON:
		return ExportJSON, nil
	case ExportCSV:
		return ExportCSV, nil
	}
	return "", invalidValue("format", s, []string{string(ExportJSON), string(ExportCSV)})
}

// ContentType is the media type of the encoded export.
func (f ExportFormat) ContentType() string {
	if f == ExportCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Export writes every record of t visible to orgID.
func (s *Service) Export(ctx context.Context, t Type, orgID string, format ExportFormat, w io.Writer) error {
	recs, err := s.store.ListByType(ctx, t, ListFilter{OrganizationID: orgID})
	if err != nil {
		return err
	}
	switch format {
	case ExportCSV:
		return writeCSV(w, recs)
	case ExportJSON, "":
		if recs == nil {
			recs = []*Record{}
		}
		return json.NewEncoder(w).Encode(map[string]interface{}{"items": recs})
	}
	return invalidValue("format", string(format), []string{string(ExportJSON), string(ExportCSV)})
}

func writeCSV(w io.Writer, recs []*Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	for _, r := range recs {
		if err := cw.Write([]string{r.Category, r.Name, r.Description}); err != nil {
			return fmt.Errorf("export csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
