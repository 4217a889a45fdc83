package mapping

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// csvColumns is the expected column order for a mapping import file. Only the
// first two columns are required per row.
var csvColumns = []string{"source_code", "target_code", "mapping_type", "confidence", "notes"}

// ImportCSV reads mapping rows and creates them in order with duplicate-skip
// semantics. A bad row is counted and reported; it never aborts the batch.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (*ImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	report := &ImportReport{}
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			report.Errors++
			report.Details = append(report.Details, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if line == 1 && isHeaderRow(record) {
			continue
		}
		report.Rows++

		in, err := parseCSVRow(record)
		if err != nil {
			report.Errors++
			report.Details = append(report.Details, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		_, created, err := s.Create(ctx, in)
		if err != nil {
			report.Errors++
			report.Details = append(report.Details, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if created {
			report.Created++
		} else {
			report.Skipped++
		}
	}
	s.logger.Info().
		Int("rows", report.Rows).
		Int("created", report.Created).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Msg("mapping import finished")
	return report, nil
}

func isHeaderRow(record []string) bool {
	if len(record) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record[0]), csvColumns[0])
}

func parseCSVRow(record []string) (CreateInput, error) {
	if len(record) < 2 {
		return CreateInput{}, fmt.Errorf("expected at least 2 columns, got %d", len(record))
	}
	in := CreateInput{
		SourceCode:  strings.TrimSpace(record[0]),
		TargetCode:  strings.TrimSpace(record[1]),
		OnDuplicate: DuplicateSkip,
	}
	if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
		in.MappingType = MappingType(strings.TrimSpace(record[2]))
	}
	if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
		confidence, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
		if err != nil {
			return CreateInput{}, fmt.Errorf("invalid confidence %q", record[3])
		}
		in.Confidence = &confidence
	}
	if len(record) > 4 {
		in.Notes = strings.TrimSpace(record[4])
	}
	return in, nil
}
