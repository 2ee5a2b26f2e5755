package attendee

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Required input columns. An "Email" column is accepted but optional.
var requiredColumns = []string{"First Name", "Last Name", "Company", "Job Title"}

// ReadCSV reads attendees from a CSV export. Column lookup is by header
// name, case-insensitive; extra columns are ignored. A UTF-8 BOM on the
// first header cell is stripped (registration platforms commonly emit one).
func ReadCSV(r io.Reader) ([]Attendee, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[strings.ToLower(col)]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	get := func(rec []string, col string) string {
		i, ok := index[strings.ToLower(col)]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []Attendee
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(out)+2, err)
		}
		out = append(out, Attendee{
			FirstName: get(rec, "First Name"),
			LastName:  get(rec, "Last Name"),
			Company:   get(rec, "Company"),
			JobTitle:  get(rec, "Job Title"),
			Email:     get(rec, "Email"),
		})
	}
	return out, nil
}
