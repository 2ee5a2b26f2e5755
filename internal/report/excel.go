// Package report renders a finished run as an Excel workbook with one tab
// per outreach bucket, plus plain CSV backups.
package report

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/crowdsift/attendee-pipeline/internal/attendee"
	"github.com/crowdsift/attendee-pipeline/internal/pipeline"
)

const WorkbookName = "conference_attendees_results.xlsx"

// tabNames maps each bucket to its sheet title, in report order.
var tabNames = map[attendee.Classification]string{
	attendee.CurrentCustomer:   "Current Customers",
	attendee.OpenOpportunity:   "Open Opportunities",
	attendee.QualifiedProspect: "Qualified Prospects",
	attendee.NoCRMMatch:        "No SF Match",
	attendee.Disqualified:      "Disqualified - ROE",
}

var baseHeader = []string{
	"First Name", "Last Name", "Company", "Job Title",
	"Email", "Email Tier", "Email Source",
}

// extraColumns returns the bucket-specific trailing columns.
func extraColumns(c attendee.Classification) []string {
	switch c {
	case attendee.CurrentCustomer:
		return []string{"Relationship Owner", "Account ID", "Account URL", "Reason"}
	case attendee.OpenOpportunity:
		return []string{"Opportunity Owner", "Opportunity ID", "Opportunity URL", "Reason"}
	case attendee.Disqualified:
		return []string{"Relationship Owner", "Account ID", "Account URL", "Reason"}
	default:
		return []string{"Reason"}
	}
}

func extraValues(c attendee.Classification, row pipeline.Row) []string {
	switch c {
	case attendee.CurrentCustomer, attendee.Disqualified:
		return []string{row.AccountOwner, row.AccountID, row.AccountURL, row.Reason}
	case attendee.OpenOpportunity:
		return []string{row.OpportunityOwner, row.OpportunityID, row.OpportunityURL, row.Reason}
	default:
		return []string{row.Reason}
	}
}

func baseValues(row pipeline.Row) []string {
	a := row.Attendee
	return []string{
		a.FirstName, a.LastName, a.Company, a.JobTitle,
		row.Email, string(row.EmailTier), string(row.EmailSource),
	}
}

// WriteWorkbook writes the bucketed workbook into dir and returns the
// file path. Every bucket gets a tab even when empty.
func WriteWorkbook(dir string, rows []pipeline.Row) (string, error) {
	byBucket := bucketRows(rows)

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	for i, c := range attendee.Classifications() {
		sheet := tabNames[c]
		if i == 0 {
			// excelize starts with one default sheet; rename it.
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return "", fmt.Errorf("report: rename sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return "", fmt.Errorf("report: new sheet %s: %w", sheet, err)
			}
		}
		if err := writeSheet(f, sheet, c, byBucket[c]); err != nil {
			return "", err
		}
	}

	path := filepath.Join(dir, WorkbookName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("report: save workbook: %w", err)
	}
	return path, nil
}

func writeSheet(f *excelize.File, sheet string, c attendee.Classification, rows []pipeline.Row) error {
	header := append(append([]string{}, baseHeader...), extraColumns(c)...)
	widths := make([]int, len(header))

	if err := setRow(f, sheet, 1, header, widths); err != nil {
		return err
	}
	for i, row := range rows {
		values := append(baseValues(row), extraValues(c, row)...)
		if err := setRow(f, sheet, i+2, values, widths); err != nil {
			return err
		}
	}

	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("report: column name: %w", err)
		}
		w := float64(width) + 2
		if w > 50 {
			w = 50
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("report: set width: %w", err)
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string, widths []int) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("report: cell name: %w", err)
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
		if i < len(widths) && len(v) > widths[i] {
			widths[i] = len(v)
		}
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("report: write row: %w", err)
	}
	return nil
}

func bucketRows(rows []pipeline.Row) map[attendee.Classification][]pipeline.Row {
	out := make(map[attendee.Classification][]pipeline.Row, 5)
	for _, row := range rows {
		out[row.Classification] = append(out[row.Classification], row)
	}
	return out
}
