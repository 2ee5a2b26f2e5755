package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crowdsift/attendee-pipeline/internal/attendee"
	"github.com/crowdsift/attendee-pipeline/internal/pipeline"
)

const (
	backupDirName    = "csv_backup"
	combinedFileName = "processed.csv"
)

// WriteCSVBackups writes one CSV per bucket under dir/csv_backup plus a
// combined processed.csv (all columns, input order) in dir. Returns the
// list of files written.
func WriteCSVBackups(dir string, rows []pipeline.Row) ([]string, error) {
	backupDir := filepath.Join(dir, backupDirName)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create backup dir: %w", err)
	}

	var written []string
	byBucket := bucketRows(rows)
	for _, c := range attendee.Classifications() {
		path := filepath.Join(backupDir, bucketFileName(c))
		header := append(append([]string{}, baseHeader...), extraColumns(c)...)
		records := make([][]string, 0, len(byBucket[c])+1)
		records = append(records, header)
		for _, row := range byBucket[c] {
			records = append(records, append(baseValues(row), extraValues(c, row)...))
		}
		if err := writeCSVFile(path, records); err != nil {
			return nil, err
		}
		written = append(written, path)
	}

	combined := filepath.Join(dir, combinedFileName)
	if err := writeCSVFile(combined, combinedRecords(rows)); err != nil {
		return nil, err
	}
	written = append(written, combined)
	return written, nil
}

func bucketFileName(c attendee.Classification) string {
	name := strings.ToLower(string(c))
	return name + "_final.csv"
}

var combinedHeader = []string{
	"First Name", "Last Name", "Company", "Job Title",
	"Email", "Email Tier", "Email Source", "Email Detail",
	"Classification", "Reason",
	"Account Name", "Relationship Owner", "Account ID", "Account URL",
	"Opportunity Name", "Opportunity Owner", "Opportunity ID", "Opportunity URL",
	"CRM Error",
}

func combinedRecords(rows []pipeline.Row) [][]string {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, combinedHeader)
	for _, row := range rows {
		a := row.Attendee
		records = append(records, []string{
			a.FirstName, a.LastName, a.Company, a.JobTitle,
			row.Email, string(row.EmailTier), string(row.EmailSource), row.EmailDetail,
			string(row.Classification), row.Reason,
			row.AccountName, row.AccountOwner, row.AccountID, row.AccountURL,
			row.OpportunityName, row.OpportunityOwner, row.OpportunityID, row.OpportunityURL,
			row.CRMErr,
		})
	}
	return records
}

func writeCSVFile(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", filepath.Base(path), err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		_ = f.Close()
		return fmt.Errorf("report: write %s: %w", filepath.Base(path), err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("report: flush %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: close %s: %w", filepath.Base(path), err)
	}
	return nil
}
