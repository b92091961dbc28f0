// Package csvexport writes graded answers as spreadsheet-friendly CSV.
package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"assesslab/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// columns defines the CSV header row, one row per graded answer.
var columns = []string{
	"Test ID",
	"Student Name",
	"Roll No",
	"Class",
	"Subject",
	"Question No",
	"Question",
	"Student Answer",
	"Expected Answer",
	"Score",
	"Max Score",
	"Remarks",
	"Confidence",
	"Match Method",
	"Total Score",
	"Total Possible",
	"Percentage",
	"Evaluated At",
}

// Writer wraps csv.Writer for exporting evaluations as CSV.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(columns)
}

// WriteEvaluation writes one row per answer. An evaluation without answers still yields a
// single summary row so the student appears in the export.
func (w *Writer) WriteEvaluation(resp *domain.EvaluationResponse) error {
	if len(resp.Answers) == 0 {
		return w.csv.Write(baseRow(resp))
	}
	for i := range resp.Answers {
		row := baseRow(resp)
		a := &resp.Answers[i]
		row[5] = string(a.QuestionNumber)
		row[6] = a.QuestionText
		row[7] = a.StudentAnswer
		row[8] = a.ExpectedAnswer
		row[9] = formatScore(a.Score[0])
		row[10] = formatScore(a.Score[1])
		row[11] = a.Remarks
		row[12] = strconv.FormatFloat(a.Confidence, 'f', 2, 64)
		row[13] = string(a.MatchMethod)
		if err := w.csv.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

// baseRow fills the per-student columns shared by every answer row.
func baseRow(resp *domain.EvaluationResponse) []string {
	row := make([]string, len(columns))
	row[0] = resp.Metadata.TestID
	row[1] = resp.StudentName
	row[2] = resp.RollNo
	row[3] = resp.Class
	row[4] = resp.Subject
	if resp.Summary != nil {
		row[14] = formatScore(resp.Summary.TotalScore[0])
		row[15] = formatScore(resp.Summary.TotalScore[1])
		row[16] = strconv.FormatFloat(resp.Summary.Percentage, 'f', 2, 64)
	}
	row[17] = formatTime(resp.Metadata.EvaluationTimestamp)
	return row
}

// formatScore drops the fraction for whole marks.
func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename replaces characters outside [a-zA-Z0-9_-] with _, collapses runs of
// underscores, and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// BuildFilename returns {testId}_{roll or name}_{YYYY-MM-DD}.csv with every part sanitized.
func BuildFilename(resp *domain.EvaluationResponse, now time.Time) string {
	who := resp.RollNo
	if who == "" {
		who = resp.StudentName
	}
	parts := []string{SanitizeFilename(resp.Metadata.TestID)}
	if s := SanitizeFilename(who); s != "" {
		parts = append(parts, s)
	}
	return fmt.Sprintf("%s_%s.csv", strings.Join(parts, "_"), now.Format("2006-01-02"))
}
