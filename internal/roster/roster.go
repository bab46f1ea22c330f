// Package roster loads the respondent CSV export and provides the
// forgiving column lookup the spreadsheet-mangled headers require.
package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// Normalize collapses runs of whitespace (including the newlines Qualtrics
// embeds in question headings) into single spaces and trims the result.
func Normalize(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// Row is a single respondent record.
type Row struct {
	// Index is the 1-based position of the row within the CSV data
	// (header excluded). It is the identity used by the run ledger.
	Index int

	headers []string
	values  map[string]string
}

// Get returns the trimmed value for a column. Exact header match wins;
// otherwise headers are compared whitespace-normalized, which absorbs the
// trailing spaces and embedded newlines spreadsheet exports accumulate.
func (r Row) Get(column string) string {
	if v, ok := r.values[column]; ok {
		return strings.TrimSpace(v)
	}
	want := Normalize(column)
	for _, h := range r.headers {
		if Normalize(h) == want {
			return strings.TrimSpace(r.values[h])
		}
	}
	return ""
}

// GetFirst returns the first non-empty value among the given columns.
func (r Row) GetFirst(columns ...string) string {
	for _, c := range columns {
		if v := r.Get(c); v != "" {
			return v
		}
	}
	return ""
}

// Headers returns the CSV headers in file order.
func (r Row) Headers() []string {
	out := make([]string, len(r.headers))
	copy(out, r.headers)
	return out
}

// Roster is the loaded CSV: ordered headers plus data rows.
type Roster struct {
	Headers []string
	Rows    []Row
}

// Load reads the respondent CSV. A UTF-8 BOM on the first header is
// stripped, missing trailing cells are treated as empty, and duplicate
// headers (after whitespace normalization) are rejected because the
// mapping could silently bind to the wrong column.
func Load(path string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a roster from an io.Reader. See Load.
func Parse(r io.Reader) (*Roster, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // exports often have ragged trailing cells

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	seen := make(map[string]string, len(header))
	for _, h := range header {
		key := Normalize(h)
		if key == "" {
			continue
		}
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate column %q (also appears as %q)", h, prev)
		}
		seen[key] = h
	}

	roster := &Roster{Headers: header}
	index := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", index+1, err)
		}

		index++
		values := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				values[h] = record[i]
			} else {
				values[h] = ""
			}
		}
		roster.Rows = append(roster.Rows, Row{
			Index:   index,
			headers: header,
			values:  values,
		})
	}

	return roster, nil
}

// SplitMulti splits a multi-select cell on the configured delimiter.
// Pipes and commas are normalized to the delimiter first, matching how
// operators hand-edit the export.
func SplitMulti(value, delimiter string) []string {
	s := strings.TrimSpace(value)
	if s == "" {
		return nil
	}
	if delimiter == "" {
		delimiter = ";"
	}
	for _, d := range []string{"|", ","} {
		if d != delimiter {
			s = strings.ReplaceAll(s, d, delimiter)
		}
	}
	var out []string
	for _, part := range strings.Split(s, delimiter) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// OtherLabel is the canonical choice label Qualtrics renders for the
// free-text escape hatch on single- and multi-choice questions.
const OtherLabel = "Other (please specify):"

// SplitOther detects "Other: xyz" style values. It returns the canonical
// other-choice label plus the free text, or the value untouched when it
// is not an other-value.
func SplitOther(value string) (label, freeText string) {
	low := strings.ToLower(strings.TrimSpace(value))
	if !strings.HasPrefix(low, "other") {
		return value, ""
	}
	if _, rest, ok := strings.Cut(value, ":"); ok {
		return OtherLabel, strings.TrimSpace(rest)
	}
	return OtherLabel, ""
}
