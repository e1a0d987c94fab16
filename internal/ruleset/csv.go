package ruleset

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
)

// readCSVPairs reads a two-column CSV file, trimming each cell and skipping
// rows with an empty cell. No header row is recognised: every row is data,
// and callers validate contents instead.
func readCSVPairs(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true

	var rows [][2]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		a := strings.TrimSpace(rec[0])
		b := strings.TrimSpace(rec[1])
		if a == "" || b == "" {
			continue
		}
		rows = append(rows, [2]string{a, b})
	}
	return rows, nil
}
