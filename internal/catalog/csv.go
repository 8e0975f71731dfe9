package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mvasiljev/orderchain/internal/money"
)

// LineError reports a malformed CSV import line. Line numbers are
// zero-based to match the import file's record index.
type LineError struct {
	Line   int
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s on line %d", e.Reason, e.Line)
}

// ParseCSV reads a product import file. Each record is
//
//	category1|category2,name,price
//
// and yields a product with normalized (two decimal place) price.
func ParseCSV(r io.Reader) ([]*Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Field count is validated per line for precise errors.

	var products []*Product
	for line := 0; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LineError{Line: line, Reason: "malformed record"}
		}
		if len(record) != 3 {
			return nil, &LineError{Line: line, Reason: "incorrect number of values"}
		}

		var categories []string
		for _, c := range strings.Split(record[0], "|") {
			c = strings.TrimSpace(c)
			if c == "" {
				return nil, &LineError{Line: line, Reason: "empty category"}
			}
			categories = append(categories, c)
		}

		name := strings.TrimSpace(record[1])
		if name == "" {
			return nil, &LineError{Line: line, Reason: "missing product name"}
		}

		price := strings.TrimSpace(record[2])
		if price == "" {
			return nil, &LineError{Line: line, Reason: "incorrect price"}
		}
		minor, ok := money.ToMinor(price)
		if !ok || minor.Sign() < 0 {
			return nil, &LineError{Line: line, Reason: "incorrect price"}
		}

		products = append(products, &Product{
			Name:       name,
			Price:      money.FromMinor(minor),
			Categories: categories,
		})
	}
	return products, nil
}
