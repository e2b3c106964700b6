package assessment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// CellValue is a parsed measurement cell.
type CellValue struct {
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Status   string  `json:"status"`
	Year     int     `json:"year"`
}

// compactCell is the grammar of cells written as text, for example
// "1200.5 kWh (Estimated) in 2016".
type compactCell struct {
	Quantity float64  `parser:"@Number"`
	Unit     []string `parser:"@Word*"`
	Status   []string `parser:"( '(' @(Word | Number | In)* ')' )?"`
	Year     int      `parser:"( In @Number )?"`
}

var cellLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "In", Pattern: `\bin\b`},
	{Name: "Number", Pattern: `[-+]?(\d+(\.\d*)?|\.\d+)([eE][-+]?\d+)?`},
	{Name: "Word", Pattern: `[^\s()\d][^\s()]*`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var cellParser = participle.MustBuild[compactCell](
	participle.Lexer(cellLexer),
	participle.Elide("Whitespace"),
)

// ParseCell parses a measurement cell, either a JSON object with quantity,
// unit, status and year or the compact text form.
func ParseCell(s string) (CellValue, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var v struct {
			Quantity *float64 `json:"quantity"`
			Unit     string   `json:"unit"`
			Status   string   `json:"status"`
			Year     int      `json:"year"`
		}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return CellValue{}, fmt.Errorf("parse cell %q: %w", s, err)
		}
		if v.Quantity == nil {
			return CellValue{}, fmt.Errorf("parse cell %q: missing quantity", s)
		}
		return CellValue{Quantity: *v.Quantity, Unit: v.Unit, Status: v.Status, Year: v.Year}, nil
	}
	c, err := cellParser.ParseString("", strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return CellValue{}, fmt.Errorf("parse cell %q: %w", s, err)
	}
	return CellValue{
		Quantity: c.Quantity,
		Unit:     strings.Join(c.Unit, " "),
		Status:   strings.Join(c.Status, " "),
		Year:     c.Year,
	}, nil
}
