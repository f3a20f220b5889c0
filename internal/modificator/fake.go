package modificator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"db-clone/internal/object"
	"db-clone/internal/schema"

	"github.com/brianvoe/gofakeit/v6"
)

// Fake overwrites a column of the written row with generated data, e.g. to
// anonymize exported users. The generator follows kind, or the meaning
// inferred for the column when kind is empty.
//
// Parameters: column, kind (email, phone, name, firstname, lastname, username,
// address, zipcode, city, country, company, url, ip, password, description).
type Fake struct {
	column string
	kind   string
}

func (m *Fake) Init(table *schema.Table, params map[string]string) error {
	if err := required(params, "column"); err != nil {
		return err
	}
	m.column, m.kind = params["column"], strings.ToLower(params["kind"])
	if m.kind != "" {
		if _, ok := generators[m.kind]; !ok {
			return fmt.Errorf("unknown kind %q", m.kind)
		}
	}
	return nil
}

func (m *Fake) Modify(ctx context.Context, run Run, obj *object.Object, action object.Action) error {
	col, ok := obj.Table.Column(m.column)
	if !ok {
		col = &schema.Column{Name: m.column, DataType: "varchar"}
	}
	return updateRow(ctx, run, obj, []string{m.column}, []any{GenerateValue(col, m.kind)})
}

var generators = map[string]func() string{
	"email":       gofakeit.Email,
	"phone":       gofakeit.Phone,
	"name":        gofakeit.Name,
	"firstname":   gofakeit.FirstName,
	"lastname":    gofakeit.LastName,
	"username":    gofakeit.Username,
	"address":     gofakeit.Street,
	"zipcode":     gofakeit.Zip,
	"city":        gofakeit.City,
	"country":     gofakeit.Country,
	"company":     gofakeit.Company,
	"url":         gofakeit.URL,
	"ip":          gofakeit.IPv4Address,
	"password":    func() string { return gofakeit.Password(true, true, true, false, false, 12) },
	"description": func() string { return gofakeit.Sentence(10) },
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return s
}

// GenerateValue generates a random value for a column. kind wins over the
// column's inferred meaning; without either the data type decides.
func GenerateValue(col *schema.Column, kind string) any {
	if kind == "" {
		kind = col.Meaning
	}
	if gen, ok := generators[kind]; ok {
		return truncate(gen(), col.Length)
	}

	dataType := strings.ToLower(col.DataType)

	// 1. Strings
	if strings.Contains(dataType, "char") || strings.Contains(dataType, "text") ||
		strings.Contains(dataType, "string") || strings.Contains(dataType, "clob") {
		if col.Length > 0 && col.Length < 20 {
			return truncate(gofakeit.Word(), col.Length)
		}
		return truncate(gofakeit.Sentence(5), col.Length)
	}

	// 2. Date / time (formatted, MSSQL accepts strings more readily than time.Time)
	if strings.Contains(dataType, "date") || strings.Contains(dataType, "time") {
		val := gofakeit.DateRange(time.Now().AddDate(-1, 0, 0), time.Now())
		switch dataType {
		case "date":
			return val.Format("2006-01-02")
		case "time":
			return val.Format("15:04:05")
		}
		return val.Format("2006-01-02 15:04:05")
	}

	// 3. Numbers
	if strings.Contains(dataType, "int") || strings.Contains(dataType, "number") {
		if strings.Contains(dataType, "tinyint") {
			return gofakeit.Number(0, 127)
		}
		if strings.Contains(dataType, "smallint") {
			return gofakeit.Number(1, 30000)
		}
		maxVal := 50000
		if col.Length > 0 && col.Length < 5 {
			limit := 1
			for i := 0; i < col.Length; i++ {
				limit *= 10
			}
			maxVal = limit - 1
		}
		return gofakeit.Number(1, maxVal)
	}
	if strings.Contains(dataType, "decimal") || strings.Contains(dataType, "numeric") ||
		strings.Contains(dataType, "float") || strings.Contains(dataType, "double") {
		return gofakeit.Price(0.99, 99.99)
	}

	// 4. Boolean
	if strings.Contains(dataType, "bool") || strings.Contains(dataType, "bit") {
		return gofakeit.Bool()
	}

	// 5. Binary
	if strings.Contains(dataType, "binary") || strings.Contains(dataType, "blob") || strings.Contains(dataType, "bytea") {
		return []byte(gofakeit.LetterN(16))
	}

	return nil
}
