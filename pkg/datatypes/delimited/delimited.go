// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package delimited converts delimited text (CSV-like or fixed column
// widths) to and from canonical XML of the form
// <delimited><row1><column1>..</column1>..</row1>..</delimited>.
package delimited

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "DELIMITED"

// Delimited implements datatypes.DataType for delimited text.
type Delimited struct {
	// ColumnDelimiter separates columns. Default ",".
	ColumnDelimiter string
	// RecordDelimiter separates records. Default "\n".
	RecordDelimiter string
	// ColumnWidths switches to fixed-width parsing when non-empty; the
	// column delimiter is then ignored on input.
	ColumnWidths []int
	// QuoteToken wraps column values containing delimiters. Default `"`.
	QuoteToken string
	// EscapeWithDoubleQuote doubles the quote token inside quoted values.
	// When false, QuoteEscapeToken is used instead.
	EscapeWithDoubleQuote bool
	// QuoteEscapeToken escapes a quote token inside quoted values when
	// EscapeWithDoubleQuote is false. Default `\`.
	QuoteEscapeToken string
	// ColumnNames overrides the generated columnM element names. Each
	// entry must be a valid XML element name.
	ColumnNames []string
	// NumberedRows emits row1, row2, ... instead of repeated row
	// elements. Default true.
	NumberedRows bool
}

// New returns a Delimited data type with CSV defaults.
func New() *Delimited {
	return &Delimited{
		ColumnDelimiter:       ",",
		RecordDelimiter:       "\n",
		QuoteToken:            `"`,
		EscapeWithDoubleQuote: true,
		QuoteEscapeToken:      `\`,
		NumberedRows:          true,
	}
}

// Name implements datatypes.DataType.
func (d *Delimited) Name() string { return DataTypeName }

// IsSerializationRequired implements datatypes.DataType.
func (d *Delimited) IsSerializationRequired(bool) bool { return true }

// TransformWithoutSerializing implements datatypes.DataType.
func (d *Delimited) TransformWithoutSerializing(string, datatypes.DataType) (string, bool) {
	return "", false
}

// Validate checks the configured column names.
func (d *Delimited) Validate() error {
	for _, name := range d.ColumnNames {
		if !validXMLName(name) {
			return fmt.Errorf("invalid column element name %q", name)
		}
	}
	return nil
}

func validXMLName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || r == '.' || r == '-') {
			continue
		}
		return false
	}
	return true
}

func (d *Delimited) columnName(index int) string {
	if index < len(d.ColumnNames) {
		return d.ColumnNames[index]
	}
	return fmt.Sprintf("column%d", index+1)
}

// ToXML implements datatypes.DataType.
func (d *Delimited) ToXML(message string) (string, error) {
	if err := d.Validate(); err != nil {
		return "", datatypes.NewSerializationError(DataTypeName, 0, "%v", err)
	}

	var b strings.Builder
	b.WriteString("<delimited>")
	for i, record := range d.splitRecords(message) {
		rowName := "row"
		if d.NumberedRows {
			rowName = fmt.Sprintf("row%d", i+1)
		}
		b.WriteString("<" + rowName + ">")
		for j, column := range d.splitColumns(record) {
			name := d.columnName(j)
			b.WriteString("<" + name + ">" + datatypes.XMLEscape(column) + "</" + name + ">")
		}
		b.WriteString("</" + rowName + ">")
	}
	b.WriteString("</delimited>")
	return b.String(), nil
}

func (d *Delimited) splitRecords(message string) []string {
	recordDelim := orDefault(d.RecordDelimiter, "\n")
	message = strings.TrimSuffix(message, recordDelim)
	if message == "" {
		return nil
	}
	return strings.Split(message, recordDelim)
}

func (d *Delimited) splitColumns(record string) []string {
	record = strings.TrimRight(record, "\r")
	if len(d.ColumnWidths) > 0 {
		columns := make([]string, 0, len(d.ColumnWidths))
		for _, width := range d.ColumnWidths {
			if len(record) < width {
				columns = append(columns, record)
				record = ""
				continue
			}
			columns = append(columns, record[:width])
			record = record[width:]
		}
		return columns
	}

	columnDelim := orDefault(d.ColumnDelimiter, ",")
	quote := orDefault(d.QuoteToken, `"`)
	escape := orDefault(d.QuoteEscapeToken, `\`)

	var columns []string
	var col strings.Builder
	quoted := false
	for i := 0; i < len(record); {
		switch {
		case quoted && d.EscapeWithDoubleQuote && strings.HasPrefix(record[i:], quote+quote):
			col.WriteString(quote)
			i += 2 * len(quote)
		case quoted && !d.EscapeWithDoubleQuote && strings.HasPrefix(record[i:], escape+quote):
			col.WriteString(quote)
			i += len(escape) + len(quote)
		case strings.HasPrefix(record[i:], quote):
			quoted = !quoted
			i += len(quote)
		case !quoted && strings.HasPrefix(record[i:], columnDelim):
			columns = append(columns, col.String())
			col.Reset()
			i += len(columnDelim)
		default:
			col.WriteByte(record[i])
			i++
		}
	}
	columns = append(columns, col.String())
	return columns
}

// FromXML implements datatypes.DataType.
func (d *Delimited) FromXML(doc string) (string, error) {
	root, err := datatypes.ParseTree(doc)
	if err != nil {
		return "", err
	}
	columnDelim := orDefault(d.ColumnDelimiter, ",")
	recordDelim := orDefault(d.RecordDelimiter, "\n")

	var b strings.Builder
	for _, row := range root.Children {
		columns := make([]string, 0, len(row.Children))
		for _, column := range row.Children {
			columns = append(columns, d.quoteColumn(column.Text))
		}
		b.WriteString(strings.Join(columns, columnDelim))
		b.WriteString(recordDelim)
	}
	return b.String(), nil
}

// quoteColumn wraps a value in the quote token when it contains a column
// or record delimiter or the quote token itself. Fixed-width output pads
// instead of quoting.
func (d *Delimited) quoteColumn(value string) string {
	if len(d.ColumnWidths) > 0 {
		return value
	}
	columnDelim := orDefault(d.ColumnDelimiter, ",")
	recordDelim := orDefault(d.RecordDelimiter, "\n")
	quote := orDefault(d.QuoteToken, `"`)
	escape := orDefault(d.QuoteEscapeToken, `\`)

	if !strings.Contains(value, columnDelim) && !strings.Contains(value, recordDelim) && !strings.Contains(value, quote) {
		return value
	}
	if d.EscapeWithDoubleQuote {
		value = strings.ReplaceAll(value, quote, quote+quote)
	} else {
		value = strings.ReplaceAll(value, quote, escape+quote)
	}
	return quote + value + quote
}

// PopulateMetaData implements datatypes.DataType. Delimited text carries
// no standard envelope, so nothing is extracted.
func (d *Delimited) PopulateMetaData(string, map[string]interface{}) {}

// NewBatchAdaptor implements datatypes.BatchProvider: each record becomes
// an independent message.
func (d *Delimited) NewBatchAdaptor(r io.Reader) datatypes.BatchAdaptor {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &batchAdaptor{d: d, scanner: scanner}
}

type batchAdaptor struct {
	d       *Delimited
	scanner *bufio.Scanner
}

// Next returns the following record, or io.EOF.
func (b *batchAdaptor) Next() (string, error) {
	for b.scanner.Scan() {
		record := strings.TrimRight(b.scanner.Text(), "\r")
		if record == "" {
			continue
		}
		return record, nil
	}
	if err := b.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
