// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package delimited

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToXMLNumberedRowsAndColumns(t *testing.T) {
	doc, err := New().ToXML("MRN001,SMITH,JOHN\nMRN002,DOE,JANE\n")
	require.NoError(t, err)

	assert.Equal(t,
		"<delimited>"+
			"<row1><column1>MRN001</column1><column2>SMITH</column2><column3>JOHN</column3></row1>"+
			"<row2><column1>MRN002</column1><column2>DOE</column2><column3>JANE</column3></row2>"+
			"</delimited>", doc)
}

func TestColumnNameOverride(t *testing.T) {
	d := New()
	d.ColumnNames = []string{"mrn", "last", "first"}

	doc, err := d.ToXML("MRN001,SMITH,JOHN")
	require.NoError(t, err)
	assert.Contains(t, doc, "<mrn>MRN001</mrn><last>SMITH</last><first>JOHN</first>")
}

func TestInvalidColumnNameRejected(t *testing.T) {
	d := New()
	d.ColumnNames = []string{"1badname"}

	_, err := d.ToXML("a,b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1badname")
}

func TestQuotedColumns(t *testing.T) {
	d := New()

	doc, err := d.ToXML(`MRN001,"SMITH, JR","he said ""hi"""`)
	require.NoError(t, err)
	assert.Contains(t, doc, "<column2>SMITH, JR</column2>")
	assert.Contains(t, doc, "<column3>he said \"hi\"</column3>")
}

func TestEscapeTokenQuoting(t *testing.T) {
	d := New()
	d.EscapeWithDoubleQuote = false

	doc, err := d.ToXML(`a,"b \" c"`)
	require.NoError(t, err)
	assert.Contains(t, doc, `<column2>b " c</column2>`)
}

func TestRoundTrip(t *testing.T) {
	d := New()
	msg := "MRN001,\"SMITH, JR\",JOHN\nMRN002,DOE,\"say \"\"hi\"\"\"\n"

	doc, err := d.ToXML(msg)
	require.NoError(t, err)
	back, err := d.FromXML(doc)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestFixedColumnWidths(t *testing.T) {
	d := New()
	d.ColumnWidths = []int{6, 5, 4}

	doc, err := d.ToXML("MRN001SMITHJOHN\n")
	require.NoError(t, err)
	assert.Contains(t, doc, "<column1>MRN001</column1><column2>SMITH</column2><column3>JOHN</column3>")
}

func TestFixedWidthShortRecord(t *testing.T) {
	d := New()
	d.ColumnWidths = []int{6, 5}

	doc, err := d.ToXML("MRN001SM")
	require.NoError(t, err)
	assert.Contains(t, doc, "<column1>MRN001</column1><column2>SM</column2>")
}

func TestCustomDelimiters(t *testing.T) {
	d := New()
	d.ColumnDelimiter = "|"
	d.RecordDelimiter = ";"

	doc, err := d.ToXML("a|b;c|d;")
	require.NoError(t, err)
	assert.Contains(t, doc, "<row1><column1>a</column1><column2>b</column2></row1>")
	assert.Contains(t, doc, "<row2><column1>c</column1><column2>d</column2></row2>")

	back, err := d.FromXML(doc)
	require.NoError(t, err)
	assert.Equal(t, "a|b;c|d;", back)
}

func TestBatchAdaptor(t *testing.T) {
	adaptor := New().NewBatchAdaptor(strings.NewReader("a,b\r\nc,d\n\ne,f"))

	for _, want := range []string{"a,b", "c,d", "e,f"} {
		got, err := adaptor.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := adaptor.Next()
	assert.Equal(t, io.EOF, err)
}
