// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package x12

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// isaSegment builds a fixed-width ISA segment using the given element
// separator, without the segment terminator. The result is always 105
// bytes, with the subelement separator ":" at offset 104.
func isaSegment(t *testing.T, elem string) string {
	seg := strings.Join([]string{
		"ISA",
		"00", "          ",
		"00", "          ",
		"ZZ", "SUBMITTERID    ",
		"ZZ", "RECEIVERID     ",
		"200101", "1253",
		"^", "00501", "000000905",
		"1", "T", ":",
	}, elem)
	require.Len(t, seg, 105)
	return seg
}

func interchange(t *testing.T, elem, term string) string {
	segs := []string{
		isaSegment(t, elem),
		strings.Join([]string{"GS", "HC", "SENDERGS", "RECEIVERGS", "20200101", "1253", "1", "X", "005010X222A1"}, elem),
		strings.Join([]string{"ST", "837", "0001"}, elem),
		strings.Join([]string{"SE", "2", "0001"}, elem),
		strings.Join([]string{"GE", "1", "1"}, elem),
		strings.Join([]string{"IEA", "1", "000000905"}, elem),
	}
	return strings.Join(segs, term) + term
}

func TestToXMLStandardDelimiters(t *testing.T) {
	msg := interchange(t, "*", "~")

	doc, err := New().ToXML(msg)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, `<X12 segment="~" element="*" subelement=":">`), doc)
	assert.Contains(t, doc, "<ISA.06>SUBMITTERID    </ISA.06>")
	assert.Contains(t, doc, "<GS.08>005010X222A1</GS.08>")
	assert.Contains(t, doc, "<ST.01>837</ST.01>")
}

func TestToXMLInfersDelimitersFromISA(t *testing.T) {
	// Element separator "~" and segment terminator "\n", read off the
	// fixed-width ISA block rather than from configuration.
	msg := interchange(t, "~", "\n")

	doc, err := New().ToXML(msg)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, `<X12 segment="&#10;" element="~" subelement=":">`), doc)
	assert.Contains(t, doc, "<ISA.06>SUBMITTERID    </ISA.06>")
	assert.Contains(t, doc, "<GS.02>SENDERGS</GS.02>")
	assert.NotContains(t, doc, "*")
}

func TestRoundTrip(t *testing.T) {
	x := New()
	for name, msg := range map[string]string{
		"standard":   interchange(t, "*", "~"),
		"inferred":   interchange(t, "~", "\n"),
		"composites": "ISA" + strings.TrimPrefix(isaSegment(t, "*"), "ISA") + "~CLM*26463774*100***11:B:1~",
	} {
		t.Run(name, func(t *testing.T) {
			doc, err := x.ToXML(msg)
			require.NoError(t, err)
			back, err := x.FromXML(doc)
			require.NoError(t, err)
			assert.Equal(t, msg, back)
		})
	}
}

func TestToXMLCompositeSubelements(t *testing.T) {
	msg := isaSegment(t, "*") + "~CLM*26463774*100***11:B:1~"

	doc, err := New().ToXML(msg)
	require.NoError(t, err)

	assert.Contains(t, doc, "<CLM.05><CLM.05.1>11</CLM.05.1><CLM.05.2>B</CLM.05.2><CLM.05.3>1</CLM.05.3></CLM.05>")
	assert.Contains(t, doc, "<CLM.03></CLM.03>")
}

func TestPopulateMetaData(t *testing.T) {
	metadata := map[string]interface{}{}
	New().PopulateMetaData(interchange(t, "*", "~"), metadata)

	assert.Equal(t, "SUBMITTERID", metadata[datatypes.MetaDataSourceKey])
	assert.Equal(t, "837", metadata[datatypes.MetaDataTypeKey])
	assert.Equal(t, "005010X222A1", metadata[datatypes.MetaDataVersionKey])
}

func TestPopulateMetaDataSourceFallsBackToGS(t *testing.T) {
	metadata := map[string]interface{}{}
	New().PopulateMetaData("GS*HC*SENDERGS*RECEIVERGS*20200101*1253*1*X*005010X222A1~ST*837*0001~", metadata)

	assert.Equal(t, "SENDERGS", metadata[datatypes.MetaDataSourceKey])
}

func TestToXMLTooShort(t *testing.T) {
	_, err := New().ToXML("IS")
	var serr *datatypes.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, DataTypeName, serr.DataType)
}

func TestBatchAdaptorSplitsTransactionSets(t *testing.T) {
	msg := isaSegment(t, "*") + "~" +
		"GS*HC*S*R*20200101*1253*1*X*005010X222A1~" +
		"ST*837*0001~CLM*1*100~SE*3*0001~" +
		"ST*837*0002~CLM*2*200~SE*3*0002~" +
		"GE*2*1~IEA*1*000000905~"

	adaptor := New().NewBatchAdaptor(strings.NewReader(msg))

	first, err := adaptor.Next()
	require.NoError(t, err)
	assert.Equal(t, "ST*837*0001~CLM*1*100~SE*3*0001~", first)

	second, err := adaptor.Next()
	require.NoError(t, err)
	assert.Equal(t, "ST*837*0002~CLM*2*200~SE*3*0002~", second)

	_, err = adaptor.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBatchAdaptorNoTransactionSets(t *testing.T) {
	adaptor := New().NewBatchAdaptor(strings.NewReader("CLM*1*100~"))

	msg, err := adaptor.Next()
	require.NoError(t, err)
	assert.Equal(t, "CLM*1*100~", msg)

	_, err = adaptor.Next()
	assert.Equal(t, io.EOF, err)
}
