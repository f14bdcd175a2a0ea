// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package hl7v2

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

const adtA01 = "MSH|^~\\&|SND|FAC|RCV|FAC|20260201||ADT^A01|MSG00001|P|2.3\rPID|||12345||Doe^John\r"

func TestToXMLEmitsFieldTree(t *testing.T) {
	dt := New()
	xml, err := dt.ToXML(adtA01)
	require.NoError(t, err)

	assert.Contains(t, xml, "<MSH.1>|</MSH.1>")
	assert.Contains(t, xml, "<MSH.2>^~\\&amp;</MSH.2>")
	assert.Contains(t, xml, "<MSH.9><MSH.9.1>ADT</MSH.9.1><MSH.9.2>A01</MSH.9.2></MSH.9>")
	assert.Contains(t, xml, "<MSH.10>MSG00001</MSH.10>")
	assert.Contains(t, xml, "<PID.5><PID.5.1>Doe</PID.5.1><PID.5.2>John</PID.5.2></PID.5>")
}

func TestRoundTrip(t *testing.T) {
	dt := New()
	xml, err := dt.ToXML(adtA01)
	require.NoError(t, err)
	back, err := dt.FromXML(xml)
	require.NoError(t, err)
	assert.Equal(t, adtA01, back)
}

func TestMSHFieldsAreImplicitInER7(t *testing.T) {
	dt := New()
	xml, err := dt.ToXML(adtA01)
	require.NoError(t, err)
	back, err := dt.FromXML(xml)
	require.NoError(t, err)

	// MSH.1/MSH.2 must appear once, as the literal separators
	assert.True(t, strings.HasPrefix(back, "MSH|^~\\&|SND"))
}

func TestNonStandardDelimiters(t *testing.T) {
	msg := "MSH#*~\\&#APP#FAC#DEST#FAC#202601##ORU*R01#42#P#2.5.1\rOBX#1#ST#GLU*Glucose##105\r"
	dt := New()
	xml, err := dt.ToXML(msg)
	require.NoError(t, err)
	assert.Contains(t, xml, "<OBX.3><OBX.3.1>GLU</OBX.3.1><OBX.3.2>Glucose</OBX.3.2></OBX.3>")

	back, err := dt.FromXML(xml)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestTrailingEmptyComponentsAreTrimmed(t *testing.T) {
	msg := "MSH|^~\\&|SND|FAC|RCV|FAC|20260201||ADT^A01|1|P|2.3\rPID|||12345^^||\r"
	dt := New()
	xml, err := dt.ToXML(msg)
	require.NoError(t, err)
	back, err := dt.FromXML(xml)
	require.NoError(t, err)
	assert.Contains(t, back, "PID|||12345||\r")
}

func TestRepetitionsRoundTrip(t *testing.T) {
	msg := "MSH|^~\\&|SND|FAC|RCV|FAC|20260201||ADT^A01|1|P|2.3\rPID|||111~222~333\r"
	dt := New()
	xml, err := dt.ToXML(msg)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(xml, "<PID.3>"))

	back, err := dt.FromXML(xml)
	require.NoError(t, err)
	assert.Contains(t, back, "PID|||111~222~333\r")
}

func TestEscapedCharactersSurviveRoundTrip(t *testing.T) {
	msg := "MSH|^~\\&|SND|FAC|RCV|FAC|20260201||ADT^A01|1|P|2.3\rNTE|1||A < B & C > D\r"
	dt := New()
	xml, err := dt.ToXML(msg)
	require.NoError(t, err)
	assert.Contains(t, xml, "A &lt; B &amp; C &gt; D")

	back, err := dt.FromXML(xml)
	require.NoError(t, err)
	assert.Contains(t, back, "A < B & C > D")
}

func TestPopulateMetaData(t *testing.T) {
	dt := New()
	metadata := map[string]interface{}{}
	dt.PopulateMetaData(adtA01, metadata)

	assert.Equal(t, "SND", metadata[datatypes.MetaDataSourceKey])
	assert.Equal(t, "ADT", metadata[datatypes.MetaDataTypeKey])
	assert.Equal(t, "2.3", metadata[datatypes.MetaDataVersionKey])

	// repeated invocation yields the same keys
	again := map[string]interface{}{}
	dt.PopulateMetaData(adtA01, again)
	assert.Equal(t, metadata, again)
}

func TestMalformedMessageReturnsSerializationError(t *testing.T) {
	dt := New()
	_, err := dt.ToXML("MS")
	require.Error(t, err)
	var serErr *datatypes.SerializationError
	require.ErrorAs(t, err, &serErr)
	assert.Equal(t, DataTypeName, serErr.DataType)
}

func TestControlID(t *testing.T) {
	assert.Equal(t, "MSG00001", ControlID(adtA01))
	assert.Equal(t, "", ControlID("garbage"))
}

func TestBatchAdaptorSplitsOnMSH(t *testing.T) {
	batch := "FHS|^~\\&\rBHS|^~\\&\r" +
		"MSH|^~\\&|A|F|B|F|1||ADT^A01|1|P|2.3\rPID|||1\r" +
		"MSH|^~\\&|A|F|B|F|2||ADT^A01|2|P|2.3\rPID|||2\r" +
		"BTS|2\rFTS|1\r"

	adaptor := New().NewBatchAdaptor(strings.NewReader(batch))

	first, err := adaptor.Next()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "MSH"))
	assert.Contains(t, first, "PID|||1")

	second, err := adaptor.Next()
	require.NoError(t, err)
	assert.Contains(t, second, "PID|||2")

	_, err = adaptor.Next()
	assert.Equal(t, io.EOF, err)
}
