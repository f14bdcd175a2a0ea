// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package dicomtype

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

func explicitElement(group, elem uint16, vr string, value []byte) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint16(b, group)
	b = binary.LittleEndian.AppendUint16(b, elem)
	b = append(b, vr...)
	if longLengthVRs[vr] {
		b = append(b, 0, 0)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(value)))
	} else {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(value)))
	}
	return append(b, value...)
}

func implicitElement(group, elem uint16, value []byte) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint16(b, group)
	b = binary.LittleEndian.AppendUint16(b, elem)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(value)))
	return append(b, value...)
}

// testDataset is an explicit VR LE dataset with preamble and pixel data.
func testDataset() string {
	data := make([]byte, 128)
	data = append(data, "DICM"...)
	data = append(data, explicitElement(0x0002, 0x0010, "UI", []byte(ExplicitVRLittleEndian+"\x00"))...)
	data = append(data, explicitElement(0x0008, 0x0016, "UI", []byte("1.2.840.10008.5.1.4.1.1.7\x00"))...)
	data = append(data, explicitElement(0x0008, 0x0060, "CS", []byte("CT"))...)
	data = append(data, explicitElement(0x0010, 0x0010, "PN", []byte("DOE^JOHN"))...)
	data = append(data, explicitElement(0x0020, 0x000D, "UI", []byte("1.2.3.4\x00"))...)
	data = append(data, explicitElement(0x7FE0, 0x0010, "OW", []byte{0xDE, 0xAD, 0xBE, 0xEF})...)
	return base64.StdEncoding.EncodeToString(data)
}

func TestToXML(t *testing.T) {
	doc, err := New().ToXML(testDataset())
	require.NoError(t, err)

	assert.Contains(t, doc, `<tag00080060 tag="0008,0060" vr="CS" len="2">CT</tag00080060>`)
	assert.Contains(t, doc, `<tag00100010 tag="0010,0010" vr="PN" len="8">DOE^JOHN</tag00100010>`)
	assert.Contains(t, doc, `<tag7FE00010 tag="7FE0,0010" vr="OW" len="4">`+
		base64.StdEncoding.EncodeToString([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
}

func TestToXMLWithoutPreamble(t *testing.T) {
	data := explicitElement(0x0008, 0x0060, "CS", []byte("MR"))

	doc, err := New().ToXML(base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Contains(t, doc, ">MR</tag00080060>")
}

func TestImplicitVRDataset(t *testing.T) {
	// Group 0002 stays explicit; the transfer syntax switches the rest of
	// the dataset to implicit VR.
	var data []byte
	data = append(data, "DICM"...)
	data = append(data, explicitElement(0x0002, 0x0010, "UI", []byte(ImplicitVRLittleEndian+"\x00"))...)
	data = append(data, implicitElement(0x0010, 0x0010, []byte("DOE^JANE"))...)

	doc, err := New().ToXML(base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Contains(t, doc, `<tag00100010 tag="0010,0010" vr="PN" len="8">DOE^JANE</tag00100010>`)
}

func TestFromXMLSemanticRoundTrip(t *testing.T) {
	d := New()

	doc, err := d.ToXML(testDataset())
	require.NoError(t, err)
	wire, err := d.FromXML(doc)
	require.NoError(t, err)
	doc2, err := d.ToXML(wire)
	require.NoError(t, err)
	assert.Equal(t, doc, doc2)
}

func TestPopulateMetaData(t *testing.T) {
	metadata := map[string]interface{}{}
	New().PopulateMetaData(testDataset(), metadata)

	assert.Equal(t, "DICOM", metadata[datatypes.MetaDataTypeKey])
	assert.Equal(t, "1.2.840.10008.5.1.4.1.1.7", metadata["sopClassUid"])
	assert.Equal(t, "CT", metadata["modality"])
	assert.Equal(t, "DOE^JOHN", metadata["patientName"])
	assert.Equal(t, "DOE^JOHN", metadata[datatypes.MetaDataSourceKey])
	assert.Equal(t, "1.2.3.4", metadata["studyUid"])
}

func TestExtractPixelData(t *testing.T) {
	d := New()

	stripped, pixels, ok, err := d.ExtractPixelData(testDataset())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, pixels)

	doc, err := d.ToXML(stripped)
	require.NoError(t, err)
	assert.NotContains(t, doc, "tag7FE00010")
	assert.Contains(t, doc, "DOE^JOHN")
}

func TestExtractPixelDataAbsent(t *testing.T) {
	data := explicitElement(0x0008, 0x0060, "CS", []byte("CT"))
	wire := base64.StdEncoding.EncodeToString(data)

	stripped, _, ok, err := New().ExtractPixelData(wire)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, wire, stripped)
}

func TestReattachAttachment(t *testing.T) {
	d := New()

	stripped, pixels, ok, err := d.ExtractPixelData(testDataset())
	require.NoError(t, err)
	require.True(t, ok)

	wire, err := d.ReattachAttachment(stripped, pixels)
	require.NoError(t, err)

	doc, err := d.ToXML(wire)
	require.NoError(t, err)
	assert.Contains(t, doc, `vr="OB" len="4">`+
		base64.StdEncoding.EncodeToString([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
	assert.Contains(t, doc, "DOE^JOHN")
}

func TestReattachAttachmentPadsOddLength(t *testing.T) {
	d := New()

	base := explicitElement(0x0008, 0x0060, "CS", []byte("CT"))
	wire, err := d.ReattachAttachment(base64.StdEncoding.EncodeToString(base), []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	_, pixels, ok, err := d.ExtractPixelData(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x00}, pixels)
}

func TestMalformedInput(t *testing.T) {
	var serr *datatypes.SerializationError

	_, err := New().ToXML("not base64!!")
	require.True(t, errors.As(err, &serr))

	truncated := base64.StdEncoding.EncodeToString([]byte{0x08, 0x00, 0x60, 0x00})
	_, err = New().ToXML(truncated)
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, DataTypeName, serr.DataType)
}
