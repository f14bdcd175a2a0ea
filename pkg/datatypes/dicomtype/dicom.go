// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package dicomtype converts DICOM datasets to and from canonical XML. The
// wire form carried through the pipeline is base64 of the binary dataset,
// with or without the 128-byte preamble and DICM magic.
package dicomtype

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "DICOM"

// Transfer syntax UIDs understood by the dataset parser. The file meta
// group 0002 is always explicit VR little endian regardless.
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

// PixelDataTag is (7FE0,0010), extracted into attachments rather than
// carried inline through transformers.
const PixelDataTag = 0x7FE00010

const undefinedLength = 0xFFFFFFFF

// DICOM implements datatypes.DataType.
type DICOM struct{}

// New returns the DICOM data type.
func New() *DICOM { return &DICOM{} }

// Name implements datatypes.DataType.
func (d *DICOM) Name() string { return DataTypeName }

// IsSerializationRequired implements datatypes.DataType.
func (d *DICOM) IsSerializationRequired(bool) bool { return true }

// TransformWithoutSerializing implements datatypes.DataType.
func (d *DICOM) TransformWithoutSerializing(string, datatypes.DataType) (string, bool) {
	return "", false
}

// element is one parsed data element.
type element struct {
	tag   uint32
	vr    string
	value []byte
}

func (e element) group() uint16 { return uint16(e.tag >> 16) }

func (e element) name() string { return fmt.Sprintf("tag%08X", e.tag) }

// stringVRs render their value as text; everything else is base64.
var stringVRs = map[string]bool{
	"AE": true, "AS": true, "CS": true, "DA": true, "DS": true, "DT": true,
	"IS": true, "LO": true, "LT": true, "PN": true, "SH": true, "ST": true,
	"TM": true, "UC": true, "UI": true, "UR": true, "UT": true,
}

// longLengthVRs use the reserved+4-byte length form in explicit VR.
var longLengthVRs = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OW": true,
	"SQ": true, "UC": true, "UN": true, "UR": true, "UT": true,
}

// implicitVRs maps well-known tags to a VR for implicit transfer syntax.
var implicitVRs = map[uint32]string{
	0x00020010: "UI",
	0x00080016: "UI",
	0x00080018: "UI",
	0x00080060: "CS",
	0x00100010: "PN",
	0x00100020: "LO",
	0x0020000D: "UI",
	0x0020000E: "UI",
	PixelDataTag: "OW",
}

func decodeWire(message string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, message)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, datatypes.NewSerializationError(DataTypeName, 0, "invalid base64 payload: %v", err)
	}
	return data, nil
}

// skipPreamble returns the offset of the first data element, accepting an
// optional 128-byte preamble followed by the DICM magic.
func skipPreamble(data []byte) int {
	if len(data) >= 132 && string(data[128:132]) == "DICM" {
		return 132
	}
	if len(data) >= 4 && string(data[:4]) == "DICM" {
		return 4
	}
	return 0
}

func parseElements(data []byte) ([]element, error) {
	pos := skipPreamble(data)
	transferSyntax := ExplicitVRLittleEndian

	var elements []element
	for pos < len(data) {
		start := pos
		if len(data)-pos < 8 {
			return nil, datatypes.NewSerializationError(DataTypeName, pos, "truncated data element header")
		}
		group := binary.LittleEndian.Uint16(data[pos:])
		elem := binary.LittleEndian.Uint16(data[pos+2:])
		tag := uint32(group)<<16 | uint32(elem)
		pos += 4

		explicit := group == 0x0002 || transferSyntax != ImplicitVRLittleEndian
		var vr string
		var length uint32
		if explicit {
			vr = string(data[pos : pos+2])
			pos += 2
			if longLengthVRs[vr] {
				if len(data)-pos < 6 {
					return nil, datatypes.NewSerializationError(DataTypeName, start, "truncated %s length", vr)
				}
				pos += 2 // reserved
				length = binary.LittleEndian.Uint32(data[pos:])
				pos += 4
			} else {
				length = uint32(binary.LittleEndian.Uint16(data[pos:]))
				pos += 2
			}
		} else {
			vr = implicitVRs[tag]
			if vr == "" {
				vr = "UN"
			}
			length = binary.LittleEndian.Uint32(data[pos:])
			pos += 4
		}

		if length == undefinedLength {
			return nil, datatypes.NewSerializationError(DataTypeName, start, "undefined length element %08X not supported", tag)
		}
		if uint32(len(data)-pos) < length {
			return nil, datatypes.NewSerializationError(DataTypeName, start, "element %08X value exceeds message length", tag)
		}
		value := data[pos : pos+int(length)]
		pos += int(length)

		elements = append(elements, element{tag: tag, vr: vr, value: value})
		if tag == 0x00020010 {
			transferSyntax = trimUID(value)
		}
	}
	return elements, nil
}

func trimUID(value []byte) string {
	return strings.TrimRight(string(value), "\x00 ")
}

// ToXML implements datatypes.DataType.
func (d *DICOM) ToXML(message string) (string, error) {
	data, err := decodeWire(message)
	if err != nil {
		return "", err
	}
	elements, err := parseElements(data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<dicom>")
	for _, e := range elements {
		name := e.name()
		b.WriteString(fmt.Sprintf(`<%s tag="%04X,%04X" vr="%s" len="%d">`,
			name, e.group(), uint16(e.tag), e.vr, len(e.value)))
		if stringVRs[e.vr] {
			b.WriteString(datatypes.XMLEscape(trimUID(e.value)))
		} else {
			b.WriteString(base64.StdEncoding.EncodeToString(e.value))
		}
		b.WriteString("</" + name + ">")
	}
	b.WriteString("</dicom>")
	return b.String(), nil
}

// FromXML implements datatypes.DataType. The output is explicit VR little
// endian with the DICM magic, regardless of the input transfer syntax.
func (d *DICOM) FromXML(doc string) (string, error) {
	root, err := datatypes.ParseTree(doc)
	if err != nil {
		return "", err
	}

	data := make([]byte, 128, 1024)
	data = append(data, "DICM"...)
	for _, node := range root.Children {
		var group, elem uint16
		if _, err := fmt.Sscanf(node.Attrs["tag"], "%04X,%04X", &group, &elem); err != nil {
			return "", datatypes.NewSerializationError(DataTypeName, 0, "element %s has no parsable tag attribute", node.Name)
		}
		vr := node.Attrs["vr"]
		if vr == "" {
			vr = "UN"
		}

		var value []byte
		if stringVRs[vr] {
			value = []byte(node.Text)
			if len(value)%2 == 1 {
				pad := byte(' ')
				if vr == "UI" {
					pad = 0
				}
				value = append(value, pad)
			}
		} else {
			value, err = base64.StdEncoding.DecodeString(node.Text)
			if err != nil {
				return "", datatypes.NewSerializationError(DataTypeName, 0, "element %s has invalid base64 value", node.Name)
			}
		}

		data = binary.LittleEndian.AppendUint16(data, group)
		data = binary.LittleEndian.AppendUint16(data, elem)
		data = append(data, vr...)
		if longLengthVRs[vr] {
			data = append(data, 0, 0)
			data = binary.LittleEndian.AppendUint32(data, uint32(len(value)))
		} else {
			data = binary.LittleEndian.AppendUint16(data, uint16(len(value)))
		}
		data = append(data, value...)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// PopulateMetaData implements datatypes.DataType, reading the well-known
// identification tags from the dataset.
func (d *DICOM) PopulateMetaData(message string, metadata map[string]interface{}) {
	data, err := decodeWire(message)
	if err != nil {
		return
	}
	elements, err := parseElements(data)
	if err != nil {
		return
	}

	metadata[datatypes.MetaDataTypeKey] = DataTypeName
	for _, e := range elements {
		value := trimUID(e.value)
		switch e.tag {
		case 0x00080016:
			metadata["sopClassUid"] = value
		case 0x00080060:
			metadata["modality"] = value
		case 0x00100010:
			metadata["patientName"] = value
			metadata[datatypes.MetaDataSourceKey] = value
		case 0x0020000D:
			metadata["studyUid"] = value
		}
	}
}

// ExtractPixelData splits the pixel data element out of the dataset so it
// can be stored as an attachment. It returns the re-encoded dataset without
// the pixel data and the raw pixel bytes, or ok=false when the dataset has
// no pixel data element.
func (d *DICOM) ExtractPixelData(message string) (stripped string, pixels []byte, ok bool, err error) {
	data, err := decodeWire(message)
	if err != nil {
		return "", nil, false, err
	}
	elements, err := parseElements(data)
	if err != nil {
		return "", nil, false, err
	}

	kept := elements[:0]
	for _, e := range elements {
		if e.tag == PixelDataTag {
			pixels = e.value
			ok = true
			continue
		}
		kept = append(kept, e)
	}
	if !ok {
		return message, nil, false, nil
	}

	out := make([]byte, 128, len(data))
	out = append(out, "DICM"...)
	for _, e := range kept {
		out = binary.LittleEndian.AppendUint16(out, uint16(e.tag>>16))
		out = binary.LittleEndian.AppendUint16(out, uint16(e.tag))
		out = append(out, e.vr...)
		if longLengthVRs[e.vr] {
			out = append(out, 0, 0)
			out = binary.LittleEndian.AppendUint32(out, uint32(len(e.value)))
		} else {
			out = binary.LittleEndian.AppendUint16(out, uint16(len(e.value)))
		}
		out = append(out, e.value...)
	}
	return base64.StdEncoding.EncodeToString(out), pixels, true, nil
}

// ExtractAttachment implements datatypes.AttachmentExtractor over the
// pixel data element.
func (d *DICOM) ExtractAttachment(message string) (string, []byte, string, bool, error) {
	stripped, pixels, ok, err := d.ExtractPixelData(message)
	return stripped, pixels, DataTypeName, ok, err
}

// ReattachAttachment implements datatypes.AttachmentExtractor, appending
// the detached pixel data back onto the dataset as an OB element.
func (d *DICOM) ReattachAttachment(message string, content []byte) (string, error) {
	data, err := decodeWire(message)
	if err != nil {
		return "", err
	}
	if _, err := parseElements(data); err != nil {
		return "", err
	}
	if len(content)%2 == 1 {
		content = append(content, 0)
	}
	data = binary.LittleEndian.AppendUint16(data, uint16(PixelDataTag>>16))
	data = binary.LittleEndian.AppendUint16(data, uint16(PixelDataTag&0xFFFF))
	data = append(data, "OB"...)
	data = append(data, 0, 0)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(content)))
	data = append(data, content...)
	return base64.StdEncoding.EncodeToString(data), nil
}
