package tagdir

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"warlogix/cip"
	"warlogix/dispatch"
	"warlogix/plcerr"
	"warlogix/value"
)

// ResolveTemplate fetches and parses a UDT/AOI structure definition from the
// Template Object. structHandle is the low 12 bits of a structure type code
// (Entry.StructHandle).
//
// Fetches attributes 1-5 via Get Attribute List (3 only as a fallback for
// the structure size), computes the
// definition byte length from the object-definition-size attribute, then
// reads that many bytes with Read Tag (fragmenting on status 0x06) before
// parsing the member table.
func ResolveTemplate(ctx context.Context, d *dispatch.Dispatcher, structHandle uint16) (*value.Template, error) {
	attrs, err := templateAttributes(ctx, d, structHandle)
	if err != nil {
		return nil, err
	}

	// Per pylogix/pycomm3: definition byte length is derived from the
	// object-definition-size attribute (in 32-bit words), minus a fixed
	// 23-byte header, rounded up to a 4-byte boundary.
	bytesToRead := attrs.objectDefSize*4 - 23
	bytesToRead = ((bytesToRead + 3) / 4) * 4

	defData, err := readTemplateDefinition(ctx, d, structHandle, bytesToRead)
	if err != nil {
		return nil, err
	}

	tmpl, err := parseTemplateDefinition(defData, int(attrs.memberCount), attrs.structureHandle, int(attrs.structureSize))
	if err != nil {
		return nil, err
	}
	value.CalculateBoolBitOffsets(tmpl.Members)
	return tmpl, nil
}

type templateAttrs struct {
	structureHandle uint16
	memberCount     uint16
	structureSize   uint32
	objectDefSize   uint32
}

func templatePath(structHandle uint16) (cip.EPath_t, error) {
	builder := cip.EPath().Class(classTemplateObject)
	if structHandle <= 0xFF {
		builder = builder.Instance(byte(structHandle))
	} else {
		builder = builder.Instance16(structHandle)
	}
	return builder.Build()
}

func templateAttributes(ctx context.Context, d *dispatch.Dispatcher, structHandle uint16) (*templateAttrs, error) {
	path, err := templatePath(structHandle)
	if err != nil {
		return nil, plcerr.New(plcerr.Path, "get_metadata", "", err)
	}

	attrData := []byte{
		0x05, 0x00,
		0x05, 0x00, // Structure size (UDINT)
		0x04, 0x00, // Object definition size (UDINT, 32-bit words)
		0x03, 0x00, // Member byte count (UINT, fallback)
		0x02, 0x00, // Member count (UINT)
		0x01, 0x00, // Structure handle (UINT)
	}
	req := cip.Request{Service: svcGetAttributeList, Path: path, Data: attrData}
	resp, err := d.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.ReplyService != (svcGetAttributeList | 0x80) {
		return nil, plcerr.New(plcerr.Protocol, "get_metadata", "", fmt.Errorf("unexpected reply service 0x%02X", resp.ReplyService))
	}
	if resp.GeneralStatus != statusSuccess {
		return nil, plcerr.FromCIPStatus("get_metadata", "", resp.GeneralStatus, resp.AdditionalStatus)
	}

	data := resp.Data
	if len(data) < 2 {
		return nil, plcerr.New(plcerr.Protocol, "get_metadata", "", fmt.Errorf("attribute list response too short"))
	}
	attrCount := int(binary.LittleEndian.Uint16(data[0:2]))
	offset := 2
	attrs := &templateAttrs{}

	for i := 0; i < attrCount && offset+4 <= len(data); i++ {
		attrID := binary.LittleEndian.Uint16(data[offset : offset+2])
		attrStatus := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		if attrStatus != 0 {
			switch attrID {
			case 4, 5:
				offset += 4
			default:
				offset += 2
			}
			continue
		}
		switch attrID {
		case 1:
			if offset+2 <= len(data) {
				attrs.structureHandle = binary.LittleEndian.Uint16(data[offset : offset+2])
				offset += 2
			}
		case 2:
			if offset+2 <= len(data) {
				attrs.memberCount = binary.LittleEndian.Uint16(data[offset : offset+2])
				offset += 2
			}
		case 3:
			if offset+2 <= len(data) {
				if attrs.structureSize == 0 {
					attrs.structureSize = uint32(binary.LittleEndian.Uint16(data[offset : offset+2]))
				}
				offset += 2
			}
		case 4:
			if offset+4 <= len(data) {
				attrs.objectDefSize = binary.LittleEndian.Uint32(data[offset : offset+4])
				offset += 4
			}
		case 5:
			if offset+4 <= len(data) {
				attrs.structureSize = binary.LittleEndian.Uint32(data[offset : offset+4])
				offset += 4
			}
		}
	}

	if attrs.memberCount == 0 {
		return nil, plcerr.New(plcerr.Protocol, "get_metadata", "", fmt.Errorf("template %d reported zero members", structHandle))
	}
	return attrs, nil
}

func readTemplateDefinition(ctx context.Context, d *dispatch.Dispatcher, structHandle uint16, totalBytes uint32) ([]byte, error) {
	path, err := templatePath(structHandle)
	if err != nil {
		return nil, plcerr.New(plcerr.Path, "get_metadata", "", err)
	}

	var out []byte
	offset := uint32(0)
	for offset < totalBytes {
		remaining := totalBytes - offset
		chunk := remaining
		if chunk > 4000 {
			chunk = 4000
		}

		payload := make([]byte, 6)
		binary.LittleEndian.PutUint32(payload[0:4], offset)
		binary.LittleEndian.PutUint16(payload[4:6], uint16(chunk))

		req := cip.Request{Service: svcReadTag, Path: path, Data: payload}
		resp, err := d.Do(ctx, req)
		if err != nil {
			if len(out) > 0 {
				break
			}
			return nil, err
		}
		if resp.ReplyService != (svcReadTag | 0x80) {
			return nil, plcerr.New(plcerr.Protocol, "get_metadata", "", fmt.Errorf("unexpected reply service 0x%02X", resp.ReplyService))
		}
		if resp.GeneralStatus != statusSuccess && resp.GeneralStatus != statusPartialTransfer {
			if len(out) > 0 {
				break
			}
			return nil, plcerr.FromCIPStatus("get_metadata", "", resp.GeneralStatus, resp.AdditionalStatus)
		}

		out = append(out, resp.Data...)
		offset += uint32(len(resp.Data))
		if resp.GeneralStatus == statusSuccess {
			break
		}
		if len(resp.Data) == 0 {
			break // avoid an infinite loop against a controller that never completes
		}
	}
	if len(out) == 0 {
		return nil, plcerr.New(plcerr.Protocol, "get_metadata", "", fmt.Errorf("no template definition data received"))
	}
	return out, nil
}

// parseTemplateDefinition parses the raw member-info table followed by a
// null-terminated name string table: memberCount*8 bytes of
// [ArraySize u16][TypeVal u16][Offset u32], then names (first is the
// template name, possibly "Name;extra").
func parseTemplateDefinition(data []byte, memberCount int, handle uint16, structureSize int) (*value.Template, error) {
	if memberCount <= 0 {
		return nil, plcerr.New(plcerr.Protocol, "get_metadata", "", fmt.Errorf("invalid member count %d", memberCount))
	}
	const memberInfoSize = 8
	if len(data) < memberCount*memberInfoSize {
		memberCount = len(data) / memberInfoSize
	}
	if memberCount == 0 {
		return nil, plcerr.New(plcerr.Protocol, "get_metadata", "", fmt.Errorf("template definition too short for any members"))
	}

	members := make([]value.TemplateMember, 0, memberCount)
	for i := 0; i < memberCount; i++ {
		idx := i * memberInfoSize
		entry := data[idx : idx+memberInfoSize]

		arraySize := binary.LittleEndian.Uint16(entry[0:2])
		typeVal := binary.LittleEndian.Uint16(entry[2:4])
		offset := binary.LittleEndian.Uint32(entry[4:8])

		m := value.TemplateMember{
			Type:   value.Type(typeVal & 0x0FFF),
			Offset: int(offset),
		}
		if isArrayTypeCode(typeVal) && arraySize > 0 {
			m.Dims = []int{int(arraySize)}
		}
		if isStructTypeCode(typeVal) {
			m.IsStruct = true
		}
		members = append(members, m)
	}

	nameStart := len(members) * memberInfoSize
	templateName := ""
	if nameStart < len(data) {
		names := parseNullTerminatedStrings(data[nameStart:], len(members)+1)
		if len(names) > 0 {
			templateName = names[0]
			if idx := strings.IndexByte(templateName, ';'); idx >= 0 {
				templateName = templateName[:idx]
			}
		}
		for i := 0; i < len(members) && i+1 < len(names); i++ {
			members[i].Name = names[i+1]
		}
	}
	_ = templateName // template name isn't part of value.Template; kept for future diagnostics

	return &value.Template{
		Handle:        handle,
		StructureSize: structureSize,
		Members:       members,
	}, nil
}

// parseNullTerminatedStrings splits data on NUL bytes, returning at most
// maxCount strings.
func parseNullTerminatedStrings(data []byte, maxCount int) []string {
	var out []string
	start := 0
	for i := 0; i < len(data) && len(out) < maxCount; i++ {
		if data[i] == 0 {
			out = append(out, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) && len(out) < maxCount {
		out = append(out, string(data[start:]))
	}
	return out
}
