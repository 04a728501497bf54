package cip

import (
	"encoding/binary"
	"fmt"
)

type Request struct {
	Service byte
	Path    EPath_t
	Data    []byte
}

func (r Request) Marshal() []byte {
	path := r.Path
	out := make([]byte, 0, 2+len(path)+len(r.Data))
	out = append(out, r.Service)
	out = append(out, r.Path.WordLen())
	out = append(out, path...)
	out = append(out, r.Data...)
	return out
}

type Response struct {
	ReplyService     byte
	GeneralStatus    byte
	AdditionalStatus []uint16
	Data             []byte
}

// UnmarshalResponse parses the common CIP response header shared by every
// service reply: [ReplyService 1][Reserved 1][GeneralStatus 1]
// [AdditionalStatusSize 1][AdditionalStatus n*2][Data ...], so
// dispatch/batch/tagdir don't each re-derive it.
func UnmarshalResponse(data []byte) (Response, error) {
	if len(data) < 4 {
		return Response{}, fmt.Errorf("cip: response too short: %d bytes", len(data))
	}
	addlStatusSize := int(data[3])
	addlStart := 4
	addlEnd := addlStart + addlStatusSize*2
	if len(data) < addlEnd {
		return Response{}, fmt.Errorf("cip: response truncated in additional status: need %d bytes, have %d", addlEnd, len(data))
	}
	addl := make([]uint16, addlStatusSize)
	for i := 0; i < addlStatusSize; i++ {
		addl[i] = binary.LittleEndian.Uint16(data[addlStart+i*2 : addlStart+i*2+2])
	}
	return Response{
		ReplyService:     data[0],
		GeneralStatus:    data[2],
		AdditionalStatus: addl,
		Data:             data[addlEnd:],
	}, nil
}
