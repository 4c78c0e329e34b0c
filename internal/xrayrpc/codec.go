// Package xrayrpc is the restart client for engine instances. The wire
// contract is tiny (service Xray, method RestartXray, one string field), so
// the message codec is written against protowire directly instead of
// generated stubs.
package xrayrpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// XrayInfo is both the request and the response of RestartXray.
//
//	message XrayInfo { string uuid = 1; }
type XrayInfo struct {
	UUID string
}

const restartMethod = "/xray.Xray/RestartXray"

func (m *XrayInfo) marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendString(buf, m.UUID)
	return buf
}

func (m *XrayInfo) unmarshal(data []byte) error {
	*m = XrayInfo{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if num == 1 && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.UUID = s
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
	}
	return nil
}

// rawCodec moves XrayInfo through grpc without a generated descriptor.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*XrayInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected message type %T", v)
	}
	return m.marshal(), nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*XrayInfo)
	if !ok {
		return fmt.Errorf("unexpected message type %T", v)
	}
	return m.unmarshal(data)
}

func (rawCodec) Name() string { return "proto" }
