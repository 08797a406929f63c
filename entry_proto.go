package assetproxy

import (
	"fmt"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	c "github.com/unkn0wn-root/assetproxy/codec"
)

// ProtoCodec encodes an Entry in protobuf wire format, matching
//
//	message HeaderField { string name = 1; repeated string values = 2; }
//	message Entry {
//	  string url = 1;
//	  int32 status_code = 2;
//	  string status = 3;
//	  repeated HeaderField header = 4;
//	  bytes body = 5;
//	  repeated HeaderField vary = 6;
//	  sint64 stored_at_unix_nano = 7;
//	}
//
// Header fields are written in name order, so equal entries encode to equal bytes.
type ProtoCodec struct{}

var _ c.Codec[Entry] = ProtoCodec{}

const (
	fieldURL        protowire.Number = 1
	fieldStatusCode protowire.Number = 2
	fieldStatus     protowire.Number = 3
	fieldHeader     protowire.Number = 4
	fieldBody       protowire.Number = 5
	fieldVary       protowire.Number = 6
	fieldStoredAt   protowire.Number = 7

	fieldHeaderName  protowire.Number = 1
	fieldHeaderValue protowire.Number = 2
)

func (ProtoCodec) Encode(e Entry) ([]byte, error) {
	b := make([]byte, 0, len(e.Body)+256)
	b = appendString(b, fieldURL, e.URL)
	if e.StatusCode != 0 {
		b = protowire.AppendTag(b, fieldStatusCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(e.StatusCode)))
	}
	b = appendString(b, fieldStatus, e.Status)
	b = appendHeader(b, fieldHeader, e.Header)
	if len(e.Body) > 0 {
		b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Body)
	}
	b = appendHeader(b, fieldVary, e.Vary)
	if !e.StoredAt.IsZero() {
		b = protowire.AppendTag(b, fieldStoredAt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.StoredAt.UnixNano()))
	}
	return b, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendHeader(b []byte, num protowire.Number, h map[string][]string) []byte {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		var f []byte
		f = appendString(f, fieldHeaderName, name)
		for _, v := range h[name] {
			// empty values are meaningful in headers; always emit them
			f = protowire.AppendTag(f, fieldHeaderValue, protowire.BytesType)
			f = protowire.AppendString(f, v)
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, f)
	}
	return b
}

func (ProtoCodec) Decode(b []byte) (Entry, error) {
	var e Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Entry{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldURL && typ == protowire.BytesType:
			e.URL, n = protowire.ConsumeString(b)
		case num == fieldStatusCode && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.StatusCode = int(int64(v))
		case num == fieldStatus && typ == protowire.BytesType:
			e.Status, n = protowire.ConsumeString(b)
		case num == fieldBody && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			e.Body = append([]byte(nil), v...)
		case num == fieldStoredAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.StoredAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
		case (num == fieldHeader || num == fieldVary) && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n < 0 {
				break
			}
			name, values, err := decodeHeaderField(v)
			if err != nil {
				return Entry{}, err
			}
			if num == fieldHeader {
				if e.Header == nil {
					e.Header = make(map[string][]string)
				}
				e.Header[name] = append(e.Header[name], values...)
			} else {
				if e.Vary == nil {
					e.Vary = make(map[string][]string)
				}
				e.Vary[name] = append(e.Vary[name], values...)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Entry{}, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return e, nil
}

func decodeHeaderField(b []byte) (string, []string, error) {
	var name string
	values := []string{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldHeaderName && typ == protowire.BytesType:
			name, n = protowire.ConsumeString(b)
		case num == fieldHeaderValue && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(b)
			values = append(values, v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	if name == "" {
		return "", nil, fmt.Errorf("assetproxy: header field without name")
	}
	return name, values, nil
}
