package assetproxy

import (
	"bytes"
	"net/http"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func sampleEntry() Entry {
	return Entry{
		URL:        "http://origin.test/static/logo/logo.png",
		StatusCode: 200,
		Status:     "200 OK",
		Header: map[string][]string{
			"Content-Type": {"image/png"},
			"Vary":         {"Accept-Encoding"},
			"X-Empty":      {""},
		},
		Body:     []byte{0x89, 'P', 'N', 'G', 0},
		Vary:     map[string][]string{"Accept-Encoding": {"gzip"}},
		StoredAt: time.Date(2026, 10, 16, 9, 30, 0, 123, time.UTC),
	}
}

func TestProtoCodecRoundTrip(t *testing.T) {
	in := sampleEntry()
	b, err := ProtoCodec{}.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := ProtoCodec{}.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestProtoCodecIsDeterministic(t *testing.T) {
	a, _ := ProtoCodec{}.Encode(sampleEntry())
	for range 10 {
		b, _ := ProtoCodec{}.Encode(sampleEntry())
		if !bytes.Equal(a, b) {
			t.Fatalf("encoding differs between runs")
		}
	}
}

func TestProtoCodecSkipsUnknownFields(t *testing.T) {
	b, _ := ProtoCodec{}.Encode(Entry{URL: "http://origin.test/", StatusCode: http.StatusOK})
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	e, err := ProtoCodec{}.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e.URL != "http://origin.test/" || e.StatusCode != http.StatusOK {
		t.Fatalf("entry = %+v", e)
	}
}

func TestProtoCodecRejectsTruncatedInput(t *testing.T) {
	b, _ := ProtoCodec{}.Encode(sampleEntry())
	if _, err := (ProtoCodec{}).Decode(b[:len(b)-3]); err == nil {
		t.Fatalf("expected error for truncated input")
	}
}
