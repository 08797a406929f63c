package assetproxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Entry is one stored response together with the request identity it answers.
type Entry struct {
	URL        string              `json:"url" msgpack:"url" cbor:"1,keyasint"`
	StatusCode int                 `json:"status_code" msgpack:"status_code" cbor:"2,keyasint"`
	Status     string              `json:"status" msgpack:"status" cbor:"3,keyasint"`
	Header     map[string][]string `json:"header" msgpack:"header" cbor:"4,keyasint"`
	Body       []byte              `json:"body" msgpack:"body" cbor:"5,keyasint"`
	// Vary records the request header values named by the response's Vary
	// header at store time. Matching uses the identity alone.
	Vary     map[string][]string `json:"vary,omitempty" msgpack:"vary,omitempty" cbor:"6,keyasint,omitempty"`
	StoredAt time.Time           `json:"stored_at" msgpack:"stored_at" cbor:"7,keyasint"`
}

func isGet(req *http.Request) bool {
	return req.Method == "" || req.Method == http.MethodGet
}

func storableURL(req *http.Request) bool {
	return req.URL != nil && req.URL.IsAbs() && (req.URL.Scheme == "http" || req.URL.Scheme == "https")
}

// varyFields returns the canonical header names listed in h's Vary header.
// star is true when any value is "*".
func varyFields(h http.Header) (fields []string, star bool) {
	for _, v := range h.Values("Vary") {
		for _, f := range strings.Split(v, ",") {
			f = strings.TrimSpace(f)
			switch f {
			case "":
			case "*":
				star = true
			default:
				fields = append(fields, http.CanonicalHeaderKey(f))
			}
		}
	}
	return fields, star
}

func newEntry(id string, req *http.Request, resp *http.Response, body []byte, now time.Time) Entry {
	e := Entry{
		URL:        id,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   now,
	}
	fields, _ := varyFields(resp.Header)
	if len(fields) > 0 {
		e.Vary = make(map[string][]string, len(fields))
		for _, f := range fields {
			e.Vary[f] = req.Header.Values(f)
		}
	}
	return e
}

// Response rebuilds the stored response. Each call gets its own header map
// and body reader.
func (e Entry) Response(req *http.Request) *http.Response {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	h := http.Header(e.Header).Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &http.Response{
		Status:        status,
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
