package ingest

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/Zerofisher/haestore/pkg/model"
)

// maxLineSize bounds one JSONL capture line.
const maxLineSize = 64 << 20

// ErrMalformed is wrapped by errors for unparseable capture lines.
var ErrMalformed = errors.New("malformed capture")

// LineError reports a capture line that could not be parsed. Reading may
// continue after it.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// JSONLReader reads one capture per line:
//
//	{"url": "...", "method": "GET", "status": 200, "comment": "", "color": "",
//	 "service": {"host": "...", "port": 443, "secure": true},
//	 "request": "<base64>", "response": "<base64>"}
type JSONLReader struct {
	sc   *bufio.Scanner
	line int
}

// NewJSONLReader wraps r.
func NewJSONLReader(r io.Reader) *JSONLReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &JSONLReader{sc: sc}
}

// Next returns the next capture, a *LineError for a bad line, or io.EOF.
func (j *JSONLReader) Next() (Capture, error) {
	for j.sc.Scan() {
		j.line++
		b := bytes.TrimSpace(j.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		c, err := ParseCapture(b)
		if err != nil {
			return Capture{}, &LineError{Line: j.line, Err: err}
		}
		return c, nil
	}
	if err := j.sc.Err(); err != nil {
		return Capture{}, err
	}
	return Capture{}, io.EOF
}

// ParseCapture decodes one JSON capture object.
func ParseCapture(b []byte) (Capture, error) {
	if !gjson.ValidBytes(b) {
		return Capture{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	res := gjson.ParseBytes(b)
	if !res.IsObject() {
		return Capture{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	c := Capture{
		URL:     res.Get("url").String(),
		Method:  res.Get("method").String(),
		Status:  res.Get("status").String(),
		Length:  res.Get("length").String(),
		Comment: res.Get("comment").String(),
		Color:   res.Get("color").String(),
	}
	if c.URL == "" {
		return Capture{}, fmt.Errorf("%w: missing url", ErrMalformed)
	}

	svc := res.Get("service")
	c.Endpoint = model.Endpoint{
		Host:   svc.Get("host").String(),
		Port:   int(svc.Get("port").Int()),
		Secure: svc.Get("secure").Bool(),
	}
	if c.Endpoint.Host == "" {
		ep, err := endpointFromURL(c.URL)
		if err != nil {
			return Capture{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		c.Endpoint = ep
	}

	var err error
	if c.Request, err = decodePayload(res.Get("request")); err != nil {
		return Capture{}, fmt.Errorf("%w: request: %v", ErrMalformed, err)
	}
	if c.Response, err = decodePayload(res.Get("response")); err != nil {
		return Capture{}, fmt.Errorf("%w: response: %v", ErrMalformed, err)
	}
	return c, nil
}

func decodePayload(v gjson.Result) ([]byte, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(v.String())
}

func endpointFromURL(raw string) (model.Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return model.Endpoint{}, err
	}
	if u.Hostname() == "" {
		return model.Endpoint{}, fmt.Errorf("url %q has no host", raw)
	}
	ep := model.Endpoint{Host: u.Hostname(), Secure: u.Scheme == "https"}
	if p := u.Port(); p != "" {
		ep.Port, err = strconv.Atoi(p)
		if err != nil {
			return model.Endpoint{}, fmt.Errorf("bad port %q", p)
		}
	} else if ep.Secure {
		ep.Port = 443
	} else {
		ep.Port = 80
	}
	return ep, nil
}
