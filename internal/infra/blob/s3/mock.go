package s3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store whose client talks to an in-process fake
// S3 endpoint. Only the operations used by core.Store are implemented.
func NewMockForTests() *Store {
	rt := &mockRoundTripper{objects: make(map[string]mockObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(defaultRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return newWithClient(client, "mock-bucket")
}

type mockObject struct {
	body        []byte
	contentType string
	modified    time.Time
}

type mockRoundTripper struct {
	mu      sync.Mutex
	objects map[string]mockObject
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := m.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		header := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"mock-etag"`},
			"Last-Modified":  {obj.modified.Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, header, nil), nil
		}
		return respond(http.StatusOK, header, obj.body), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if body, err = decodeChunked(body); err != nil {
				return nil, err
			}
		}
		m.objects[key] = mockObject{body: body, contentType: req.Header.Get("Content-Type"), modified: time.Now().UTC()}
		return respond(http.StatusOK, http.Header{"Etag": {`"mock-etag"`}}, nil), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (m *mockRoundTripper) list(prefix string) *http.Response {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		obj := m.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), obj.modified.Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func respond(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(bytes.NewReader(body))}
}

// decodeChunked unwraps an aws-chunked payload: "<hex>[;ext]\r\n<data>\r\n" repeated until a zero chunk.
func decodeChunked(b []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("chunk header: %w", err)
		}
		line = strings.TrimSpace(line)
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		size, err := strconv.ParseInt(line, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", line, err)
		}
		if size == 0 {
			return out, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("chunk body: %w", err)
		}
		out = append(out, chunk...)
		if _, err := r.Discard(2); err != nil {
			return nil, fmt.Errorf("chunk trailer: %w", err)
		}
	}
}
