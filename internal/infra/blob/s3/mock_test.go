package s3

import "testing"

func TestDecodeChunked(t *testing.T) {
	raw := []byte("5;chunk-signature=abc\r\nhello\r\n6\r\n world\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n")
	got, err := decodeChunked(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected body %q", got)
	}
	if _, err := decodeChunked([]byte("zz\r\n")); err == nil {
		t.Fatalf("expected size parse error")
	}
}
