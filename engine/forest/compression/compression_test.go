package compression

import (
	"bytes"
	"testing"
)

func TestRoundTripAllAlgorithms(t *testing.T) {
	data := bytes.Repeat([]byte("forestdb record payload "), 64)
	for _, typ := range []Type{NoCompression, SnappyCompression, LZ4Compression, ZstdCompression} {
		compressed, err := Compress(typ, data)
		if err != nil {
			t.Fatalf("Compress(%s): %v", typ, err)
		}
		got, err := Decompress(typ, compressed)
		if err != nil {
			t.Fatalf("Decompress(%s): %v", typ, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("%s round trip mismatch", typ)
		}
	}
}

func TestUnsupportedTypeErrors(t *testing.T) {
	if _, err := Compress(Type(99), []byte("x")); err == nil {
		t.Fatalf("expected error for unsupported compression type")
	}
	if _, err := Decompress(Type(99), []byte("x")); err == nil {
		t.Fatalf("expected error for unsupported compression type")
	}
}
