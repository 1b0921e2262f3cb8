package hashutil

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashFileMatchesKnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	if err := os.WriteFile(path, []byte("psbt"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// sha256("psbt")
	const want = "71ac862f64e9125d7165109b9cdf0531675e3a28712170a79aa0c7e21461ac77"
	if got != want {
		t.Errorf("HashFile() = %s, want %s", got, want)
	}
}

func TestHashFileIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if err := os.WriteFile(a, []byte("same bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	hashA, err := HashFile(a)
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := HashFile(b)
	if err != nil {
		t.Fatal(err)
	}
	if hashA != hashB {
		t.Errorf("expected identical hashes for identical bytes, got %s and %s", hashA, hashB)
	}
}

func TestDecodeHex32(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid 32 bytes", strings.Repeat("ab", 32), false},
		{"not hex", "not-hex-at-all-zzzz", true},
		{"one byte short", strings.Repeat("ab", 31), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHex32(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeHex32(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestPortAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	if PortAvailable(port) {
		t.Errorf("expected port %d to be reported as in-use", port)
	}
}
