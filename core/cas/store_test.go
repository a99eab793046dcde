package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeebo/blake3"
)

// TestHash verifies both digests against the reference implementations.
func TestHash(t *testing.T) {
	data := []byte("<score-partwise/>")
	d := Hash(data)

	s := sha256.Sum256(data)
	if d.SHA256 != hex.EncodeToString(s[:]) {
		t.Errorf("SHA256 = %s", d.SHA256)
	}
	b := blake3.Sum256(data)
	if d.BLAKE3 != hex.EncodeToString(b[:]) {
		t.Errorf("BLAKE3 = %s", d.BLAKE3)
	}
	if !ValidDigest(d.BLAKE3) || !ValidDigest(d.SHA256) {
		t.Error("digests should be valid")
	}
	if len(d.Short()) != 12 || !strings.HasPrefix(d.BLAKE3, d.Short()) {
		t.Errorf("Short() = %s", d.Short())
	}
	if Hash(data) != d {
		t.Error("Hash should be deterministic")
	}
}

// TestPutAndGet verifies archived bytes round-trip.
func TestPutAndGet(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	data := []byte("<score-partwise><part/></score-partwise>")
	d, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if d != Hash(data) {
		t.Errorf("Put digest = %+v, want %+v", d, Hash(data))
	}

	got, err := store.Get(d.BLAKE3)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %q, want %q", got, data)
	}
	if !store.Has(d.BLAKE3) {
		t.Error("Has should report the archived document")
	}
}

// TestPutDuplicate verifies storing the same bytes twice keeps one file.
func TestPutDuplicate(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("duplicate")
	d1, err := store.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := store.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Errorf("digests differ: %+v != %+v", d1, d2)
	}
	entries, err := os.ReadDir(filepath.Join(root, "documents", d1.BLAKE3[:2]))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d files, want 1", len(entries))
	}
}

// TestGetErrors verifies missing and malformed digests.
func TestGetErrors(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	missing := strings.Repeat("0", 64)
	if _, err := store.Get(missing); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Get(missing) = %v, want ErrDocumentNotFound", err)
	}
	for _, bad := range []string{"", "abc", strings.Repeat("G", 64), "../" + strings.Repeat("a", 61)} {
		if _, err := store.Get(bad); !errors.Is(err, ErrInvalidDigest) {
			t.Errorf("Get(%q) = %v, want ErrInvalidDigest", bad, err)
		}
		if store.Has(bad) {
			t.Errorf("Has(%q) should be false", bad)
		}
	}
}

// TestNewStoreMkdirError verifies a root that cannot be created is reported.
func TestNewStoreMkdirError(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(filepath.Join(file, "sub")); err == nil {
		t.Error("expected error when root is below a file")
	}
}

// TestPutInjectedErrors verifies each failure point of the atomic write.
func TestPutInjectedErrors(t *testing.T) {
	tests := []struct {
		name   string
		inject func() func()
		want   string
	}{
		{
			name: "write",
			inject: func() func() {
				orig := tempFileWrite
				tempFileWrite = func(*os.File, []byte) (int, error) { return 0, errors.New("injected write error") }
				return func() { tempFileWrite = orig }
			},
			want: "failed to write document",
		},
		{
			name: "close",
			inject: func() func() {
				orig := tempFileClose
				tempFileClose = func(f io.Closer) error {
					f.Close()
					return errors.New("injected close error")
				}
				return func() { tempFileClose = orig }
			},
			want: "failed to close temp file",
		},
		{
			name: "rename",
			inject: func() func() {
				orig := osRename
				osRename = func(string, string) error { return errors.New("injected rename error") }
				return func() { osRename = orig }
			},
			want: "failed to rename document",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			store, err := NewStore(root)
			if err != nil {
				t.Fatal(err)
			}
			restore := tt.inject()
			defer restore()

			data := []byte("payload for " + tt.name)
			_, err = store.Put(data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Put error = %v, want %q", err, tt.want)
			}
			if store.Has(Hash(data).BLAKE3) {
				t.Error("failed Put must not leave a document behind")
			}
		})
	}
}
