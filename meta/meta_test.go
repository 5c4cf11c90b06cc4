package meta

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Record{
		Mode:  unix.S_IFREG | 0644,
		UID:   1000,
		GID:   1000,
		Nlink: 1,
		Size:  3,
		Atime: 100,
		Mtime: 200,
		Ctime: 300,
	}
	bs, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(bs)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != m {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	m := NewFile(0644, 1000, 1000, 0)
	a, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("Encode is not deterministic: %s vs %s", a, b)
	}
}

func TestEncodeHasAllFieldNames(t *testing.T) {
	bs, err := Encode(NewDir(0777, 0, 0))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, field := range []string{"atime", "ctime", "gid", "mode", "mtime", "nlink", "size", "uid"} {
		if !contains(string(bs), `"`+field+`"`) {
			t.Errorf("expected encoded record to contain field %q: %s", field, bs)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestIsDir(t *testing.T) {
	if !NewDir(0777, 0, 0).IsDir() {
		t.Error("expected directory record to report IsDir")
	}
	if NewFile(0644, 0, 0, 0).IsDir() {
		t.Error("expected file record to not report IsDir")
	}
}

func TestTouch(t *testing.T) {
	m := NewFile(0644, 0, 0, 0)
	before := m.Atime
	m.Atime = 0
	m.Mtime = 0
	m.Ctime = 0
	m.Touch(true, false, false)
	if m.Atime == 0 {
		t.Error("expected atime to be set")
	}
	if m.Mtime != 0 || m.Ctime != 0 {
		t.Error("expected only atime to be touched")
	}
	_ = before
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	bs := []byte(`{"mode":420,"uid":1,"gid":1,"nlink":1,"size":0,"atime":1,"mtime":1,"ctime":1,"extra":"ignored"}`)
	m, err := Decode(bs)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Mode != 420 {
		t.Errorf("expected mode 420, got %d", m.Mode)
	}
}
