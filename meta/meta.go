// Package meta defines the metadata record stored for every existing
// filesystem entry and its self-describing encoding.
package meta

import (
	"encoding/json"
	"time"

	"golang.org/x/sys/unix"
)

// Record is the POSIX attribute record persisted under a path's
// metadata key. The field tags fix the on-the-wire names so the
// encoding stays compatible with the reference JSON form regardless
// of Go field naming.
type Record struct {
	Mode  uint32 `json:"mode"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
	Nlink uint32 `json:"nlink"`
	Size  int64  `json:"size"`
	Atime int64  `json:"atime"`
	Mtime int64  `json:"mtime"`
	Ctime int64  `json:"ctime"`
}

// DefaultDirSize is the nominal size reported for directories, which
// never carry a data payload to measure.
const DefaultDirSize = 4096

// NewDir returns a freshly-touched directory record with the given
// permission bits (the directory type bit is added automatically).
func NewDir(perm uint32, uid, gid uint32) Record {
	r := Record{
		Mode:  unix.S_IFDIR | perm,
		UID:   uid,
		GID:   gid,
		Nlink: 1,
		Size:  DefaultDirSize,
	}
	r.Touch(true, true, true)
	return r
}

// NewFile returns a freshly-touched regular-file record with the
// given permission bits and initial payload size.
func NewFile(perm uint32, uid, gid uint32, size int64) Record {
	r := Record{
		Mode:  unix.S_IFREG | perm,
		UID:   uid,
		GID:   gid,
		Nlink: 1,
		Size:  size,
	}
	r.Touch(true, true, true)
	return r
}

// Encode serializes m to its deterministic, self-describing byte
// form (JSON, with the field names fixed by the struct tags above).
func Encode(m Record) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses bs, previously produced by Encode, back into a
// Record. Unknown fields are ignored; missing fields default to zero,
// matching the reference encoding's order-independence on read.
func Decode(bs []byte) (Record, error) {
	var m Record
	if err := json.Unmarshal(bs, &m); err != nil {
		return Record{}, err
	}
	return m, nil
}

// IsDir reports whether m describes a directory.
func (m Record) IsDir() bool {
	return m.Mode&unix.S_IFMT == unix.S_IFDIR
}

// Touch sets the selected timestamps to the current wall-clock
// second. At least one of atime/mtime/ctime must be true for the call
// to have any effect.
func (m *Record) Touch(atime, mtime, ctime bool) {
	now := time.Now().Unix()
	if atime {
		m.Atime = now
	}
	if mtime {
		m.Mtime = now
	}
	if ctime {
		m.Ctime = now
	}
}

// Stat is the projection of a Record into the attribute keys the
// filesystem boundary (FUSE getattr et al.) expects.
type Stat struct {
	Mode  uint32
	Size  int64
	UID   uint32
	GID   uint32
	Nlink uint32
	Atime int64
	Mtime int64
	Ctime int64
}

// ToStat projects m into its Stat form.
func (m Record) ToStat() Stat {
	return Stat{
		Mode:  m.Mode,
		Size:  m.Size,
		UID:   m.UID,
		GID:   m.GID,
		Nlink: m.Nlink,
		Atime: m.Atime,
		Mtime: m.Mtime,
		Ctime: m.Ctime,
	}
}
