package fsadapter

import (
	"context"

	"github.com/markgoddard/ffs/keycodec"
	"github.com/markgoddard/ffs/meta"
	"github.com/markgoddard/ffs/stm"
)

// O_CREAT mirrors the POSIX open(2) flag bit this package cares
// about, without pulling in a platform-specific flag set at the
// adapter boundary. Its value is Linux's O_CREAT bit; the mount layer
// passes the kernel's open flags through unchanged.
const O_CREAT = 1 << 6

func getMeta(ctx context.Context, s *stm.STM, path string) (meta.Record, bool, error) {
	val, ok, err := s.Get(ctx, keycodec.MetaKey(path))
	if err != nil || !ok {
		return meta.Record{}, ok, err
	}
	rec, err := meta.Decode(val)
	if err != nil {
		return meta.Record{}, false, newErr(Corrupt, path, err)
	}
	return rec, true, nil
}

func putMeta(s *stm.STM, path string, rec meta.Record) error {
	encoded, err := meta.Encode(rec)
	if err != nil {
		return newErr(Corrupt, path, err)
	}
	s.Put(keycodec.MetaKey(path), encoded)
	return nil
}

// GetAttr returns the metadata record for path, or NotFound if no
// record exists.
func (a *Adapter) GetAttr(ctx context.Context, path string) (meta.Stat, error) {
	if err := keycodec.ValidatePath(path); err != nil {
		return meta.Stat{}, newErr(NameTooLong, path, err)
	}

	var rec meta.Record
	err := a.runWithRetry(ctx, path, nil, func(s *stm.STM) error {
		r, ok, err := getMeta(ctx, s, path)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, path, nil)
		}
		rec = r
		return nil
	})
	if err != nil {
		return meta.Stat{}, err
	}
	return rec.ToStat(), nil
}

// Readdir lists the direct children of path: "." and ".." followed by
// the base name of every metadata key that is a direct child of path.
func (a *Adapter) Readdir(ctx context.Context, path string) ([]string, error) {
	if err := keycodec.ValidatePath(path); err != nil {
		return nil, newErr(NameTooLong, path, err)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	kvs, err := a.store.GetPrefix(ctx, keycodec.MetaKey(path))
	if err != nil {
		return nil, newErr(StoreError, path, err)
	}

	entries := []string{".", ".."}
	for _, kv := range kvs {
		childPath := keycodec.PathFromMetaKey(kv.Key)
		if childPath == path {
			continue
		}
		parent, base := keycodec.Split(childPath)
		if parent != path {
			continue
		}
		entries = append(entries, base)
	}
	return entries, nil
}

// Mkdir creates an empty directory at path, failing AlreadyExists if
// one is already there (file or directory).
func (a *Adapter) Mkdir(ctx context.Context, path string, perm uint32) error {
	rec := meta.NewDir(perm, a.defaultUID, a.defaultGID)
	created, err := a.ensureFile(ctx, path, rec, nil)
	if err != nil {
		return err
	}
	if !created {
		return newErr(AlreadyExists, path, nil)
	}
	return nil
}

// Create creates a regular file at path (with an empty payload) and
// opens it, returning the new handle. Fails AlreadyExists if an entry
// is already there.
func (a *Adapter) Create(ctx context.Context, path string, perm uint32) (int, error) {
	rec := meta.NewFile(perm, a.defaultUID, a.defaultGID, 0)
	created, err := a.ensureFile(ctx, path, rec, nil)
	if err != nil {
		return 0, err
	}
	if !created {
		return 0, newErr(AlreadyExists, path, nil)
	}
	return a.handles.open(path, O_CREAT)
}

// Open opens path with the given flags, returning a handle. A missing
// path is created only if flags carries O_CREAT (O5); otherwise it
// fails NotFound.
func (a *Adapter) Open(ctx context.Context, path string, flags int) (int, error) {
	if flags&O_CREAT == 0 {
		if err := keycodec.ValidatePath(path); err != nil {
			return 0, newErr(NameTooLong, path, err)
		}
	}

	if flags&O_CREAT != 0 {
		rec := meta.NewFile(0o644, a.defaultUID, a.defaultGID, 0)
		if _, err := a.ensureFile(ctx, path, rec, nil); err != nil {
			return 0, err
		}
	} else {
		var exists bool
		err := a.runWithRetry(ctx, path, nil, func(s *stm.STM) error {
			_, ok, err := getMeta(ctx, s, path)
			exists = ok
			return err
		})
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, newErr(NotFound, path, nil)
		}
	}
	return a.handles.open(path, flags)
}

// Release closes a previously opened handle. Unknown handles are
// ignored, matching the reference implementation's unconditional
// release.
func (a *Adapter) Release(fh int) {
	a.handles.close(fh)
}

// Read returns up to length bytes of path's payload starting at
// offset, touching atime. A missing payload returns a nil slice with
// no error, mirroring the reference implementation.
func (a *Adapter) Read(ctx context.Context, path string, length, offset int) ([]byte, error) {
	if err := keycodec.ValidatePath(path); err != nil {
		return nil, newErr(NameTooLong, path, err)
	}

	metaKey := keycodec.MetaKey(path)
	dataKey := keycodec.DataKey(path)

	var out []byte
	err := a.runWithRetry(ctx, path, [][]byte{metaKey, dataKey}, func(s *stm.STM) error {
		payload, ok, err := s.Get(ctx, dataKey)
		if err != nil {
			return err
		}
		if !ok {
			out = nil
			return nil
		}

		rec, ok, err := getMeta(ctx, s, path)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, path, nil)
		}
		rec.Touch(true, false, false)
		if err := putMeta(s, path, rec); err != nil {
			return err
		}

		out = sliceRange(payload, offset, length)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sliceRange(payload []byte, offset, length int) []byte {
	if offset >= len(payload) {
		return nil
	}
	end := offset + length
	if end > len(payload) {
		end = len(payload)
	}
	return append([]byte(nil), payload[offset:end]...)
}

// Write splices buf into path's payload at offset, zero-filling any
// gap if offset is past the current payload end (O2), updates size
// and touches atime/ctime/mtime, and returns the number of bytes
// written.
func (a *Adapter) Write(ctx context.Context, path string, buf []byte, offset int) (int, error) {
	if err := keycodec.ValidatePath(path); err != nil {
		return 0, newErr(NameTooLong, path, err)
	}

	metaKey := keycodec.MetaKey(path)
	dataKey := keycodec.DataKey(path)

	err := a.runWithRetry(ctx, path, [][]byte{metaKey, dataKey}, func(s *stm.STM) error {
		rec, ok, err := getMeta(ctx, s, path)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, path, nil)
		}

		payload, _, err := s.Get(ctx, dataKey)
		if err != nil {
			return err
		}

		newSize := int64(offset + len(buf))
		if newSize < rec.Size {
			newSize = rec.Size
		}
		rec.Size = newSize
		rec.Touch(true, true, true)

		spliced := spliceWrite(payload, buf, offset)

		if err := putMeta(s, path, rec); err != nil {
			return err
		}
		s.Put(dataKey, spliced)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// spliceWrite returns payload with buf written at offset, zero-filling
// any gap between the current payload end and offset.
func spliceWrite(payload, buf []byte, offset int) []byte {
	if offset > len(payload) {
		padded := make([]byte, offset)
		copy(padded, payload)
		payload = padded
	}
	out := make([]byte, 0, maxInt(len(payload), offset+len(buf)))
	out = append(out, payload[:offset]...)
	out = append(out, buf...)
	if tail := offset + len(buf); tail < len(payload) {
		out = append(out, payload[tail:]...)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Truncate resizes path's payload to length, zero-padding if it grows
// or slicing if it shrinks, and touches atime/ctime/mtime.
func (a *Adapter) Truncate(ctx context.Context, path string, length int) error {
	if err := keycodec.ValidatePath(path); err != nil {
		return newErr(NameTooLong, path, err)
	}

	metaKey := keycodec.MetaKey(path)
	dataKey := keycodec.DataKey(path)

	return a.runWithRetry(ctx, path, [][]byte{metaKey, dataKey}, func(s *stm.STM) error {
		rec, ok, err := getMeta(ctx, s, path)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, path, nil)
		}

		payload, _, err := s.Get(ctx, dataKey)
		if err != nil {
			return err
		}

		var resized []byte
		if len(payload) >= length {
			resized = append([]byte(nil), payload[:length]...)
		} else {
			resized = make([]byte, length)
			copy(resized, payload)
		}

		rec.Size = int64(length)
		rec.Touch(true, true, true)

		if err := putMeta(s, path, rec); err != nil {
			return err
		}
		s.Put(dataKey, resized)
		return nil
	})
}

// Unlink deletes path's metadata and data keys. Idempotent: unlinking
// an already-missing path succeeds.
func (a *Adapter) Unlink(ctx context.Context, path string) error {
	if err := keycodec.ValidatePath(path); err != nil {
		return newErr(NameTooLong, path, err)
	}

	metaKey := keycodec.MetaKey(path)
	dataKey := keycodec.DataKey(path)

	return a.runWithRetry(ctx, path, nil, func(s *stm.STM) error {
		s.Delete(metaKey)
		s.Delete(dataKey)
		return nil
	})
}

// Rmdir deletes the empty directory at path. Fails NotADirectory if
// the entry is a regular file, and NotEmpty if the directory has any
// children (O3).
func (a *Adapter) Rmdir(ctx context.Context, path string) error {
	if err := keycodec.ValidatePath(path); err != nil {
		return newErr(NameTooLong, path, err)
	}

	metaKey := keycodec.MetaKey(path)

	return a.runWithRetry(ctx, path, nil, func(s *stm.STM) error {
		rec, ok, err := getMeta(ctx, s, path)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, path, nil)
		}
		if !rec.IsDir() {
			return newErr(NotADirectory, path, nil)
		}

		empty, err := a.dirIsEmpty(ctx, path)
		if err != nil {
			return err
		}
		if !empty {
			return newErr(NotEmpty, path, nil)
		}

		s.Delete(metaKey)
		return nil
	})
}

func (a *Adapter) dirIsEmpty(ctx context.Context, path string) (bool, error) {
	kvs, err := a.store.GetPrefix(ctx, keycodec.MetaKey(path))
	if err != nil {
		return false, newErr(StoreError, path, err)
	}
	for _, kv := range kvs {
		childPath := keycodec.PathFromMetaKey(kv.Key)
		if childPath == path {
			continue
		}
		if parent, _ := keycodec.Split(childPath); parent == path {
			return false, nil
		}
	}
	return true, nil
}

// Rename moves the entry at old to new, copying both its metadata
// (with ctime touched) and data payload in one commit. Fails NotFound
// if old does not exist.
func (a *Adapter) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := keycodec.ValidatePath(oldPath); err != nil {
		return newErr(NameTooLong, oldPath, err)
	}
	if err := keycodec.ValidatePath(newPath); err != nil {
		return newErr(NameTooLong, newPath, err)
	}

	oldMetaKey := keycodec.MetaKey(oldPath)
	oldDataKey := keycodec.DataKey(oldPath)
	newMetaKey := keycodec.MetaKey(newPath)
	newDataKey := keycodec.DataKey(newPath)

	return a.runWithRetry(ctx, oldPath, [][]byte{oldMetaKey, oldDataKey}, func(s *stm.STM) error {
		rec, ok, err := getMeta(ctx, s, oldPath)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, oldPath, nil)
		}
		data, _, err := s.Get(ctx, oldDataKey)
		if err != nil {
			return err
		}

		rec.Touch(false, false, true)
		encoded, err := meta.Encode(rec)
		if err != nil {
			return newErr(Corrupt, newPath, err)
		}

		s.Delete(oldMetaKey)
		s.Delete(oldDataKey)
		s.Put(newMetaKey, encoded)
		s.Put(newDataKey, data)
		return nil
	})
}

// Chmod overwrites path's mode bits and touches ctime. Fails NotFound
// against a path with no metadata record (O6).
func (a *Adapter) Chmod(ctx context.Context, path string, mode uint32) error {
	if err := keycodec.ValidatePath(path); err != nil {
		return newErr(NameTooLong, path, err)
	}
	return a.runWithRetry(ctx, path, nil, func(s *stm.STM) error {
		rec, ok, err := getMeta(ctx, s, path)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, path, nil)
		}
		rec.Mode = mode
		rec.Touch(false, false, true)
		return putMeta(s, path, rec)
	})
}

// Chown overwrites path's uid/gid and touches ctime. Fails NotFound
// against a path with no metadata record (O6).
func (a *Adapter) Chown(ctx context.Context, path string, uid, gid uint32) error {
	if err := keycodec.ValidatePath(path); err != nil {
		return newErr(NameTooLong, path, err)
	}
	return a.runWithRetry(ctx, path, nil, func(s *stm.STM) error {
		rec, ok, err := getMeta(ctx, s, path)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, path, nil)
		}
		rec.UID, rec.GID = uid, gid
		rec.Touch(false, false, true)
		return putMeta(s, path, rec)
	})
}

// Utimens updates path's atime/mtime to now. Fails NotFound against a
// path with no metadata record (O6).
func (a *Adapter) Utimens(ctx context.Context, path string) error {
	if err := keycodec.ValidatePath(path); err != nil {
		return newErr(NameTooLong, path, err)
	}
	return a.runWithRetry(ctx, path, nil, func(s *stm.STM) error {
		rec, ok, err := getMeta(ctx, s, path)
		if err != nil {
			return err
		}
		if !ok {
			return newErr(NotFound, path, nil)
		}
		rec.Touch(true, true, false)
		return putMeta(s, path, rec)
	})
}

// Access is a no-op: this filesystem does not enforce POSIX
// permission bits against the calling process's credentials.
func (a *Adapter) Access(context.Context, string, uint32) error { return nil }

// Flush is a no-op: every operation is already durable on return, as
// in the reference implementation.
func (a *Adapter) Flush(context.Context, string, int) error { return nil }

// Fsync is a no-op for the same reason as Flush.
func (a *Adapter) Fsync(context.Context, string, int, bool) error { return nil }

// Readlink, Mknod, Symlink, Link, Statfs and Chflags have no defined
// behavior in this filesystem and fail NotImplemented.

func (a *Adapter) Readlink(_ context.Context, path string) (string, error) {
	return "", newErr(NotImplemented, path, nil)
}

func (a *Adapter) Mknod(_ context.Context, path string, _ uint32, _ uint32) error {
	return newErr(NotImplemented, path, nil)
}

func (a *Adapter) Symlink(_ context.Context, _, newPath string) error {
	return newErr(NotImplemented, newPath, nil)
}

func (a *Adapter) Link(_ context.Context, _, newPath string) error {
	return newErr(NotImplemented, newPath, nil)
}

func (a *Adapter) Statfs(_ context.Context) error {
	return newErr(NotImplemented, "/", nil)
}

func (a *Adapter) Chflags(_ context.Context, path string, _ uint32) error {
	return newErr(NotImplemented, path, nil)
}
