package fuseserver

import (
	"context"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"

	"github.com/markgoddard/ffs/fsadapter"
)

// file wraps one open handle, delegating every data-path operation to
// the adapter by path+fh, exactly as the reference implementation's
// File object (fd, path, flags) does.
type file struct {
	nodefs.File

	adapter *fsadapter.Adapter
	path    string
	fh      int
}

func newFile(adapter *fsadapter.Adapter, path string, fh int) *file {
	return &file{
		File:    nodefs.NewDefaultFile(),
		adapter: adapter,
		path:    path,
		fh:      fh,
	}
}

// checkHandle mirrors the reference implementation's assert path ==
// file.path: a handle whose registered path no longer matches this
// file object's path means the fd table and this wrapper have
// drifted, which is a programming error rather than a POSIX error.
func (f *file) checkHandle() fuse.Status {
	path, _, ok := f.adapter.Handle(f.fh)
	if !ok || path != f.path {
		return fuse.EBADF
	}
	return fuse.OK
}

func (f *file) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	if st := f.checkHandle(); st != fuse.OK {
		return nil, st
	}
	data, err := f.adapter.Read(context.Background(), f.path, len(dest), int(off))
	if err != nil {
		return nil, status(err)
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (f *file) Write(data []byte, off int64) (uint32, fuse.Status) {
	if st := f.checkHandle(); st != fuse.OK {
		return 0, st
	}
	n, err := f.adapter.Write(context.Background(), f.path, data, int(off))
	if err != nil {
		return 0, status(err)
	}
	return uint32(n), fuse.OK
}

func (f *file) Truncate(size uint64) fuse.Status {
	return status(f.adapter.Truncate(context.Background(), f.path, int(size)))
}

func (f *file) GetAttr(out *fuse.Attr) fuse.Status {
	st, err := f.adapter.GetAttr(context.Background(), f.path)
	if err != nil {
		return status(err)
	}
	*out = *toAttr(st)
	return fuse.OK
}

func (f *file) Flush() fuse.Status {
	return status(f.adapter.Flush(context.Background(), f.path, f.fh))
}

func (f *file) Fsync(flags int) fuse.Status {
	return status(f.adapter.Fsync(context.Background(), f.path, f.fh, flags != 0))
}

func (f *file) Release() {
	f.adapter.Release(f.fh)
}
