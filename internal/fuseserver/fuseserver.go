// Package fuseserver mounts a fsadapter.Adapter as a real FUSE
// filesystem, using github.com/hanwen/go-fuse/v2's path-keyed
// pathfs.FileSystem interface. This layer is spec.md's explicitly
// out-of-scope "external collaborator" — kernel dispatch itself — so
// every method here does nothing but translate between go-fuse's
// types and fsadapter's, and map fsadapter.ErrCode onto fuse.Status.
package fuseserver

import (
	"context"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"github.com/sirupsen/logrus"

	"github.com/markgoddard/ffs/fsadapter"
	"github.com/markgoddard/ffs/meta"
)

// FileSystem adapts an *fsadapter.Adapter to pathfs.FileSystem.
type FileSystem struct {
	pathfs.FileSystem

	adapter *fsadapter.Adapter
	log     logrus.FieldLogger
}

// New returns a FileSystem backed by adapter.
func New(adapter *fsadapter.Adapter, log logrus.FieldLogger) *FileSystem {
	return &FileSystem{
		FileSystem: pathfs.NewDefaultFileSystem(),
		adapter:    adapter,
		log:        log,
	}
}

func toPath(name string) string {
	if name == "" {
		return "/"
	}
	return "/" + name
}

func status(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	return fuse.Status(fsadapter.Errno(err))
}

func toAttr(st meta.Stat) *fuse.Attr {
	return &fuse.Attr{
		Mode:  st.Mode,
		Size:  uint64(st.Size),
		Owner: fuse.Owner{Uid: st.UID, Gid: st.GID},
		Nlink: st.Nlink,
		Atime: uint64(st.Atime),
		Mtime: uint64(st.Mtime),
		Ctime: uint64(st.Ctime),
	}
}

// GetAttr implements pathfs.FileSystem.
func (fs *FileSystem) GetAttr(name string, _ *fuse.Context) (*fuse.Attr, fuse.Status) {
	st, err := fs.adapter.GetAttr(context.Background(), toPath(name))
	if err != nil {
		return nil, status(err)
	}
	return toAttr(st), fuse.OK
}

// OpenDir implements pathfs.FileSystem.
func (fs *FileSystem) OpenDir(name string, _ *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	entries, err := fs.adapter.Readdir(context.Background(), toPath(name))
	if err != nil {
		return nil, status(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{Name: e})
	}
	return out, fuse.OK
}

// Mkdir implements pathfs.FileSystem.
func (fs *FileSystem) Mkdir(name string, mode uint32, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Mkdir(context.Background(), toPath(name), mode))
}

// Rmdir implements pathfs.FileSystem.
func (fs *FileSystem) Rmdir(name string, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Rmdir(context.Background(), toPath(name)))
}

// Unlink implements pathfs.FileSystem.
func (fs *FileSystem) Unlink(name string, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Unlink(context.Background(), toPath(name)))
}

// Rename implements pathfs.FileSystem.
func (fs *FileSystem) Rename(oldName, newName string, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Rename(context.Background(), toPath(oldName), toPath(newName)))
}

// Chmod implements pathfs.FileSystem.
func (fs *FileSystem) Chmod(name string, mode uint32, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Chmod(context.Background(), toPath(name), mode))
}

// Chown implements pathfs.FileSystem.
func (fs *FileSystem) Chown(name string, uid, gid uint32, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Chown(context.Background(), toPath(name), uid, gid))
}

// Utimens implements pathfs.FileSystem.
func (fs *FileSystem) Utimens(name string, _, _ *time.Time, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Utimens(context.Background(), toPath(name)))
}

// Truncate implements pathfs.FileSystem.
func (fs *FileSystem) Truncate(name string, size uint64, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Truncate(context.Background(), toPath(name), int(size)))
}

// Access implements pathfs.FileSystem.
func (fs *FileSystem) Access(name string, mode uint32, _ *fuse.Context) fuse.Status {
	return status(fs.adapter.Access(context.Background(), toPath(name), mode))
}

// Create implements pathfs.FileSystem.
func (fs *FileSystem) Create(name string, flags uint32, mode uint32, _ *fuse.Context) (nodefs.File, fuse.Status) {
	path := toPath(name)
	fh, err := fs.adapter.Create(context.Background(), path, mode)
	if err != nil {
		return nil, status(err)
	}
	return newFile(fs.adapter, path, fh), fuse.OK
}

// Open implements pathfs.FileSystem.
func (fs *FileSystem) Open(name string, flags uint32, _ *fuse.Context) (nodefs.File, fuse.Status) {
	path := toPath(name)
	fh, err := fs.adapter.Open(context.Background(), path, int(flags))
	if err != nil {
		return nil, status(err)
	}
	return newFile(fs.adapter, path, fh), fuse.OK
}

// Readlink, Mknod, Symlink, Link and StatFs have no defined behavior
// in this filesystem; the embedded pathfs.NewDefaultFileSystem()
// already returns ENOSYS for them.

// Mount mounts adapter at mountpoint and serves it until ctx is
// canceled or the filesystem is unmounted externally. It blocks until
// Serve returns.
//
// The adapter services calls single-threaded (spec.md §5), matching
// the Python original's FUSE(..., nothreads=True, foreground=True)
// (original_source/fuse-etcd-v2/fuse-etcd-v2.py). The nodefs.MountRoot
// convenience wrapper mounts with go-fuse's default MountOptions,
// which leaves kernel dispatch multi-threaded, so the connector is
// built and served explicitly here instead, with
// fuse.MountOptions{SingleThreaded: true} passed to fuse.NewServer.
func Mount(ctx context.Context, adapter *fsadapter.Adapter, mountpoint string, log logrus.FieldLogger) error {
	fs := New(adapter, log)
	nfs := pathfs.NewPathNodeFs(fs, nil)
	conn := nodefs.NewFileSystemConnector(nfs.Root(), nil)
	server, err := fuse.NewServer(conn.RawFS(), mountpoint, &fuse.MountOptions{SingleThreaded: true})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		log.Info("unmounting")
		server.Unmount()
	}()

	log.WithFields(logrus.Fields{"mountpoint": mountpoint}).Info("mounted")
	server.Serve()
	return nil
}
