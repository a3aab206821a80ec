// Copyright 2024 The mongofs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fs adapts the node behaviors in internal/vfs onto
// fuseutil.FileSystem. It owns the inode table -- the bidirectional map
// between a fuseops.InodeID and the node identity it names -- since every
// node here is derived statelessly from its path rather than from a
// persistent generation-tracked backing object (there is no Mongo analogue
// of a GCS object generation number), unlike the teacher's inode package.
package fs

import (
	"fmt"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"

	"github.com/paulo-raca/mongofs/internal/cfg"
	"github.com/paulo-raca/mongofs/internal/dircache"
	"github.com/paulo-raca/mongofs/internal/key"
	"github.com/paulo-raca/mongofs/internal/metrics"
	"github.com/paulo-raca/mongofs/internal/notifier"
	"github.com/paulo-raca/mongofs/internal/openfile"
	"github.com/paulo-raca/mongofs/internal/router"
	"github.com/paulo-raca/mongofs/internal/vfs"
)

// statfsBlockCount is the fixed synthetic size reported by StatFS -- the
// backing store has no block structure, so there is nothing truthful to
// report beyond "plenty of room."
const statfsBlockCount = 1 << 20

// ServerConfig bundles everything NewServer needs to build the file system.
type ServerConfig struct {
	Store     vfs.Store
	DirCache  *dircache.Cache
	OpenFiles *openfile.Cache
	Config    cfg.Config
	Notifier  notifier.Notifier
	Metrics   *metrics.Registry // nil disables metrics counting

	Uid uint32
	Gid uint32
}

// NewServer builds a fuse.Server exporting the configured store.
func NewServer(scfg *ServerConfig) (fuse.Server, error) {
	fsys, err := newFileSystem(scfg)
	if err != nil {
		return nil, err
	}
	return fuseutil.NewFileSystemServer(fsys), nil
}

// newFileSystem builds the concrete *fileSystem underlying NewServer,
// split out so tests can drive its fuseutil.FileSystem methods directly
// without a real kernel connection.
func newFileSystem(scfg *ServerConfig) (*fileSystem, error) {
	if scfg.Store == nil {
		return nil, fmt.Errorf("fs: ServerConfig.Store is required")
	}

	vc := &vfs.Context{
		Store:     scfg.Store,
		DirCache:  scfg.DirCache,
		OpenFiles: scfg.OpenFiles,
		Config:    scfg.Config,
		Notifier:  scfg.Notifier,
	}

	if scfg.Metrics != nil && scfg.DirCache != nil {
		scfg.DirCache.OnHit = scfg.Metrics.DirCacheHits.Inc
		scfg.DirCache.OnMiss = scfg.Metrics.DirCacheMisses.Inc
	}

	fsys := &fileSystem{
		vfs:     vc,
		metrics: scfg.Metrics,
		uid:     scfg.Uid,
		gid:     scfg.Gid,

		inodes:     make(map[fuseops.InodeID]*inodeEntry),
		identities: make(map[key.Identity]fuseops.InodeID),

		nextInodeID: fuseops.RootInodeID + 1,

		dirHandles:   make(map[fuseops.HandleID]*dirHandle),
		fileHandles:  make(map[fuseops.HandleID]*openfile.Entry),
		nextHandleID: 1,
	}

	root := &inodeEntry{
		id:   fuseops.RootInodeID,
		path: "",
		node: vfs.Node{Kind: vfs.KindRoot},
		refs: 1,
	}
	fsys.inodes[fuseops.RootInodeID] = root
	fsys.identities[root.node.Identity()] = fuseops.RootInodeID

	fsys.mu = syncutil.NewInvariantMutex(fsys.checkInvariants)

	return fsys, nil
}

// inodeEntry is the inode table's value: the node a path resolved to, the
// mount-relative path used to resolve it (reused to resolve its own
// children without re-walking from the root), and its FUSE lookup count.
type inodeEntry struct {
	id   fuseops.InodeID
	path string
	node vfs.Node
	refs uint64
}

type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	vfs     *vfs.Context
	metrics *metrics.Registry
	uid     uint32
	gid     uint32

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	inodes map[fuseops.InodeID]*inodeEntry
	// identities is the reverse index of inodes, keyed by node identity, so
	// that two lookups reaching the same node (e.g. via different parent
	// paths, or a repeat lookup) share one inode ID rather than minting a
	// new one each time.
	//
	// GUARDED_BY(mu)
	identities map[key.Identity]fuseops.InodeID
	// GUARDED_BY(mu)
	nextInodeID fuseops.InodeID

	// GUARDED_BY(mu)
	dirHandles map[fuseops.HandleID]*dirHandle
	// GUARDED_BY(mu)
	fileHandles map[fuseops.HandleID]*openfile.Entry
	// GUARDED_BY(mu)
	nextHandleID fuseops.HandleID
}

func (fsys *fileSystem) checkInvariants() {
	for id, e := range fsys.inodes {
		if e.id != id {
			panic(fmt.Sprintf("fs: inode ID mismatch: map key %v, entry %v", id, e.id))
		}
		if fsys.identities[e.node.Identity()] != id {
			panic(fmt.Sprintf("fs: identity index out of sync for inode %v", id))
		}
		if e.refs == 0 {
			panic(fmt.Sprintf("fs: zero-lookup-count inode still resident: %v", id))
		}
	}
	if len(fsys.identities) != len(fsys.inodes) {
		panic("fs: identity index and inode table sizes diverged")
	}
}

// lookUpOrMintLocked returns the inode entry for node, resolved at path,
// reusing an existing entry (and bumping its lookup count) if one is
// already resident for the same identity.
//
// LOCKS_REQUIRED(fsys.mu)
func (fsys *fileSystem) lookUpOrMintLocked(node vfs.Node, path string) *inodeEntry {
	id := node.Identity()
	if existingID, ok := fsys.identities[id]; ok {
		entry := fsys.inodes[existingID]
		entry.refs++
		return entry
	}

	entry := &inodeEntry{id: fsys.nextInodeID, path: path, node: node, refs: 1}
	fsys.nextInodeID++
	fsys.inodes[entry.id] = entry
	fsys.identities[id] = entry.id
	return entry
}

// LOCKS_EXCLUDED(fsys.mu)
func (fsys *fileSystem) entry(id fuseops.InodeID) (*inodeEntry, error) {
	fsys.mu.Lock()
	e, ok := fsys.inodes[id]
	fsys.mu.Unlock()
	if !ok {
		return nil, fuse.EIO
	}
	return e, nil
}

// attrsFor renders a vfs.Attr as the fuseops.InodeAttributes the kernel
// expects, applying the fixed mode bits from the external interface: 0666
// for documents, 0777 for every directory kind.
func (fsys *fileSystem) attrsFor(attr vfs.Attr) fuseops.InodeAttributes {
	if attr.IsDir {
		return fuseops.InodeAttributes{
			Uid:   fsys.uid,
			Gid:   fsys.gid,
			Mode:  os.ModeDir | 0777,
			Nlink: 2,
		}
	}
	return fuseops.InodeAttributes{
		Uid:   fsys.uid,
		Gid:   fsys.gid,
		Mode:  0666,
		Nlink: 1,
		Size:  uint64(attr.Size),
	}
}

func (fsys *fileSystem) countError(err error) error {
	if err != nil && fsys.metrics != nil {
		fsys.metrics.DatabaseErrors.Inc()
	}
	return err
}

func (fsys *fileSystem) Init(op *fuseops.InitOp) error {
	return nil
}

func (fsys *fileSystem) StatFS(op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.Blocks = statfsBlockCount
	op.BlocksFree = statfsBlockCount
	op.BlocksAvailable = statfsBlockCount
	op.Inodes = statfsBlockCount
	op.InodesFree = statfsBlockCount
	return nil
}

func (fsys *fileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parent, err := fsys.entry(op.Parent)
	if err != nil {
		return err
	}

	node, ok := router.Route(childPath(parent.path, op.Name))
	if !ok {
		return fuse.ENOENT
	}

	attr, err := vfs.Getattr(op.Context(), fsys.vfs, node)
	if err != nil {
		return fsys.countError(err)
	}

	fsys.mu.Lock()
	child := fsys.lookUpOrMintLocked(node, childPath(parent.path, op.Name))
	fsys.mu.Unlock()

	op.Entry.Child = child.id
	op.Entry.Attributes = fsys.attrsFor(attr)
	return nil
}

func (fsys *fileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	e, err := fsys.entry(op.Inode)
	if err != nil {
		return err
	}

	attr, err := vfs.Getattr(op.Context(), fsys.vfs, e.node)
	if err != nil {
		return fsys.countError(err)
	}

	op.Attributes = fsys.attrsFor(attr)
	return nil
}

func (fsys *fileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	e, ok := fsys.inodes[op.Inode]
	if !ok {
		return nil
	}

	if op.N >= e.refs {
		delete(fsys.inodes, op.Inode)
		delete(fsys.identities, e.node.Identity())
		return nil
	}
	e.refs -= op.N
	return nil
}

func (fsys *fileSystem) MkDir(op *fuseops.MkDirOp) error {
	parent, err := fsys.entry(op.Parent)
	if err != nil {
		return err
	}

	path := childPath(parent.path, op.Name)
	node, ok := router.Route(path)
	if !ok {
		return fuse.EINVAL
	}

	if err := vfs.Mkdir(op.Context(), fsys.vfs, node); err != nil {
		return fsys.countError(err)
	}

	attr, err := vfs.Getattr(op.Context(), fsys.vfs, node)
	if err != nil {
		return fsys.countError(err)
	}

	fsys.mu.Lock()
	child := fsys.lookUpOrMintLocked(node, path)
	fsys.mu.Unlock()

	op.Entry.Child = child.id
	op.Entry.Attributes = fsys.attrsFor(attr)
	return nil
}

func (fsys *fileSystem) RmDir(op *fuseops.RmDirOp) error {
	parent, err := fsys.entry(op.Parent)
	if err != nil {
		return err
	}

	node, ok := router.Route(childPath(parent.path, op.Name))
	if !ok {
		return fuse.ENOENT
	}

	return fsys.countError(vfs.Rmdir(op.Context(), fsys.vfs, node))
}

func (fsys *fileSystem) Unlink(op *fuseops.UnlinkOp) error {
	parent, err := fsys.entry(op.Parent)
	if err != nil {
		return err
	}

	node, ok := router.Route(childPath(parent.path, op.Name))
	if !ok {
		return fuse.ENOENT
	}

	return fsys.countError(vfs.Unlink(op.Context(), fsys.vfs, node))
}

func (fsys *fileSystem) Rename(op *fuseops.RenameOp) error {
	oldParent, err := fsys.entry(op.OldParent)
	if err != nil {
		return err
	}
	newParent, err := fsys.entry(op.NewParent)
	if err != nil {
		return err
	}

	from, ok := router.Route(childPath(oldParent.path, op.OldName))
	if !ok {
		return fuse.ENOENT
	}
	to, ok := router.Route(childPath(newParent.path, op.NewName))
	if !ok {
		return fuse.EINVAL
	}

	return fsys.countError(vfs.Rename(op.Context(), fsys.vfs, from, to))
}

// CreateFile handles the O_CREAT path for a document that does not exist
// yet: the parent must be a Filter node at odd depth (a pivot bound to the
// leaf's value), mirroring how Unlink/Getattr address the same document.
func (fsys *fileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	parent, err := fsys.entry(op.Parent)
	if err != nil {
		return err
	}

	path := childPath(parent.path, op.Name)
	node, ok := router.Route(path)
	if !ok || node.Kind != vfs.KindDocument {
		return fuse.EACCES
	}

	entry := fsys.vfs.OpenFiles.Create(openfile.Node{
		Database:   node.Database,
		Collection: node.Collection,
		Filter:     node.Filter,
	})

	fsys.mu.Lock()
	child := fsys.lookUpOrMintLocked(node, path)
	handle := fsys.nextHandleID
	fsys.nextHandleID++
	fsys.fileHandles[handle] = entry
	fsys.mu.Unlock()

	if fsys.metrics != nil {
		fsys.metrics.OpenFileRefs.Inc()
		fsys.metrics.OpenFileEntries.Inc()
	}

	op.Entry.Child = child.id
	op.Entry.Attributes = fsys.attrsFor(vfs.Attr{IsDir: false, Size: 0})
	op.Handle = handle
	return nil
}

func (fsys *fileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	e, err := fsys.entry(op.Inode)
	if err != nil {
		return err
	}

	listing := vfs.Readdir(op.Context(), fsys.vfs, e.node)

	fsys.mu.Lock()
	handle := fsys.nextHandleID
	fsys.nextHandleID++
	fsys.dirHandles[handle] = newDirHandle(listing)
	fsys.mu.Unlock()

	op.Handle = handle
	return nil
}

func (fsys *fileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fsys.mu.Lock()
	dh, ok := fsys.dirHandles[op.Handle]
	fsys.mu.Unlock()
	if !ok {
		return fuse.EIO
	}

	return dh.ReadDir(op)
}

func (fsys *fileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	delete(fsys.dirHandles, op.Handle)
	return nil
}

func (fsys *fileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	e, err := fsys.entry(op.Inode)
	if err != nil {
		return err
	}
	if e.node.Kind != vfs.KindDocument {
		return fuse.EINVAL
	}

	_, alreadyOpen := fsys.vfs.OpenFiles.Peek(e.node.Identity())

	entry, err := fsys.vfs.OpenFiles.Open(op.Context(), fsys.vfs.Store, openfile.Node{
		Database:   e.node.Database,
		Collection: e.node.Collection,
		Filter:     e.node.Filter,
	}, fsys.vfs.Config.HideID, fsys.vfs.Config.JSON)
	if err != nil {
		return fsys.countError(err)
	}

	fsys.mu.Lock()
	handle := fsys.nextHandleID
	fsys.nextHandleID++
	fsys.fileHandles[handle] = entry
	fsys.mu.Unlock()

	if fsys.metrics != nil {
		fsys.metrics.OpenFileRefs.Inc()
		if !alreadyOpen {
			fsys.metrics.OpenFileEntries.Inc()
		}
	}

	op.Handle = handle
	return nil
}

func (fsys *fileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	fsys.mu.Lock()
	entry, ok := fsys.fileHandles[op.Handle]
	fsys.mu.Unlock()
	if !ok {
		return fuse.EIO
	}

	op.BytesRead = fsys.vfs.OpenFiles.Read(entry, op.Dst, op.Offset)
	return nil
}

func (fsys *fileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	fsys.mu.Lock()
	entry, ok := fsys.fileHandles[op.Handle]
	fsys.mu.Unlock()
	if !ok {
		return fuse.EIO
	}

	fsys.vfs.OpenFiles.Write(entry, op.Data, op.Offset)
	return nil
}

func (fsys *fileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	e, err := fsys.entry(op.Inode)
	if err != nil {
		return err
	}
	if e.node.Kind != vfs.KindDocument {
		return fuse.ENOSYS
	}
	if op.Size == nil {
		attr, gaErr := vfs.Getattr(op.Context(), fsys.vfs, e.node)
		if gaErr != nil {
			return fsys.countError(gaErr)
		}
		op.Attributes = fsys.attrsFor(attr)
		return nil
	}

	// Truncate has no handle argument in POSIX; every live handle on this
	// node shares the one entry openfile.Cache keeps per identity (see
	// internal/openfile), so Peek finds it regardless of which handle the
	// kernel used to reach us. If nothing has it open yet (a bare
	// truncate(2)/O_TRUNC with no handle of ours), open it implicitly,
	// truncate, and release -- the release's flush is what persists the
	// truncation when no other handle is keeping the entry alive.
	entry, alreadyOpen := fsys.vfs.OpenFiles.Peek(e.node.Identity())
	if !alreadyOpen {
		var openErr error
		entry, openErr = fsys.vfs.OpenFiles.Open(op.Context(), fsys.vfs.Store, openfile.Node{
			Database:   e.node.Database,
			Collection: e.node.Collection,
			Filter:     e.node.Filter,
		}, fsys.vfs.Config.HideID, fsys.vfs.Config.JSON)
		if openErr != nil {
			return fsys.countError(openErr)
		}
	}

	fsys.vfs.OpenFiles.Truncate(entry, int64(*op.Size))

	if !alreadyOpen {
		if err := fsys.vfs.OpenFiles.Release(op.Context(), fsys.vfs.Store, fsys.vfs.Notifier, fsys.vfs.DirCache, entry, fsys.vfs.Config.JSON); err != nil {
			if fsys.metrics != nil {
				fsys.metrics.FlushFailures.Inc()
			}
			return fsys.countError(err)
		}
	}

	op.Attributes = fsys.attrsFor(vfs.Attr{IsDir: false, Size: int64(*op.Size)})
	return nil
}

func (fsys *fileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	fsys.mu.Lock()
	entry, ok := fsys.fileHandles[op.Handle]
	fsys.mu.Unlock()
	if !ok {
		return fuse.EIO
	}

	err := fsys.vfs.OpenFiles.Flush(op.Context(), fsys.vfs.Store, fsys.vfs.Notifier, fsys.vfs.DirCache, entry, fsys.vfs.Config.JSON)
	if err != nil && fsys.metrics != nil {
		fsys.metrics.FlushFailures.Inc()
	}
	return err
}

func (fsys *fileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	fsys.mu.Lock()
	entry, ok := fsys.fileHandles[op.Handle]
	delete(fsys.fileHandles, op.Handle)
	fsys.mu.Unlock()
	if !ok {
		return nil
	}

	identity := entry.Identity()
	err := fsys.vfs.OpenFiles.Release(op.Context(), fsys.vfs.Store, fsys.vfs.Notifier, fsys.vfs.DirCache, entry, fsys.vfs.Config.JSON)
	if err != nil && fsys.metrics != nil {
		fsys.metrics.FlushFailures.Inc()
	}

	if fsys.metrics != nil {
		fsys.metrics.OpenFileRefs.Dec()
		if _, stillOpen := fsys.vfs.OpenFiles.Peek(identity); !stillOpen {
			fsys.metrics.OpenFileEntries.Dec()
		}
	}
	return nil
}

// childPath appends name (exactly as the kernel supplied it, whether it
// came from a prior Readdir or was freshly typed by a user) to parent's
// mount-relative path, the same encoded string router.Route expects.
func childPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "/" + name
}
