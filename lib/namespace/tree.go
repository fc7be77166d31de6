// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/bureau-foundation/ninedoor/lib/secure9p"
)

var (
	ErrNotFound   = errors.New("namespace: not found")
	ErrBusy       = errors.New("namespace: already exists")
	ErrInvalid    = errors.New("namespace: invalid")
	ErrPermission = errors.New("namespace: permission denied")
	ErrTooBig     = errors.New("namespace: file size limit exceeded")
)

// AppendAtEnd is the offset a writer passes to append at the current
// end of an append-only file without naming it.
const AppendAtEnd uint64 = math.MaxUint64

// DefaultMaxFileBytes bounds an append-only file when Options leaves
// it unset.
const DefaultMaxFileBytes = 1 << 20

// Kind is the type of a namespace node.
type Kind int

const (
	KindDirectory Kind = iota
	KindReadOnly
	KindAppendOnly
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindReadOnly:
		return "read-only"
	case KindAppendOnly:
		return "append-only"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) qidType() secure9p.QidType {
	switch k {
	case KindDirectory:
		return secure9p.QidDirectory
	case KindAppendOnly:
		return secure9p.QidAppendOnly
	default:
		return secure9p.QidFile
	}
}

// Options bounds a Tree.
type Options struct {
	// MaxDepth bounds path component counts. Zero selects
	// DefaultMaxDepth.
	MaxDepth int

	// MaxFileBytes bounds each append-only file. Zero selects
	// DefaultMaxFileBytes.
	MaxFileBytes int
}

// Entry describes a node as seen by a caller.
type Entry struct {
	// Path is the node's own path after alias resolution.
	Path string
	Kind Kind
	Qid  secure9p.Qid
	Size uint64
}

type node struct {
	kind     Kind
	qid      secure9p.Qid
	children []string
	data     []byte
}

// Tree is the namespace arena.
type Tree struct {
	mu      sync.RWMutex
	options Options
	nodes   map[string]*node
	binds   map[string]string
}

// Bootstrap directories present in every tree.
var bootstrapDirectories = []string{"/proc", "/log", "/queen", "/worker"}

// New returns a tree holding the root and the bootstrap directories.
func New(options Options) *Tree {
	if options.MaxDepth <= 0 {
		options.MaxDepth = DefaultMaxDepth
	}
	if options.MaxFileBytes <= 0 {
		options.MaxFileBytes = DefaultMaxFileBytes
	}
	tree := &Tree{
		options: options,
		nodes:   map[string]*node{"/": newNode("/", KindDirectory)},
		binds:   make(map[string]string),
	}
	for _, path := range bootstrapDirectories {
		if err := tree.createLocked(path, KindDirectory, nil); err != nil {
			panic("namespace: bootstrap " + path + ": " + err.Error())
		}
	}
	return tree
}

func newNode(path string, kind Kind) *node {
	return &node{kind: kind, qid: secure9p.Qid{Type: kind.qidType(), Path: QidPath(path)}}
}

// MaxFileBytes is the append-only size bound in effect.
func (t *Tree) MaxFileBytes() int { return t.options.MaxFileBytes }

// resolveLocked maps path through the longest matching alias.
func (t *Tree) resolveLocked(path string) string {
	best := ""
	for alias := range t.binds {
		if WithinPrefix(path, alias) && len(alias) > len(best) {
			best = alias
		}
	}
	if best == "" {
		return path
	}
	target := t.binds[best]
	if path == best {
		return target
	}
	rest := path[len(best):]
	if target == "/" {
		return rest
	}
	return target + rest
}

func (t *Tree) lookupLocked(path string) (string, *node, error) {
	if _, err := SplitPath(path, t.options.MaxDepth); err != nil {
		return "", nil, err
	}
	resolved := t.resolveLocked(path)
	entry, ok := t.nodes[resolved]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return resolved, entry, nil
}

func entryOf(path string, n *node) Entry {
	return Entry{Path: path, Kind: n.kind, Qid: n.qid, Size: uint64(len(n.data))}
}

// Lookup returns the node at path.
func (t *Tree) Lookup(path string) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	resolved, n, err := t.lookupLocked(path)
	if err != nil {
		return Entry{}, err
	}
	return entryOf(resolved, n), nil
}

// Exists reports whether path names a node.
func (t *Tree) Exists(path string) bool {
	_, err := t.Lookup(path)
	return err == nil
}

// Walk descends from start through names and returns the path reached
// and the Qid of every node along the way. Walking stops with
// ErrNotFound at the first missing component; no partial result is
// returned. An empty names list returns start with no Qids.
func (t *Tree) Walk(start string, names []string) (string, []secure9p.Qid, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, _, err := t.lookupLocked(start); err != nil {
		return "", nil, err
	}
	path := start
	qids := make([]secure9p.Qid, 0, len(names))
	for _, name := range names {
		if err := ValidateComponent(name); err != nil {
			return "", nil, err
		}
		_, current, _ := t.lookupLocked(path)
		if current == nil || current.kind != KindDirectory {
			return "", nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, path)
		}
		path = Join(path, name)
		_, n, err := t.lookupLocked(path)
		if err != nil {
			return "", nil, err
		}
		qids = append(qids, n.qid)
	}
	return path, qids, nil
}

// Children lists the names inside a directory in sorted order.
func (t *Tree) Children(path string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, n, err := t.lookupLocked(path)
	if err != nil {
		return nil, err
	}
	if n.kind != KindDirectory {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalid, path)
	}
	return slices.Clone(n.children), nil
}

// Read returns up to count bytes of a file starting at offset. Reads
// past the end return an empty slice.
func (t *Tree) Read(path string, offset uint64, count uint32) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, n, err := t.lookupLocked(path)
	if err != nil {
		return nil, err
	}
	if n.kind == KindDirectory {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalid, path)
	}
	return clampRead(n.data, offset, count), nil
}

func clampRead(data []byte, offset uint64, count uint32) []byte {
	size := uint64(len(data))
	if offset >= size {
		return []byte{}
	}
	end := min(size, offset+uint64(count))
	if end < offset {
		end = size
	}
	return slices.Clone(data[offset:end])
}

// WriteAppend appends data to an append-only file. offset must be the
// file's current size or AppendAtEnd. It returns the offset at which
// the data landed.
func (t *Tree) WriteAppend(path string, offset uint64, data []byte) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, n, err := t.lookupLocked(path)
	if err != nil {
		return 0, err
	}
	switch n.kind {
	case KindDirectory:
		return 0, fmt.Errorf("%w: %s is a directory", ErrInvalid, path)
	case KindReadOnly:
		return 0, fmt.Errorf("%w: %s is read-only", ErrPermission, path)
	}
	end := uint64(len(n.data))
	if offset != AppendAtEnd && offset != end {
		return 0, fmt.Errorf("%w: offset %d, append position is %d", ErrInvalid, offset, end)
	}
	if len(n.data)+len(data) > t.options.MaxFileBytes {
		return 0, fmt.Errorf("%w: %s would reach %d bytes, limit %d", ErrTooBig, path, len(n.data)+len(data), t.options.MaxFileBytes)
	}
	n.data = append(n.data, data...)
	n.qid.Version++
	return end, nil
}

// SetContents replaces the contents of a read-only file.
func (t *Tree) SetContents(path string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, n, err := t.lookupLocked(path)
	if err != nil {
		return err
	}
	if n.kind != KindReadOnly {
		return fmt.Errorf("%w: %s is %s, not read-only", ErrInvalid, path, n.kind)
	}
	n.data = slices.Clone(data)
	n.qid.Version++
	return nil
}

// CreateDirectory adds an empty directory. The parent must exist.
func (t *Tree) CreateDirectory(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createLocked(path, KindDirectory, nil)
}

// CreateFile adds a file of the given kind with initial contents.
func (t *Tree) CreateFile(path string, kind Kind, contents []byte) error {
	if kind == KindDirectory {
		return fmt.Errorf("%w: CreateFile with directory kind", ErrInvalid)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createLocked(path, kind, contents)
}

// MkdirAll creates path and any missing parents.
func (t *Tree) MkdirAll(path string) error {
	components, err := SplitPath(path, t.options.MaxDepth)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	current := "/"
	for _, component := range components {
		current = Join(current, component)
		existing, ok := t.nodes[t.resolveLocked(current)]
		if ok {
			if existing.kind != KindDirectory {
				return fmt.Errorf("%w: %s is not a directory", ErrInvalid, current)
			}
			continue
		}
		if err := t.createLocked(current, KindDirectory, nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) createLocked(path string, kind Kind, contents []byte) error {
	components, err := SplitPath(path, t.options.MaxDepth)
	if err != nil {
		return err
	}
	if len(components) == 0 {
		return fmt.Errorf("%w: /", ErrBusy)
	}
	parentPath, name := Parent(t.resolveLocked(path))
	parent, ok := t.nodes[parentPath]
	if !ok {
		return fmt.Errorf("%w: parent of %s", ErrNotFound, path)
	}
	if parent.kind != KindDirectory {
		return fmt.Errorf("%w: parent of %s is not a directory", ErrInvalid, path)
	}
	full := Join(parentPath, name)
	if _, exists := t.nodes[full]; exists {
		return fmt.Errorf("%w: %s", ErrBusy, path)
	}
	if kind == KindAppendOnly && len(contents) > t.options.MaxFileBytes {
		return fmt.Errorf("%w: %s", ErrTooBig, path)
	}

	n := newNode(full, kind)
	n.data = slices.Clone(contents)
	t.nodes[full] = n
	index := sort.SearchStrings(parent.children, name)
	parent.children = slices.Insert(parent.children, index, name)
	parent.qid.Version++
	return nil
}

// Remove deletes a node and everything beneath it.
func (t *Tree) Remove(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(path)
}

func (t *Tree) removeLocked(path string) error {
	if _, isAlias := t.binds[path]; isAlias {
		delete(t.binds, path)
		return nil
	}
	resolved, _, err := t.lookupLocked(path)
	if err != nil {
		return err
	}
	if resolved == "/" {
		return fmt.Errorf("%w: cannot remove /", ErrPermission)
	}
	for nodePath := range t.nodes {
		if WithinPrefix(nodePath, resolved) {
			delete(t.nodes, nodePath)
		}
	}
	for alias, target := range t.binds {
		if WithinPrefix(alias, resolved) || WithinPrefix(target, resolved) {
			delete(t.binds, alias)
		}
	}
	parentPath, name := Parent(resolved)
	if parent, ok := t.nodes[parentPath]; ok {
		if index, found := slices.BinarySearch(parent.children, name); found {
			parent.children = slices.Delete(parent.children, index, index+1)
		}
		parent.qid.Version++
	}
	return nil
}

// WorkerPath is the directory of a worker.
func WorkerPath(id string) string { return "/worker/" + id }

// CreateWorker adds the directory /worker/<id>.
func (t *Tree) CreateWorker(id string) error {
	if err := ValidateComponent(id); err != nil {
		return err
	}
	return t.CreateDirectory(WorkerPath(id))
}

// RemoveWorker deletes /worker/<id> and its contents.
func (t *Tree) RemoveWorker(id string) error {
	if err := ValidateComponent(id); err != nil {
		return err
	}
	return t.Remove(WorkerPath(id))
}

// Bind makes alias resolve to target. The target must exist, and the
// alias must not name an existing node. The alias's parent directory
// must exist.
func (t *Tree) Bind(target, alias string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	resolvedTarget, _, err := t.lookupLocked(target)
	if err != nil {
		return err
	}
	if _, err := SplitPath(alias, t.options.MaxDepth); err != nil {
		return err
	}
	if alias == "/" {
		return fmt.Errorf("%w: cannot bind over /", ErrInvalid)
	}
	if WithinPrefix(resolvedTarget, alias) {
		return fmt.Errorf("%w: bind %s onto %s would loop", ErrInvalid, target, alias)
	}
	if _, exists := t.nodes[t.resolveLocked(alias)]; exists {
		return fmt.Errorf("%w: %s", ErrBusy, alias)
	}
	parentPath, _ := Parent(alias)
	if parent, ok := t.nodes[t.resolveLocked(parentPath)]; !ok || parent.kind != KindDirectory {
		return fmt.Errorf("%w: parent of %s", ErrNotFound, alias)
	}
	t.binds[alias] = resolvedTarget
	return nil
}

// Binds returns a copy of the alias table, alias to target.
func (t *Tree) Binds() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.binds))
	for alias, target := range t.binds {
		out[alias] = target
	}
	return out
}
