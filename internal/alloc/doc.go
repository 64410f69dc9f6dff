// Package alloc manages file space for the array container.
//
// Chunk blobs and directory blocks are placed at file offsets handed out by
// an [Allocator]. Space comes from a first-fit free list before the end of
// file is extended.
//
// # Deferred reuse
//
// Extents released with Free are held back until Commit. The directory that
// is durable on disk may still reference them; only after a new directory
// and superblock are written can the old extents be handed out again.
//
//	a := alloc.New(64)          // first 64 bytes hold the superblock
//	addr := a.Alloc(1024)       // extends the file
//	a.Free(addr, 1024)          // pending
//	a.Commit()                  // reusable, or trimmed if at end of file
//
// The free list is not persisted. Space freed in an earlier session stays
// unused after the file is reopened.
package alloc
