//go:build unix

package pqhybrid

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

// pageLocks counts the live locked secrets on each page. mlock and munlock
// act on whole pages and small secrets share pages, so a page is unlocked
// only when its last secret is released.
var pageLocks = struct {
	sync.Mutex
	refs map[uintptr]int
}{refs: make(map[uintptr]int)}

// pageSpans splits b at page boundaries. pages[i] is the address of the page
// holding spans[i].
func pageSpans(b []byte) (pages []uintptr, spans [][]byte) {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	n := uintptr(len(b))
	for off := uintptr(0); off < n; {
		page := (base + off) &^ (pageSize - 1)
		end := page + pageSize - base
		if end > n {
			end = n
		}
		pages = append(pages, page)
		spans = append(spans, b[off:end])
		off = end
	}
	return pages, spans
}

// lockMemory pins b so it is never written to swap. Failure (for example an
// exhausted RLIMIT_MEMLOCK) is tolerated; the buffer is still wiped on release.
func lockMemory(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	pages, spans := pageSpans(b)

	pageLocks.Lock()
	defer pageLocks.Unlock()
	for i, page := range pages {
		if pageLocks.refs[page] == 0 {
			if err := unix.Mlock(spans[i]); err != nil {
				releasePages(pages[:i], spans[:i])
				return false
			}
		}
		pageLocks.refs[page]++
	}
	return true
}

func unlockMemory(b []byte) {
	if len(b) == 0 {
		return
	}
	pages, spans := pageSpans(b)

	pageLocks.Lock()
	defer pageLocks.Unlock()
	releasePages(pages, spans)
}

// releasePages drops one reference per page and unlocks the pages left with
// none. Callers hold pageLocks.
func releasePages(pages []uintptr, spans [][]byte) {
	for i, page := range pages {
		n := pageLocks.refs[page] - 1
		if n > 0 {
			pageLocks.refs[page] = n
			continue
		}
		delete(pageLocks.refs, page)
		_ = unix.Munlock(spans[i])
	}
}
