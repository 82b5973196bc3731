package mmio

import (
	"fmt"

	"frame"
	"kerrors"
)

// mmioFrameMeta marks a frame handed out for a simulated device's register
// window rather than ordinary kernel or user memory.
type mmioFrameMeta struct{}

func (mmioFrameMeta) OnDrop() {}

func init() {
	frame.RegisterMeta[mmioFrameMeta]()
}

// ArenaIo is a VmIo backed by a contiguous run of frames from the
// simulated physical arena, standing in for a real architecture's
// IoMem/device register window.
type ArenaIo struct {
	seg frame.Segment[mmioFrameMeta]
}

// NewArenaIo allocates nPages frames (at least one) for a simulated
// device's register window.
func NewArenaIo(nPages uint64) (*ArenaIo, kerrors.Err_t) {
	if nPages == 0 {
		nPages = 1
	}
	seg, errt := frame.AllocSegment(frame.NewFrameAllocOptions().Zeroed(true), nPages,
		func(uint64) mmioFrameMeta { return mmioFrameMeta{} })
	if errt != kerrors.OK {
		return nil, errt
	}
	return &ArenaIo{seg: seg}, kerrors.OK
}

// Len implements VmIo.
func (a *ArenaIo) Len() uintptr { return uintptr(a.seg.Len()) * frame.PageSize }

func (a *ArenaIo) pageBytes(i uint64) []byte { return a.seg.Frame(i).Bytes() }

// ReadBytes implements VmIo.
func (a *ArenaIo) ReadBytes(offset uintptr, buf []byte) error {
	return a.copyBytes(offset, buf, false)
}

// WriteBytes implements VmIo.
func (a *ArenaIo) WriteBytes(offset uintptr, buf []byte) error {
	return a.copyBytes(offset, buf, true)
}

func (a *ArenaIo) copyBytes(offset uintptr, buf []byte, write bool) error {
	if offset+uintptr(len(buf)) > a.Len() {
		return fmt.Errorf("mmio: access [%d,%d) exceeds length %d", offset, offset+uintptr(len(buf)), a.Len())
	}
	remaining := buf
	off := offset
	for len(remaining) > 0 {
		page := uint64(off / frame.PageSize)
		pageOff := off % frame.PageSize
		pb := a.pageBytes(page)
		n := uintptr(len(remaining))
		if room := frame.PageSize - pageOff; n > room {
			n = room
		}
		if write {
			copy(pb[pageOff:pageOff+n], remaining[:n])
		} else {
			copy(remaining[:n], pb[pageOff:pageOff+n])
		}
		remaining = remaining[n:]
		off += n
	}
	return nil
}

// Bytes implements VmIo. A request that straddles a page boundary is
// rejected since the arena does not promise adjacent frames in a segment
// are adjacent in host memory; register-sized accesses never cross a
// page in practice.
func (a *ArenaIo) Bytes(offset, length uintptr) ([]byte, error) {
	if offset+length > a.Len() {
		return nil, fmt.Errorf("mmio: access [%d,%d) exceeds length %d", offset, offset+length, a.Len())
	}
	pageOff := offset % frame.PageSize
	if pageOff+length > frame.PageSize {
		return nil, fmt.Errorf("mmio: access [%d,%d) straddles a page boundary", offset, offset+length)
	}
	pb := a.pageBytes(uint64(offset / frame.PageSize))
	return pb[pageOff : pageOff+length], nil
}

// Protect restricts host access to every frame in the window, backing
// Restrict's rights narrowing with a real mprotect rather than
// Go-level bookkeeping alone.
func (a *ArenaIo) Protect(readable, writable bool) error {
	for i := uint64(0); i < a.seg.Len(); i++ {
		if err := frame.ProtectPage(a.seg.Frame(i).Paddr(), readable, writable); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying frames.
func (a *ArenaIo) Close() { a.seg.Drop() }

var _ VmIo = (*ArenaIo)(nil)
