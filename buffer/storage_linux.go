//go:build linux

package buffer

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mappedStorage double-maps a single memfd-backed region so that any
// logical offset in [0, capacity) can be read or written as a truly
// contiguous slice of up to capacity bytes, even across the ring's wrap
// point — the "virtual wraparound" trick behind the Circular buffer
// variant: reserve 2*capacity of address space, then map the same memfd
// over both halves so byte i and byte i+capacity alias the same page.
type mappedStorage struct {
	mem      []byte // capacity*2 bytes of address space, second half aliases the first
	capacity int
}

func newMappedStorage(capacity int) (contiguousStorage, error) {
	pageSize := unix.Getpagesize()
	capacity = roundUpToMultiple(capacity, pageSize)

	fd, err := unix.MemfdCreate("flowgraph-circular-buffer", 0)
	if err != nil {
		return newFallbackStorage(capacity), nil
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(capacity)); err != nil {
		return newFallbackStorage(capacity), nil
	}

	// Reserve a contiguous 2*capacity address range with an anonymous
	// mapping, then overlay the memfd twice at fixed offsets within it.
	reservation, err := unix.Mmap(-1, 0, capacity*2, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return newFallbackStorage(capacity), nil
	}
	base := uintptr(unsafe.Pointer(&reservation[0]))

	if _, err := mmapFixed(base, capacity, fd); err != nil {
		unix.Munmap(reservation)
		return newFallbackStorage(capacity), nil
	}
	if _, err := mmapFixed(base+uintptr(capacity), capacity, fd); err != nil {
		unix.Munmap(reservation)
		return newFallbackStorage(capacity), nil
	}

	return &mappedStorage{mem: reservation, capacity: capacity}, nil
}

// mmapFixed maps fd at the given fixed address, overlaying whatever
// reservation already lives there. MAP_FIXED makes this safe because the
// address range was just reserved by the caller.
func mmapFixed(addr uintptr, length int, fd int) (uintptr, error) {
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		uintptr(length),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd),
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

func (s *mappedStorage) Capacity() int { return s.capacity }

func (s *mappedStorage) Contiguous(offset, length int) []byte {
	if length > s.capacity {
		length = s.capacity
	}
	return s.mem[offset : offset+length]
}
