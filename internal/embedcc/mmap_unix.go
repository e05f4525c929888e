//go:build amd64 && (linux || darwin)

package embedcc

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// execBuffer is a page mapped RW then switched to RX, holding one
// compiled kernel's machine code. Mirrors the W^X discipline most JIT
// runtimes follow: code is never simultaneously writable and
// executable.
type execBuffer struct {
	mem []byte
}

// mapExecutable copies code into a fresh anonymous mapping and makes
// it executable. The mapping outlives this call; Close unmaps it.
func mapExecutable(code []byte) (*execBuffer, error) {
	if len(code) == 0 {
		return nil, errors.New("embedcc: empty kernel")
	}
	size := pageAlign(len(code))
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "embedcc: mmap")
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, errors.Wrap(err, "embedcc: mprotect")
	}
	return &execBuffer{mem: mem}, nil
}

func (b *execBuffer) addr() uintptr {
	return uintptr(unsafeSliceAddr(b.mem))
}

func (b *execBuffer) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

const pageSize = 4096

func pageAlign(n int) int {
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}
