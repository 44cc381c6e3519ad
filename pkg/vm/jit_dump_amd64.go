//go:build linux && amd64

package vm

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"
)

// dumpNative logs the emitted code one native instruction per line. Used
// at debug level after compilation.
func dumpNative(logger *logrus.Logger, code []byte) {
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			logger.Debugf("%#06x: .byte %#02x", off, code[off])
			off++
			continue
		}
		logger.Debugf("%#06x: %s", off, x86asm.GNUSyntax(inst, uint64(off), nil))
		off += inst.Len
	}
}
