// Package atag reads ARM boot tags: the firmware-provided linked list of
// boot-time system tags the kernel VSpace/untyped carving phase consumes
// to enumerate physical RAM. Only Atag::Mem tags are surfaced; every other
// tag type is skipped, matching spec.md §6.
package atag

import (
	"encoding/binary"
	"fmt"
)

const (
	tagNone uint32 = 0x00000000
	tagCore uint32 = 0x54410001
	tagMem  uint32 = 0x54410002

	// wordSize is the unit the tag's leading size field is expressed in.
	wordSize = 4
	// headerWords is the tag_header {size_words, tag} prefix every tag has.
	headerWords = 2
)

// MemTag is the only tag variant the boot core consumes: a contiguous
// physical RAM bank.
type MemTag struct {
	Start uint64
	Size  uint64
}

// Source enumerates memory banks in firmware list order.
type Source interface {
	// Banks returns the Atag::Mem tags in enumeration order.
	Banks() ([]MemTag, error)
}

// FromBytes parses an ATAG list out of a physical-memory byte window, in
// the firmware wire format: each tag is a (size_words uint32, tag uint32)
// header followed by (size_words-headerWords)*4 bytes of tag-specific
// payload; the list terminates at ATAG_NONE or when the buffer is
// exhausted.
type FromBytes struct {
	Data []byte
}

var _ Source = FromBytes{}

func (f FromBytes) Banks() ([]MemTag, error) {
	var banks []MemTag
	off := 0
	for {
		if off+headerWords*wordSize > len(f.Data) {
			return banks, nil
		}
		sizeWords := binary.LittleEndian.Uint32(f.Data[off:])
		tag := binary.LittleEndian.Uint32(f.Data[off+4:])

		if tag == tagNone || sizeWords == 0 {
			return banks, nil
		}
		if sizeWords < headerWords {
			return nil, fmt.Errorf("atag: tag %#x has implausible size_words %d", tag, sizeWords)
		}

		totalBytes := int(sizeWords) * wordSize
		if off+totalBytes > len(f.Data) {
			return nil, fmt.Errorf("atag: tag %#x at offset %d overruns %d-byte buffer", tag, off, len(f.Data))
		}

		if tag == tagMem {
			payload := f.Data[off+headerWords*wordSize : off+totalBytes]
			if len(payload) < 8 {
				return nil, fmt.Errorf("atag: ATAG_MEM payload truncated (%d bytes)", len(payload))
			}
			size := binary.LittleEndian.Uint32(payload[0:])
			start := binary.LittleEndian.Uint32(payload[4:])
			banks = append(banks, MemTag{Start: uint64(start), Size: uint64(size)})
		}

		off += totalBytes
	}
}

// Static is a Source backed directly by a Go slice of banks, used by
// cmd/bootsim and by the untyped and boot tests in place of a real
// firmware tag list.
type Static []MemTag

var _ Source = Static(nil)

func (s Static) Banks() ([]MemTag, error) {
	out := make([]MemTag, len(s))
	copy(out, s)
	return out, nil
}
