package blockimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
)

// SectorSize of the images handled here
const SectorSize = 512

const (
	mbrSignatureOffset = 510
	mbrTableOffset     = 446
	mbrEntrySize       = 16
	mbrTypeProtective  = 0xee
	maxLogical         = 128

	gptSignature  = "EFI PART"
	gptMaxEntries = 1024

	extSuperblockOffset = 1024
	extMagic            = 0xef53
)

// Partition of a block image. Offsets and sizes are in bytes.
type Partition struct {
	Index  int
	Start  int64
	Size   int64
	Type   string
	Name   string
	FSType string
	Label  string
}

func (p Partition) String() string {
	label := p.Label
	if label == "" {
		label = "-"
	}
	return fmt.Sprintf("#%d %s label=%s start=%d size=%d", p.Index, p.FSType, label, p.Start, p.Size)
}

// Partitions of a block image, with the type and label of their filesystems
func Partitions(r io.ReaderAt, size int64) ([]Partition, error) {
	mbr := make([]byte, SectorSize)
	if _, err := r.ReadAt(mbr, 0); err != nil {
		return nil, ErrNoPartitionTable.Wrap(err)
	}
	if mbr[mbrSignatureOffset] != 0x55 || mbr[mbrSignatureOffset+1] != 0xaa {
		return nil, ErrNoPartitionTable
	}

	var (
		parts []Partition
		err   error
	)
	if mbr[mbrTableOffset+4] == mbrTypeProtective {
		parts, err = readGPT(r, size)
	} else {
		parts, err = readMBR(r, size, mbr)
	}
	if err != nil {
		return nil, err
	}
	for i := range parts {
		if parts[i].Start+parts[i].Size > size {
			return nil, ErrCorruptTable.WrapMessage("partition %d ends after the end of the image", parts[i].Index)
		}
		parts[i].FSType, parts[i].Label = identify(io.NewSectionReader(r, parts[i].Start, parts[i].Size))
	}
	return parts, nil
}

type mbrEntry struct {
	kind  byte
	start uint32
	count uint32
}

func mbrEntries(sector []byte) []mbrEntry {
	entries := make([]mbrEntry, 4)
	for i := range entries {
		e := sector[mbrTableOffset+i*mbrEntrySize:]
		entries[i] = mbrEntry{
			kind:  e[4],
			start: binary.LittleEndian.Uint32(e[8:12]),
			count: binary.LittleEndian.Uint32(e[12:16]),
		}
	}
	return entries
}

func isExtended(kind byte) bool {
	return kind == 0x05 || kind == 0x0f || kind == 0x85
}

func readMBR(r io.ReaderAt, size int64, mbr []byte) ([]Partition, error) {
	var parts []Partition
	for i, e := range mbrEntries(mbr) {
		if e.kind == 0 || e.count == 0 {
			continue
		}
		if isExtended(e.kind) {
			logical, err := readLogical(r, int64(e.start))
			if err != nil {
				return nil, err
			}
			parts = append(parts, logical...)
			continue
		}
		parts = append(parts, Partition{
			Index: i + 1,
			Start: int64(e.start) * SectorSize,
			Size:  int64(e.count) * SectorSize,
			Type:  fmt.Sprintf("0x%02x", e.kind),
		})
	}
	return parts, nil
}

// readLogical follows the chain of extended boot records. Logical partitions are numbered from 5.
func readLogical(r io.ReaderAt, extStart int64) ([]Partition, error) {
	var parts []Partition
	ebr := make([]byte, SectorSize)
	next := extStart
	for n := 0; n < maxLogical; n++ {
		if _, err := r.ReadAt(ebr, next*SectorSize); err != nil {
			return nil, ErrCorruptTable.WrapMessage("extended boot record at sector %d", next).Wrap(err)
		}
		if ebr[mbrSignatureOffset] != 0x55 || ebr[mbrSignatureOffset+1] != 0xaa {
			return nil, ErrCorruptTable.WrapMessage("bad extended boot record signature at sector %d", next)
		}
		entries := mbrEntries(ebr)
		if entries[0].kind != 0 && entries[0].count != 0 {
			parts = append(parts, Partition{
				Index: 5 + n,
				Start: (next + int64(entries[0].start)) * SectorSize,
				Size:  int64(entries[0].count) * SectorSize,
				Type:  fmt.Sprintf("0x%02x", entries[0].kind),
			})
		}
		if entries[1].kind == 0 || entries[1].start == 0 {
			return parts, nil
		}
		next = extStart + int64(entries[1].start)
	}
	return nil, ErrCorruptTable.WrapMessage("too many logical partitions")
}

func readGPT(r io.ReaderAt, size int64) ([]Partition, error) {
	hdr := make([]byte, SectorSize)
	if _, err := r.ReadAt(hdr, SectorSize); err != nil {
		return nil, ErrCorruptTable.WrapMessage("GPT header").Wrap(err)
	}
	if string(hdr[:8]) != gptSignature {
		return nil, ErrCorruptTable.WrapMessage("bad GPT header signature")
	}
	entriesLBA := int64(binary.LittleEndian.Uint64(hdr[72:80]))
	count := binary.LittleEndian.Uint32(hdr[80:84])
	entrySize := binary.LittleEndian.Uint32(hdr[84:88])
	if count > gptMaxEntries || entrySize < 128 || entriesLBA*SectorSize >= size {
		return nil, ErrCorruptTable.WrapMessage("GPT header: %d entries of %d bytes at sector %d", count, entrySize, entriesLBA)
	}
	table := make([]byte, int64(count)*int64(entrySize))
	if _, err := r.ReadAt(table, entriesLBA*SectorSize); err != nil {
		return nil, ErrCorruptTable.WrapMessage("GPT entries").Wrap(err)
	}

	var parts []Partition
	for i := 0; i < int(count); i++ {
		e := table[i*int(entrySize):]
		typeGUID := e[:16]
		if bytes.Equal(typeGUID, make([]byte, 16)) {
			continue
		}
		first := int64(binary.LittleEndian.Uint64(e[32:40]))
		last := int64(binary.LittleEndian.Uint64(e[40:48]))
		if last < first {
			return nil, ErrCorruptTable.WrapMessage("partition %d ends before it starts", i+1)
		}
		parts = append(parts, Partition{
			Index: i + 1,
			Start: first * SectorSize,
			Size:  (last - first + 1) * SectorSize,
			Type:  formatGUID(typeGUID),
			Name:  decodeUTF16(e[56:128]),
		})
	}
	return parts, nil
}

// formatGUID renders a GUID stored in mixed endianness
func formatGUID(b []byte) string {
	return fmt.Sprintf("%08X-%04X-%04X-%X-%X",
		binary.LittleEndian.Uint32(b[0:4]),
		binary.LittleEndian.Uint16(b[4:6]),
		binary.LittleEndian.Uint16(b[6:8]),
		b[8:10], b[10:16])
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		c := binary.LittleEndian.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}

// identify returns the type and label of the filesystem of a partition, when recognized
func identify(r io.ReaderAt) (string, string) {
	sb := make([]byte, 0x88)
	if _, err := r.ReadAt(sb, extSuperblockOffset); err == nil && binary.LittleEndian.Uint16(sb[0x38:0x3a]) == extMagic {
		return "ext", cString(sb[0x78:0x88])
	}
	boot := make([]byte, SectorSize)
	if _, err := r.ReadAt(boot, 0); err != nil || boot[510] != 0x55 || boot[511] != 0xaa {
		return "", ""
	}
	if string(boot[0x52:0x57]) == "FAT32" {
		return "vfat", fatLabel(boot[0x47:0x52])
	}
	if strings.HasPrefix(string(boot[0x36:0x3b]), "FAT1") {
		return "vfat", fatLabel(boot[0x2b:0x36])
	}
	return "", ""
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func fatLabel(b []byte) string {
	label := strings.TrimRight(string(b), " ")
	if label == "NO NAME" {
		return ""
	}
	return label
}

// FindLabel returns the partition holding the filesystem with a given label.
//
// GPT partition names are matched as well, after filesystem labels.
func FindLabel(r io.ReaderAt, size int64, label string) (Partition, error) {
	parts, err := Partitions(r, size)
	if err != nil {
		return Partition{}, err
	}
	for _, p := range parts {
		if p.Label == label {
			return p, nil
		}
	}
	for _, p := range parts {
		if p.Name == label {
			return p, nil
		}
	}
	known := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Label != "" {
			known = append(known, p.Label)
		}
	}
	return Partition{}, ErrLabelNotFound.WrapMessage("%q (labels in image: %s)", label, strings.Join(known, ", "))
}

// WritePartition copies a filesystem image of n bytes over a partition
func WritePartition(dst io.WriterAt, p Partition, src io.Reader, n int64) error {
	if n > p.Size {
		return ErrPartitionTooSmall.WrapMessage("partition %d holds %d bytes, filesystem needs %d", p.Index, p.Size, n)
	}
	w := io.NewOffsetWriter(dst, p.Start)
	written, err := io.CopyN(w, src, n)
	if err != nil {
		return err
	}
	if written != n {
		return io.ErrShortWrite
	}
	return nil
}
