package event

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/stackrox/fact/internal/hostinfo"
)

const (
	commLen    = 16
	argsLen    = 4096
	pathLen    = 4096
	cgroupLen  = 4096
	lineageMax = 32
	extraLen   = 16
)

// lineageRaw mirrors the kernel's Lineage struct: { u32 uid; char exe_path[4096]; }.
type lineageRaw struct {
	UID     uint32
	ExePath [pathLen]byte
}

// processRaw mirrors the kernel's Process struct, field for field, per
// SPEC_FULL.md §6.
type processRaw struct {
	Comm          [commLen]byte
	Args          [argsLen]byte
	ArgsLen       uint32
	ExePath       [pathLen]byte
	MemoryCgroup  [cgroupLen]byte
	UID           uint32
	GID           uint32
	LoginUID      uint32
	PID           uint32
	Lineage       [lineageMax]lineageRaw
	LineageLen    uint16
	InRootMountNS uint8
	_             uint8 // C tail padding to the struct's 4-byte alignment
}

// recordRaw mirrors the kernel event record described in SPEC_FULL.md §6,
// including the padding a C compiler inserts for field alignment.
// Extra holds the raw bytes of the Chmod/Chown union, interpreted by Type.
type recordRaw struct {
	Type      uint16
	_         [6]byte // C padding so Timestamp is 8-byte aligned
	Timestamp uint64
	Process   processRaw
	Inode     uint64
	Dev       uint64
	Filename  [pathLen]byte
	Extra     [extraLen]byte
}

// RecordSize is the exact byte length a raw ring-buffer frame must have to
// decode successfully.
var RecordSize = binary.Size(recordRaw{})

// DecodeRecord converts one raw ring-buffer frame into an Event. Timestamp is
// computed from the record's bpf_ktime_ns reading plus the host's boot-time
// offset, so all decoded events share hostinfo's absolute UNIX clock.
//
// DecodeRecord never blocks. It does not decode in place: binary.Read first
// copies the whole frame into a record-sized recordRaw value.
func DecodeRecord(raw []byte) (*Event, error) {
	if len(raw) != RecordSize {
		return nil, fmt.Errorf("event: truncated record: got %d bytes, want %d", len(raw), RecordSize)
	}

	var rec recordRaw
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &rec); err != nil {
		return nil, fmt.Errorf("event: decode record: %w", err)
	}

	kind, ok := kindFromTag(rec.Type)
	if !ok {
		return nil, fmt.Errorf("event: unknown file-activity tag %d", rec.Type)
	}

	file := FileData{
		Kind: kind,
		Base: BaseFileData{
			Filename: SanitizeDPath(nullTerminated(rec.Filename[:])),
			Inode:    InodeKey{Inode: rec.Inode, Dev: rec.Dev},
		},
	}

	switch kind {
	case KindChmod:
		file.NewMode = binary.NativeEndian.Uint16(rec.Extra[0:2])
		file.OldMode = binary.NativeEndian.Uint16(rec.Extra[2:4])
	case KindChown:
		file.NewUID = binary.NativeEndian.Uint32(rec.Extra[0:4])
		file.NewGID = binary.NativeEndian.Uint32(rec.Extra[4:8])
		file.OldUID = binary.NativeEndian.Uint32(rec.Extra[8:12])
		file.OldGID = binary.NativeEndian.Uint32(rec.Extra[12:16])
	}

	ts := int64(hostinfo.BootOffset()) + int64(rec.Timestamp)

	return &Event{
		Timestamp: ts,
		Hostname:  hostinfo.Hostname(),
		Process:   decodeProcess(&rec.Process),
		File:      file,
	}, nil
}

func decodeProcess(p *processRaw) Process {
	n := int(p.LineageLen)
	if n > lineageMax {
		n = lineageMax
	}
	lineage := make([]Lineage, 0, n)
	for i := 0; i < n; i++ {
		lineage = append(lineage, Lineage{
			UID:     p.Lineage[i].UID,
			ExePath: nullTerminated(p.Lineage[i].ExePath[:]),
		})
	}

	var args []string
	if n := int(p.ArgsLen); n > 0 && n <= argsLen {
		args = splitArgs(p.Args[:n])
	}

	return Process{
		Comm:          nullTerminated(p.Comm[:]),
		Args:          args,
		ExePath:       nullTerminated(p.ExePath[:]),
		MemoryCgroup:  nullTerminated(p.MemoryCgroup[:]),
		UID:           p.UID,
		GID:           p.GID,
		LoginUID:      p.LoginUID,
		PID:           p.PID,
		InRootMountNS: p.InRootMountNS != 0,
		Lineage:       lineage,
	}
}

// splitArgs splits a single NUL-delimited argv buffer into its component
// strings, dropping every empty element (the one produced by the final NUL
// as well as any empty argument).
func splitArgs(buf []byte) []string {
	parts := bytes.Split(buf, []byte{0})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		out = append(out, string(p))
	}
	return out
}

func kindFromTag(tag uint16) (Kind, bool) {
	switch tag {
	case uint16(KindOpen):
		return KindOpen, true
	case uint16(KindCreation):
		return KindCreation, true
	case uint16(KindUnlink):
		return KindUnlink, true
	case uint16(KindChmod):
		return KindChmod, true
	case uint16(KindChown):
		return KindChown, true
	default:
		return 0, false
	}
}

func nullTerminated(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}
