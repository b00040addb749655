package event

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func putString(dst []byte, s string) {
	copy(dst, s)
}

func encodeRecord(t *testing.T, rec recordRaw) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, rec); err != nil {
		t.Fatalf("encode synthetic record: %v", err)
	}
	return buf.Bytes()
}

func baseRecord() recordRaw {
	var rec recordRaw
	rec.Timestamp = 123456
	rec.Inode = 42
	rec.Dev = 7
	putString(rec.Process.Comm[:], "bash")
	putString(rec.Process.ExePath[:], "/usr/bin/bash")
	putString(rec.Process.MemoryCgroup[:], "/docker/abc123")
	rec.Process.UID = 1000
	rec.Process.GID = 1000
	rec.Process.LoginUID = 1000
	rec.Process.PID = 4242
	rec.Process.InRootMountNS = 1
	return rec
}

func TestDecodeRecordOpen(t *testing.T) {
	rec := baseRecord()
	rec.Type = uint16(KindOpen)
	putString(rec.Filename[:], "/etc/passwd")

	evt, err := DecodeRecord(encodeRecord(t, rec))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}

	if evt.File.Kind != KindOpen {
		t.Errorf("Kind = %v, want Open", evt.File.Kind)
	}
	if evt.File.Base.Filename != "/etc/passwd" {
		t.Errorf("Filename = %q, want /etc/passwd", evt.File.Base.Filename)
	}
	if evt.File.Base.Inode != (InodeKey{Inode: 42, Dev: 7}) {
		t.Errorf("Inode = %+v, want {42 7}", evt.File.Base.Inode)
	}
	if evt.Process.Comm != "bash" || evt.Process.PID != 4242 {
		t.Errorf("Process = %+v, unexpected", evt.Process)
	}
	if evt.Process.MemoryCgroup != "/docker/abc123" {
		t.Errorf("MemoryCgroup = %q", evt.Process.MemoryCgroup)
	}
	if !evt.Process.InRootMountNS {
		t.Errorf("InRootMountNS = false, want true")
	}
}

func TestDecodeRecordChmod(t *testing.T) {
	rec := baseRecord()
	rec.Type = uint16(KindChmod)
	putString(rec.Filename[:], "/etc/foo (deleted)")
	binary.NativeEndian.PutUint16(rec.Extra[0:2], 0o666)
	binary.NativeEndian.PutUint16(rec.Extra[2:4], 0o644)

	evt, err := DecodeRecord(encodeRecord(t, rec))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}

	if evt.File.Base.Filename != "/etc/foo" {
		t.Errorf("Filename = %q, want /etc/foo (deleted suffix stripped)", evt.File.Base.Filename)
	}
	if evt.File.NewMode != 0o666 || evt.File.OldMode != 0o644 {
		t.Errorf("NewMode/OldMode = %o/%o, want 666/644", evt.File.NewMode, evt.File.OldMode)
	}
}

func TestDecodeRecordChown(t *testing.T) {
	rec := baseRecord()
	rec.Type = uint16(KindChown)
	binary.NativeEndian.PutUint32(rec.Extra[0:4], 1001)
	binary.NativeEndian.PutUint32(rec.Extra[4:8], 1002)
	binary.NativeEndian.PutUint32(rec.Extra[8:12], 0)
	binary.NativeEndian.PutUint32(rec.Extra[12:16], 0)

	evt, err := DecodeRecord(encodeRecord(t, rec))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if evt.File.NewUID != 1001 || evt.File.NewGID != 1002 || evt.File.OldUID != 0 || evt.File.OldGID != 0 {
		t.Errorf("Chown fields unexpected: %+v", evt.File)
	}
}

func TestDecodeRecordLineageAndArgs(t *testing.T) {
	rec := baseRecord()
	rec.Type = uint16(KindCreation)

	args := "bash\x00-c\x00echo hi\x00"
	putString(rec.Process.Args[:], args)
	rec.Process.ArgsLen = uint32(len(args))

	rec.Process.LineageLen = 2
	putString(rec.Process.Lineage[0].ExePath[:], "/usr/bin/sh")
	rec.Process.Lineage[0].UID = 0
	putString(rec.Process.Lineage[1].ExePath[:], "/sbin/init")
	rec.Process.Lineage[1].UID = 0

	evt, err := DecodeRecord(encodeRecord(t, rec))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}

	wantArgs := []string{"bash", "-c", "echo hi"}
	if len(evt.Process.Args) != len(wantArgs) {
		t.Fatalf("Args = %v, want %v", evt.Process.Args, wantArgs)
	}
	for i, a := range wantArgs {
		if evt.Process.Args[i] != a {
			t.Errorf("Args[%d] = %q, want %q", i, evt.Process.Args[i], a)
		}
	}

	if len(evt.Process.Lineage) != 2 {
		t.Fatalf("Lineage len = %d, want 2", len(evt.Process.Lineage))
	}
	if evt.Process.Lineage[0].ExePath != "/usr/bin/sh" || evt.Process.Lineage[1].ExePath != "/sbin/init" {
		t.Errorf("Lineage = %+v, unexpected", evt.Process.Lineage)
	}
}

func TestDecodeRecordTruncated(t *testing.T) {
	if _, err := DecodeRecord([]byte{1, 2, 3}); err == nil {
		t.Fatal("DecodeRecord of a short buffer should error")
	}
}

func TestDecodeRecordUnknownTag(t *testing.T) {
	rec := baseRecord()
	rec.Type = 99
	if _, err := DecodeRecord(encodeRecord(t, rec)); err == nil {
		t.Fatal("DecodeRecord with an unknown tag should error")
	}
}
