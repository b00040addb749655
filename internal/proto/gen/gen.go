//go:build ignore

// gen.go generates the raw FileDescriptorProto bytes needed for proto/fact.pb.go,
// as a fallback for environments without protoc on PATH.
// Run with: go run ./internal/proto/gen/gen.go
package main

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	descriptorpb "google.golang.org/protobuf/types/descriptorpb"
)

func main() {
	s := str
	i32 := int32ptr

	field := func(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type, jsonName string) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     s(name),
			Number:   i32(num),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     typ.Enum(),
			JsonName: s(jsonName),
		}
	}
	repeated := func(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
		f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
		return f
	}
	msgField := func(name string, num int32, typeName, jsonName string) *descriptorpb.FieldDescriptorProto {
		f := field(name, num, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, jsonName)
		f.TypeName = s(typeName)
		return f
	}

	baseFile := &descriptorpb.DescriptorProto{
		Name: s("BaseFileData"),
		Field: []*descriptorpb.FieldDescriptorProto{
			field("filename", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, "filename"),
			field("host_file", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, "hostFile"),
			field("inode", 3, descriptorpb.FieldDescriptorProto_TYPE_UINT64, "inode"),
			field("dev", 4, descriptorpb.FieldDescriptorProto_TYPE_UINT64, "dev"),
		},
	}

	lineage := &descriptorpb.DescriptorProto{
		Name: s("Lineage"),
		Field: []*descriptorpb.FieldDescriptorProto{
			field("uid", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "uid"),
			field("exe_path", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, "exePath"),
		},
	}

	process := &descriptorpb.DescriptorProto{
		Name: s("Process"),
		Field: []*descriptorpb.FieldDescriptorProto{
			field("comm", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, "comm"),
			repeated(field("args", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING, "args")),
			field("exe_path", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING, "exePath"),
			field("container_id", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING, "containerId"),
			field("uid", 5, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "uid"),
			field("gid", 6, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "gid"),
			field("login_uid", 7, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "loginUid"),
			field("pid", 8, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "pid"),
			field("in_root_mount_ns", 9, descriptorpb.FieldDescriptorProto_TYPE_BOOL, "inRootMountNs"),
			repeated(msgField("lineage", 10, ".fact.Lineage", "lineage")),
		},
	}

	chmod := &descriptorpb.DescriptorProto{
		Name: s("ChmodEvent"),
		Field: []*descriptorpb.FieldDescriptorProto{
			msgField("base", 1, ".fact.BaseFileData", "base"),
			field("new_mode", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "newMode"),
			field("old_mode", 3, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "oldMode"),
		},
	}
	chown := &descriptorpb.DescriptorProto{
		Name: s("ChownEvent"),
		Field: []*descriptorpb.FieldDescriptorProto{
			msgField("base", 1, ".fact.BaseFileData", "base"),
			field("new_uid", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "newUid"),
			field("new_gid", 3, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "newGid"),
			field("old_uid", 4, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "oldUid"),
			field("old_gid", 5, descriptorpb.FieldDescriptorProto_TYPE_UINT32, "oldGid"),
		},
	}
	simpleFileMsg := func(name string) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{
			Name:  s(name),
			Field: []*descriptorpb.FieldDescriptorProto{msgField("base", 1, ".fact.BaseFileData", "base")},
		}
	}

	fileActivity := &descriptorpb.DescriptorProto{
		Name: s("FileActivity"),
		Field: []*descriptorpb.FieldDescriptorProto{
			field("timestamp_ns", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64, "timestampNs"),
			msgField("process", 2, ".fact.Process", "process"),
			oneofField(msgField("open", 3, ".fact.OpenEvent", "open")),
			oneofField(msgField("creation", 4, ".fact.CreationEvent", "creation")),
			oneofField(msgField("unlink", 5, ".fact.UnlinkEvent", "unlink")),
			oneofField(msgField("chmod", 6, ".fact.ChmodEvent", "chmod")),
			oneofField(msgField("chown", 7, ".fact.ChownEvent", "chown")),
		},
		OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: s("file_event")}},
	}

	ack := &descriptorpb.DescriptorProto{
		Name:  s("Ack"),
		Field: []*descriptorpb.FieldDescriptorProto{field("received", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64, "received")},
	}

	fd := &descriptorpb.FileDescriptorProto{
		Name:    s("proto/fact.proto"),
		Package: s("fact"),
		Options: &descriptorpb.FileOptions{
			GoPackage: s("github.com/stackrox/fact/proto"),
		},
		Syntax: s("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			ack, fileActivity, baseFile,
			simpleFileMsg("OpenEvent"), simpleFileMsg("CreationEvent"), simpleFileMsg("UnlinkEvent"),
			chmod, chown, lineage, process,
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: s("FileActivityService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:            s("Communicate"),
						InputType:       s(".fact.FileActivity"),
						OutputType:      s(".fact.Ack"),
						ClientStreaming: boolptr(true),
					},
				},
			},
		},
	}

	raw, err := proto.Marshal(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal error: %v\n", err)
		os.Exit(1)
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		fmt.Fprintf(os.Stderr, "gzip write error: %v\n", err)
		os.Exit(1)
	}
	if err := w.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "gzip close error: %v\n", err)
		os.Exit(1)
	}

	gzBytes := buf.Bytes()
	fmt.Printf("// Raw: %d bytes, GZip: %d bytes\n", len(raw), len(gzBytes))
	fmt.Printf("var file_proto_fact_proto_rawDescGZIP_once sync.Once\n")
	fmt.Printf("var file_proto_fact_proto_rawDescGZIP_data []byte\n\n")
	fmt.Printf("var file_proto_fact_proto_rawDesc = []byte{\n\t")
	for i, b := range gzBytes {
		if i > 0 && i%16 == 0 {
			fmt.Printf("\n\t")
		}
		fmt.Printf("0x%02x,", b)
	}
	fmt.Printf("\n}\n")
}

// oneofField assigns field f to the file's single oneof (index 0); this
// generator only ever declares one oneof per message.
func oneofField(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = int32ptr(0)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	return f
}

func str(v string) *string     { return &v }
func int32ptr(v int32) *int32  { return &v }
func boolptr(v bool) *bool     { return &v }
