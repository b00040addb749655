package containerid

import (
	"log/slog"
	"testing"
)

func TestExtractContainerID(t *testing.T) {
	tests := []struct {
		cgroup string
		want   string
		ok     bool
	}{
		{
			cgroup: "e73c55f3e7f5b6a9cfc32a89bf13e44d348bcc4fa7b079f804d61fb1532ddbe5",
			want:   "e73c55f3e7f5",
			ok:     true,
		},
		{
			cgroup: "951e643e3c241b225b6284ef2b79a37c13fc64cbf65b5d46bda95fcb98fe63a4",
			want:   "951e643e3c24",
			ok:     true,
		},
		{
			cgroup: "cri-containerd-219d7afb8e7450929eaeb06f2d27cbf7183bfa5b55b7275696f3df4154a979af.scope",
			want:   "219d7afb8e74",
			ok:     true,
		},
		{
			cgroup: "kubelet-kubepods-burstable-pod469726a5_079d_4d15_a259_1f654b534b44.slice",
			want:   "",
			ok:     false,
		},
		{
			cgroup: "libpod-b6e375cfe46efa5cd90d095603dec2de888c28b203285819233040b5cf1212ac.scope",
			want:   "b6e375cfe46e",
			ok:     true,
		},
		{
			cgroup: "init.scope",
			want:   "",
			ok:     false,
		},
		{
			cgroup: "",
			want:   "",
			ok:     false,
		},
	}

	for _, tt := range tests {
		got, ok := ExtractContainerID(tt.cgroup)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ExtractContainerID(%q) = (%q, %v), want (%q, %v)",
				tt.cgroup, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFromCgroupPath(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{
			path: "/docker/951e643e3c241b225b6284ef2b79a37c13fc64cbf65b5d46bda95fcb98fe63a4",
			want: "951e643e3c24",
			ok:   true,
		},
		{
			path: "/kubepods/burstable/pod1/cri-containerd-219d7afb8e7450929eaeb06f2d27cbf7183bfa5b55b7275696f3df4154a979af.scope",
			want: "219d7afb8e74",
			ok:   true,
		},
		{
			path: "/kubepods/burstable/pod469726a5_079d_4d15_a259_1f654b534b44.slice/init.scope",
			want: "",
			ok:   false,
		},
		{
			path: "/",
			want: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		got, ok := FromCgroupPath(tt.path)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("FromCgroupPath(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLookupPathFallsBackWhenCgroupNotMounted(t *testing.T) {
	// In a test environment the cgroup roots under hostinfo.HostMount will
	// not contain this path, so LookupPath must fall back to the pure
	// string-based extraction rather than returning a miss.
	r := New(slog.Default())
	path := "/docker/951e643e3c241b225b6284ef2b79a37c13fc64cbf65b5d46bda95fcb98fe63a4"

	got, ok := r.LookupPath(path)
	if !ok || got != "951e643e3c24" {
		t.Errorf("LookupPath(%q) = (%q, %v), want (\"951e643e3c24\", true)", path, got, ok)
	}
}
