package mount

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantName string
		wantErr  bool
	}{
		{"", Options{Mountpoint: "/mnt/lfs"}, "gofuse", false},
		{"gofuse", Options{Mountpoint: "/mnt/lfs"}, "gofuse", false},
		{"cgofuse", Options{Mountpoint: "/mnt/lfs", AllowOther: true}, "cgofuse", false},
		{"kernel", Options{Mountpoint: "/mnt/lfs"}, "", true},
		{"gofuse", Options{}, "", true},
	}
	for _, tt := range tests {
		b, err := New(tt.name, tt.opts)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && b.Name() != tt.wantName {
			t.Errorf("New(%q).Name() = %q, want %q", tt.name, b.Name(), tt.wantName)
		}
	}
}
