package s3

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		in         string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"s3://backups", "backups", "", false},
		{"s3://backups/lfs", "backups", "lfs", false},
		{"s3://backups/lfs/host1/", "backups", "lfs/host1", false},
		{"http://backups/lfs", "", "", true},
		{"s3:///lfs", "", "", true},
	}
	for _, tt := range tests {
		cfg, err := ParseURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if cfg.Bucket != tt.wantBucket || cfg.Prefix != tt.wantPrefix {
			t.Errorf("ParseURL(%q) = (%q, %q), want (%q, %q)", tt.in, cfg.Bucket, cfg.Prefix, tt.wantBucket, tt.wantPrefix)
		}
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "a/b", "a/b"},
		{"", "/a/b", "a/b"},
		{"lfs", "a/b", "lfs/a/b"},
		{"lfs", "", "lfs/"},
	}
	for _, tt := range tests {
		b := &Backend{prefix: tt.prefix}
		if got := b.objectKey(tt.key); got != tt.want {
			t.Errorf("objectKey(%q) with prefix %q = %q, want %q", tt.key, tt.prefix, got, tt.want)
		}
	}
}
