package extension

import "testing"

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.0", "1.10.0", -1},
		{"1.10.0", "1.2.0", 1},
		{"1.2", "1.2.0", 0},
		{"1.2.0.0", "1.2", 0},
		{"2", "1.99.99", 1},
		{"1.02", "1.2", 0},
		{"4.9", "5.0", -1},
		{"10.0", "9.9", 1},
		{"1.0.1", "1.0", 1},
		{"123456789012345678901234567890", "123456789012345678901234567889", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			if got := CompareVersions(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestValidVersion(t *testing.T) {
	valid := []string{"1", "1.2", "1.2.3", "2024.12.7", "0.0.1"}
	invalid := []string{"", "v1.2", "1.2-beta", "1..2", ".1", "1.", "../1", "1.2/3", " 1.2"}

	for _, v := range valid {
		if !ValidVersion(v) {
			t.Errorf("ValidVersion(%q) = false, want true", v)
		}
	}
	for _, v := range invalid {
		if ValidVersion(v) {
			t.Errorf("ValidVersion(%q) = true, want false", v)
		}
	}
}

func TestValidID(t *testing.T) {
	valid := []string{"imagegen", "image-gen", "a.b_c", "0day"}
	invalid := []string{"", ".", "..", "Image", "a/b", "-x", ".hidden", "a b"}

	for _, id := range valid {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false, want true", id)
		}
	}
	for _, id := range invalid {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true, want false", id)
		}
	}
}
