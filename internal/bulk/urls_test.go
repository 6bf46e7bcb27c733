package bulk

import (
	"reflect"
	"testing"
)

func TestValidateURLs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "drops relative and non-http schemes",
			in:   []string{"/relative/path", "ftp://example.com/file", "mailto:a@b.c", "https://example.com"},
			want: []string{"https://example.com"},
		},
		{
			name: "dedupes preserving first occurrence",
			in:   []string{"https://a.com", "https://b.com", "https://a.com"},
			want: []string{"https://a.com", "https://b.com"},
		},
		{
			name: "trims whitespace",
			in:   []string{"  https://a.com  ", ""},
			want: []string{"https://a.com"},
		},
		{
			name: "all invalid",
			in:   []string{"nope", "://bad"},
			want: []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ValidateURLs(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ValidateURLs(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
