package document

import (
	"errors"
	"testing"
)

const testPrefix = "https://docs.example/"

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantPage   string
		wantAnchor string
		wantErr    bool
	}{
		{
			name:       "page with anchor and query",
			url:        "https://docs.example/Title-4879c771fc7e4e29a8d96c7ebb98fccd?pvs=4#824880bc0b9b4d769387fb99a4fb334d",
			wantPage:   "4879c771fc7e4e29a8d96c7ebb98fccd",
			wantAnchor: "824880bc0b9b4d769387fb99a4fb334d",
		},
		{
			name:     "page without fragment",
			url:      "https://docs.example/Title-1234567890abcdef12345678",
			wantPage: "1234567890abcdef12345678",
		},
		{
			name:     "multi dash title",
			url:      "https://docs.example/My-Meeting-Notes-abcdef0123",
			wantPage: "abcdef0123",
		},
		{
			name:       "workspace path segment",
			url:        "https://docs.example/acme/Notes-abc123#def456",
			wantPage:   "abc123",
			wantAnchor: "def456",
		},
		{
			name:     "bare id",
			url:      "https://docs.example/abc123",
			wantPage: "abc123",
		},
		{name: "other host", url: "https://other.example/Title-4879c771fc7e4e29a8d96c7ebb98fccd", wantErr: true},
		{name: "other scheme", url: "http://docs.example/Title-abc", wantErr: true},
		{name: "no page segment", url: "https://docs.example/", wantErr: true},
		{name: "trailing dash", url: "https://docs.example/Title-", wantErr: true},
		{name: "bad fragment", url: "https://docs.example/Title-abc#not-a-block", wantErr: true},
		{name: "not a url", url: "::::", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(testPrefix, tt.url)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURL) {
					t.Fatalf("expected ErrInvalidURL, got %v (target %+v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.PageID != tt.wantPage {
				t.Errorf("PageID = %q, want %q", got.PageID, tt.wantPage)
			}
			if got.AnchorID != tt.wantAnchor {
				t.Errorf("AnchorID = %q, want %q", got.AnchorID, tt.wantAnchor)
			}
		})
	}
}

func TestParseTarget_Deterministic(t *testing.T) {
	url := "https://docs.example/Title-4879c771fc7e4e29a8d96c7ebb98fccd?pvs=4#824880bc0b9b4d769387fb99a4fb334d"
	first, err := ParseTarget(testPrefix, url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _ := ParseTarget(testPrefix, url)
		if again != first {
			t.Fatalf("run %d: got %+v, want %+v", i, again, first)
		}
	}
}

func TestParseTarget_BadPrefix(t *testing.T) {
	if _, err := ParseTarget("not a prefix", "https://docs.example/Title-abc"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL for a bad prefix, got %v", err)
	}
}
