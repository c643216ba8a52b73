package download

import "testing"

func TestExtractCandidateURLs_JSONField(t *testing.T) {
	html := `<script>{"video_url":"https://cdn.example.com/clip.mp4?sig=1"}</script>`
	got := extractCandidateURLs(html, "https://example.com/watch")
	if len(got) != 1 || got[0] != "https://cdn.example.com/clip.mp4?sig=1" {
		t.Fatalf("extractCandidateURLs() = %v", got)
	}
}

func TestExtractCandidateURLs_VideoTag(t *testing.T) {
	html := `<video src="https://cdn.example.com/a.webm" controls></video>`
	got := extractCandidateURLs(html, "https://example.com/watch")
	if len(got) != 1 || got[0] != "https://cdn.example.com/a.webm" {
		t.Fatalf("extractCandidateURLs() = %v", got)
	}
}

func TestExtractCandidateURLs_SourceTag(t *testing.T) {
	html := `<video><source src="https://cdn.example.com/b.mov" type="video/quicktime"></video>`
	got := extractCandidateURLs(html, "https://example.com/watch")
	if len(got) != 1 || got[0] != "https://cdn.example.com/b.mov" {
		t.Fatalf("extractCandidateURLs() = %v", got)
	}
}

func TestExtractCandidateURLs_DataAttribute(t *testing.T) {
	html := `<div data-video-src="https://cdn.example.com/c.mp4"></div>`
	got := extractCandidateURLs(html, "https://example.com/watch")
	if len(got) != 1 || got[0] != "https://cdn.example.com/c.mp4" {
		t.Fatalf("extractCandidateURLs() = %v", got)
	}
}

func TestExtractCandidateURLs_BareMP4URL(t *testing.T) {
	html := `see https://cdn.example.com/raw/d.mp4 for the clip`
	got := extractCandidateURLs(html, "https://example.com/watch")
	if len(got) != 1 || got[0] != "https://cdn.example.com/raw/d.mp4" {
		t.Fatalf("extractCandidateURLs() = %v", got)
	}
}

func TestExtractCandidateURLs_DedupesAcrossPatterns(t *testing.T) {
	html := `<video src="https://cdn.example.com/e.mp4"></video> https://cdn.example.com/e.mp4`
	got := extractCandidateURLs(html, "https://example.com/watch")
	if len(got) != 1 {
		t.Fatalf("expected deduped single candidate, got %v", got)
	}
}

func TestExtractCandidateURLs_NoMatches(t *testing.T) {
	got := extractCandidateURLs(`<html><body>no video here</body></html>`, "https://example.com/watch")
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}
