// Package download implements the fall-through chain of strategies used to
// fetch a source video from a user-supplied URL (spec.md §5 "Download").
package download

import "bytes"

const minValidBytes = 10 * 1024
const minValidBytesNoSignature = 500 * 1024
const htmlSniffLen = 500

var containerSignatures = [][]byte{
	[]byte("ftyp"), // MP4/MOV, offset 4
	[]byte("moov"), // fragmented/moov-leading MOV, no leading ftyp box
	{0x1A, 0x45, 0xDF, 0xA3}, // WebM/Matroska EBML header
}

var htmlMarkers = [][]byte{
	[]byte("<!doctype"),
	[]byte("<html"),
	[]byte("cloudflare"),
	[]byte("login"),
}

// looksLikeVideo reports whether body is plausibly video content, per the
// validity test: either it is at least 10KB and carries a known container
// signature (MP4/MOV "ftyp" atom or WebM's EBML header), or it is at least
// 500KB with no HTML markers in the first 500 bytes.
func looksLikeVideo(body []byte) bool {
	if len(body) >= minValidBytes && hasContainerSignature(body) {
		return true
	}
	if len(body) >= minValidBytesNoSignature && !hasHTMLMarker(body) {
		return true
	}
	return false
}

func hasContainerSignature(body []byte) bool {
	head := body
	if len(head) > 64 {
		head = head[:64]
	}
	lower := bytes.ToLower(head)
	for _, sig := range containerSignatures {
		if bytes.Contains(lower, bytes.ToLower(sig)) {
			return true
		}
	}
	return false
}

func hasHTMLMarker(body []byte) bool {
	n := htmlSniffLen
	if len(body) < n {
		n = len(body)
	}
	lower := bytes.ToLower(body[:n])
	for _, m := range htmlMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}
