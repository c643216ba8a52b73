package s3

import "testing"

func TestStore_URL_PathStyleWhenEndpointSet(t *testing.T) {
	s := &Store{endpoint: "http://minio.internal:9000"}
	got := s.URL("watermark-inputs", "jobs/abc/input.mp4")
	want := "http://minio.internal:9000/watermark-inputs/jobs/abc/input.mp4"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestStore_URL_VirtualHostedWhenNoEndpoint(t *testing.T) {
	s := &Store{}
	got := s.URL("watermark-processed", "jobs/abc/output.mp4")
	want := "https://watermark-processed.s3.amazonaws.com/jobs/abc/output.mp4"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}
