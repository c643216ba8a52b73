package transform

import "testing"

func TestRecognizedContainer_AcceptsKnownFormats(t *testing.T) {
	for _, f := range []string{"mov,mp4,m4a,3gp,3g2,mj2", "matroska,webm", "QuickTime / MOV"} {
		if !RecognizedContainer(f) {
			t.Errorf("RecognizedContainer(%q) = false, want true", f)
		}
	}
}

func TestRecognizedContainer_RejectsUnknownFormat(t *testing.T) {
	if RecognizedContainer("image2") {
		t.Error("RecognizedContainer(image2) = true, want false")
	}
}
