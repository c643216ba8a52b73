package asynqadp

import (
	"testing"
	"time"
)

func TestExponentialBackoff_DoublesAndCaps(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 60 * time.Second},
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := exponentialBackoff(tt.attempt, nil, nil); got != tt.want {
			t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
