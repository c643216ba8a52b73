package asynqadp

import "testing"

func TestNew_ParsesRedisURI(t *testing.T) {
	q, err := New("redis://localhost:6379/0", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if q.queue != QueueName {
		t.Errorf("queue = %q, want default %q", q.queue, QueueName)
	}
}

func TestNew_InvalidURI(t *testing.T) {
	if _, err := New("not-a-redis-uri", ""); err == nil {
		t.Fatal("expected error for invalid redis URI")
	}
}
