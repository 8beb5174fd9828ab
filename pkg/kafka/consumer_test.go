package kafka

import (
	"testing"
	"time"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	for attempt := 1; attempt <= 8; attempt++ {
		exp := min << uint(attempt-1)
		if exp > max {
			exp = max
		}
		for i := 0; i < 50; i++ {
			got := backoffWithJitter(min, max, attempt)
			if got > exp || got < exp/2 {
				t.Fatalf("attempt %d: %v outside [%v, %v]", attempt, got, exp/2, exp)
			}
		}
	}
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]int{"a": 1})
	if err != nil || string(b) != `{"a":1}` {
		t.Fatalf("json: %s %v", b, err)
	}
	b, _ = encodeValue("raw")
	if string(b) != "raw" {
		t.Fatalf("string: %s", b)
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewConsumer(); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
