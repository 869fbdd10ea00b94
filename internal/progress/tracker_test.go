package progress

import (
	"testing"
	"time"
)

func TestBytesPerSecondZeroBeforeData(t *testing.T) {
	tr := New()
	if got := tr.BytesPerSecond(); got != 0 {
		t.Fatalf("expected 0 with no data, got %f", got)
	}
}

func TestRecordAccumulatesAndReset(t *testing.T) {
	tr := New()
	tr.Record(1024)
	time.Sleep(10 * time.Millisecond)
	tr.Record(1024)

	if got := tr.BytesPerSecond(); got <= 0 {
		t.Fatalf("expected positive throughput, got %f", got)
	}

	tr.Reset()
	if got := tr.BytesPerSecond(); got != 0 {
		t.Fatalf("expected 0 immediately after reset, got %f", got)
	}
}

func TestRecordIgnoresNonPositive(t *testing.T) {
	tr := New()
	tr.Record(0)
	tr.Record(-5)
	if got := tr.BytesPerSecond(); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
}
