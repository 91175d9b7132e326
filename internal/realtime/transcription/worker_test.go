package transcription

import (
	"testing"
	"time"
)

func TestShouldEmitPartial_TooFewSamplesWithheld(t *testing.T) {
	got := shouldEmitPartial(minPartialSamples-1, 0, minPartialSamples, time.Time{}, time.Now(), 500*time.Millisecond)
	if got {
		t.Fatal("expected no partial below minPartialSamples")
	}
}

func TestShouldEmitPartial_FirstPartialFiresAsSoonAsThresholdCrossed(t *testing.T) {
	got := shouldEmitPartial(minPartialSamples, 0, minPartialSamples, time.Time{}, time.Now(), 500*time.Millisecond)
	if !got {
		t.Fatal("expected a partial the first time minPartialSamples is reached")
	}
}

func TestShouldEmitPartial_SameBufferLengthWithheld(t *testing.T) {
	now := time.Now()
	got := shouldEmitPartial(minPartialSamples*2, minPartialSamples*2, minPartialSamples, now.Add(-time.Second), now, 500*time.Millisecond)
	if got {
		t.Fatal("expected no partial when buffer hasn't grown since the last one")
	}
}

func TestShouldEmitPartial_IntervalNotYetElapsedWithheld(t *testing.T) {
	now := time.Now()
	lastPartialAt := now.Add(-100 * time.Millisecond)
	got := shouldEmitPartial(minPartialSamples*2, minPartialSamples, minPartialSamples, lastPartialAt, now, 500*time.Millisecond)
	if got {
		t.Fatal("expected no partial before partialInterval has elapsed")
	}
}

func TestShouldEmitPartial_IntervalElapsedFires(t *testing.T) {
	now := time.Now()
	lastPartialAt := now.Add(-600 * time.Millisecond)
	got := shouldEmitPartial(minPartialSamples*2, minPartialSamples, minPartialSamples, lastPartialAt, now, 500*time.Millisecond)
	if !got {
		t.Fatal("expected a partial once partialInterval has elapsed and the buffer grew")
	}
}
