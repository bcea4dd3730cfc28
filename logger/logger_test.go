package logger

import (
	"sync/atomic"
	"testing"
)

func TestConfigureAcceptsKnownSettings(t *testing.T) {
	log := GetLogger()
	if err := log.Configure("debug", "json", "stdout", 1); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := log.Configure("info", "text", "stdout", 1); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
}

func TestWithComponentCarriesField(t *testing.T) {
	entry := GetLogger().WithComponent("session").WithFields(Fields{"stream": "test"})
	if entry == nil {
		t.Fatal("nil entry")
	}
	// Chaining must not panic and must keep returning usable entries.
	entry.WithError(nil).WithFields(Fields{"extra": 1}).Debug("noop")
}

func TestWarnErrorClassification(t *testing.T) {
	streamBefore := atomic.LoadInt64(&warnsStream)
	restBefore := atomic.LoadInt64(&warnsRest)

	recordWarn("session")
	recordWarn("poll")
	recordWarn("unrelated")

	if got := atomic.LoadInt64(&warnsStream) - streamBefore; got != 1 {
		t.Errorf("stream warns delta = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&warnsRest) - restBefore; got != 1 {
		t.Errorf("rest warns delta = %d, want 1", got)
	}
}

func TestCountersAccumulate(t *testing.T) {
	before := atomic.LoadInt64(&reconnects)
	IncrementReconnect()
	IncrementReconnect()
	if got := atomic.LoadInt64(&reconnects) - before; got != 2 {
		t.Errorf("reconnects delta = %d, want 2", got)
	}

	RecordTopicMessage("test_topic", 10)
	RecordTopicMessage("test_topic", 5)
	v, ok := topics.Load("test_topic")
	if !ok {
		t.Fatal("topic not recorded")
	}
	ts := v.(*topicStat)
	if atomic.LoadInt64(&ts.messages) != 2 || atomic.LoadInt64(&ts.bytes) != 15 {
		t.Errorf("topic stats = %d msgs / %d bytes, want 2/15", ts.messages, ts.bytes)
	}
}
