package clock

import (
	"testing"
	"time"
)

func TestSyncAdjustsNow(t *testing.T) {
	c := New()

	c.Sync(time.Now().Add(2 * time.Second))

	diff := time.Until(c.Now())
	if diff < 1500*time.Millisecond || diff > 2500*time.Millisecond {
		t.Errorf("adjusted now is off by %s, want ~2s ahead", diff)
	}
}

func TestSyncMillis(t *testing.T) {
	c := New()

	c.SyncMillis(time.Now().Add(-time.Second).UnixMilli())

	if off := c.Offset(); off > -500*time.Millisecond || off < -1500*time.Millisecond {
		t.Errorf("offset = %s, want ~-1s", off)
	}
}

func TestZeroOffsetByDefault(t *testing.T) {
	c := New()
	if off := c.Offset(); off != 0 {
		t.Errorf("fresh clock offset = %s, want 0", off)
	}
}
