package channel

import "testing"

func TestNewChannels(t *testing.T) {
	c := NewChannels(2, 3)
	if c.Feed == nil {
		t.Fatalf("expected non-nil feed channels")
	}
	if cap(c.Feed.Raw) != 2 || cap(c.Feed.Norm) != 3 {
		t.Fatalf("unexpected buffer sizes: raw=%d norm=%d", cap(c.Feed.Raw), cap(c.Feed.Norm))
	}
	c.Feed.Close()
}
