package linkcache

import (
	"path/filepath"
	"testing"
)

func TestAddAndContains(t *testing.T) {
	c := New(10)

	if c.Contains("net1|#chan", "http://x/1") {
		t.Error("empty cache reported a link")
	}

	c.Add("net1|#chan", "http://x/1")
	if !c.Contains("net1|#chan", "http://x/1") {
		t.Error("added link not found")
	}
	if c.Contains("net2|#chan", "http://x/1") {
		t.Error("link leaked across destinations")
	}

	// Duplicate adds do not grow the cache.
	c.Add("net1|#chan", "http://x/1")
	if got := c.Len("net1|#chan"); got != 1 {
		t.Errorf("Len = %d after duplicate add, want 1", got)
	}
}

func TestCapEviction(t *testing.T) {
	c := New(3)
	links := []string{"http://x/1", "http://x/2", "http://x/3", "http://x/4"}
	for _, l := range links {
		c.Add("dest", l)
	}

	if got := c.Len("dest"); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	if c.Contains("dest", "http://x/1") {
		t.Error("oldest link survived eviction")
	}
	for _, l := range links[1:] {
		if !c.Contains("dest", l) {
			t.Errorf("recent link %s evicted", l)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted_links.json")

	c := New(10)
	c.Add("net1|#chan", "http://x/1")
	c.Add("net1|#chan", "http://x/2")
	c.Add("!room:matrix.org", "http://x/3")

	if err := c.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New(10)
	if err := restored.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	for dest, link := range map[string]string{
		"net1|#chan":       "http://x/2",
		"!room:matrix.org": "http://x/3",
	} {
		if !restored.Contains(dest, link) {
			t.Errorf("restored cache missing %s for %s", link, dest)
		}
	}
	if got := restored.Len("net1|#chan"); got != 2 {
		t.Errorf("restored Len = %d, want 2", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	c := New(10)
	if err := c.Load(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("load of missing file: %v", err)
	}
	if got := c.Len("any"); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
}

func TestLoadTruncatesToCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted_links.json")

	big := New(10)
	for _, l := range []string{"http://x/1", "http://x/2", "http://x/3", "http://x/4"} {
		big.Add("dest", l)
	}
	if err := big.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	small := New(2)
	if err := small.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := small.Len("dest"); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	// The most recent links win.
	if !small.Contains("dest", "http://x/4") || !small.Contains("dest", "http://x/3") {
		t.Error("expected the newest links to survive truncation")
	}
	if small.Contains("dest", "http://x/1") {
		t.Error("oldest link survived truncation")
	}
}
