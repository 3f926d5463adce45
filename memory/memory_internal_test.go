package memory

import "testing"

// Unbalanced removal is reported, not clamped.
func TestUnbalancedRemoval(t *testing.T) {
	if debugging {
		t.Skip("unbalanced removal panics in debug builds")
	}
	tracker, err := New("test", 1, Kilobytes)
	if err != nil {
		t.Fatal(err)
	}
	tracker.RemoveBytes(10)
	if tracker.Bytes() != -10 || tracker.Count() != -1 {
		t.Fatalf("usage was clamped: bytes %d count %d",
			tracker.Bytes(), tracker.Count())
	}
}
