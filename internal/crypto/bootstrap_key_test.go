package crypto

import "testing"

func TestBootstrapKeyRing_CurrentIsStableBetweenCalls(t *testing.T) {
	ring, err := NewBootstrapKeyRing()
	if err != nil {
		t.Fatalf("NewBootstrapKeyRing() error = %v", err)
	}
	defer ring.Close()

	first := ring.Current()
	second := ring.Current()
	if first != second {
		t.Errorf("Current() changed between calls without rotation: %q != %q", first, second)
	}
}

func TestBootstrapKeyRing_RawMatchesCurrent(t *testing.T) {
	ring, err := NewBootstrapKeyRing()
	if err != nil {
		t.Fatalf("NewBootstrapKeyRing() error = %v", err)
	}
	defer ring.Close()

	if ring.Raw() != ring.Current() {
		t.Errorf("Raw() = %q, want it to match Current()", ring.Raw())
	}
}

func TestBootstrapKeyRing_CloseStopsRotationGoroutine(t *testing.T) {
	ring, err := NewBootstrapKeyRing()
	if err != nil {
		t.Fatalf("NewBootstrapKeyRing() error = %v", err)
	}
	ring.Close()

	select {
	case <-ring.done:
	default:
		t.Errorf("Close() returned before the rotation goroutine exited")
	}
}
