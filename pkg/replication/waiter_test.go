package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitersNotifyUpToClosesLowerAndEqualIndices(t *testing.T) {
	w := NewWaiters()
	ch3 := w.Wait(3)
	ch5 := w.Wait(5)
	ch7 := w.Wait(7)

	w.NotifyUpTo(5)

	select {
	case <-ch3:
	case <-time.After(time.Second):
		t.Fatal("ch3 should have closed")
	}
	select {
	case <-ch5:
	case <-time.After(time.Second):
		t.Fatal("ch5 should have closed")
	}
	select {
	case <-ch7:
		t.Fatal("ch7 should not have closed yet")
	default:
	}
}

func TestWaitersCancelClosesEverything(t *testing.T) {
	w := NewWaiters()
	ch := w.Wait(100)
	w.Cancel()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("ch should have closed on cancel")
	}
}
