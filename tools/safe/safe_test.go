package safe

import (
	"testing"
	"time"
)

func TestSafeGoRecovers(t *testing.T) {
	done := make(chan struct{})
	SafeGo("panicker", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
