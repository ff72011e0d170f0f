package dedup

import (
	"sync"
	"testing"
)

func TestKeyLock(t *testing.T) {
	t.Run("SerializesSameKey", func(t *testing.T) {
		locks := NewKeyLock()

		var mu sync.Mutex
		counter := 0
		var wg sync.WaitGroup

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release := locks.Lock("cell:36:-121")
				defer release()
				mu.Lock()
				counter++
				mu.Unlock()
			}()
		}
		wg.Wait()

		if counter != 50 {
			t.Errorf("expected 50 increments, got %d", counter)
		}
	})

	t.Run("IndependentKeys", func(t *testing.T) {
		locks := NewKeyLock()

		releaseA := locks.Lock("a")
		// Must not block on a different key while "a" is held.
		releaseB := locks.Lock("b")
		releaseB()
		releaseA()
	})

	t.Run("ReusableAfterRelease", func(t *testing.T) {
		locks := NewKeyLock()

		release := locks.Lock("k")
		release()
		release = locks.Lock("k")
		release()
	})
}
