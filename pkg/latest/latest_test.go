package latest

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestValue_InitialPlaceholder(t *testing.T) {
	placeholder := "empty"
	v := New(&placeholder)

	got, ver := v.Load()
	if ver != 0 {
		t.Errorf("initial version: got %d, want 0", ver)
	}
	if got == nil || *got != "empty" {
		t.Errorf("initial value: got %v, want placeholder", got)
	}
}

func TestValue_StoreOverwrites(t *testing.T) {
	v := New[int](nil)

	for i := 1; i <= 3; i++ {
		n := i * 10
		if ver := v.Store(&n); ver != uint64(i) {
			t.Errorf("Store #%d: version got %d", i, ver)
		}
	}

	got, ver := v.Load()
	if *got != 30 || ver != 3 {
		t.Errorf("Load: got (%d, %d), want (30, 3)", *got, ver)
	}
}

func TestValue_SubscribeAndUnsubscribe(t *testing.T) {
	v := New[int](nil)

	var seen []int
	unsubscribe := v.Subscribe(func(n *int, _ uint64) {
		seen = append(seen, *n)
	})

	a, b := 1, 2
	v.Store(&a)
	unsubscribe()
	unsubscribe() // second call is a no-op
	v.Store(&b)

	if len(seen) != 1 || seen[0] != 1 {
		t.Errorf("observer calls: got %v, want [1]", seen)
	}
}

func TestValue_WaitReturnsNewerVersion(t *testing.T) {
	v := New[int](nil)

	done := make(chan int, 1)
	go func() {
		got, _, err := v.Wait(context.Background(), 0)
		if err != nil {
			t.Errorf("Wait: %v", err)
			return
		}
		done <- *got
	}()

	time.Sleep(10 * time.Millisecond)
	n := 7
	v.Store(&n)

	select {
	case got := <-done:
		if got != 7 {
			t.Errorf("Wait value: got %d, want 7", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Store")
	}
}

func TestValue_WaitHonorsContext(t *testing.T) {
	v := New[int](nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, _, err := v.Wait(ctx, 0); err == nil {
		t.Error("expected context error")
	}
}

func TestValue_ConcurrentReadersNeverSeeTornValues(t *testing.T) {
	type pair struct{ a, b int }
	v := New(&pair{})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p, _ := v.Load()
				if p.a != p.b {
					t.Errorf("torn read: %+v", *p)
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		v.Store(&pair{a: i, b: i})
	}
	close(stop)
	wg.Wait()
}

func TestValue_ConcurrentStores(t *testing.T) {
	const (
		writers = 16
		stores  = 2000
	)
	v := New[int](nil)

	var (
		mu   sync.Mutex
		last uint64
		seen int
	)
	v.Subscribe(func(_ *int, ver uint64) {
		mu.Lock()
		defer mu.Unlock()
		if ver != last+1 {
			t.Errorf("observer saw version %d after %d", ver, last)
		}
		last = ver
		seen++
	})

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < stores; i++ {
				n := i
				v.Store(&n)
			}
		}()
	}
	wg.Wait()

	if got := v.Version(); got != writers*stores {
		t.Errorf("version after %d stores: got %d", writers*stores, got)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen != writers*stores {
		t.Errorf("observer calls: got %d, want %d", seen, writers*stores)
	}
}
