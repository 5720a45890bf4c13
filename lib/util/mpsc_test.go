package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

type record struct {
	producer int
	seq      int
}

// TestPushAndReceive tests basic push and receive
func TestPushAndReceive(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %d", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
	}

	if q.Pushed() != 10 {
		t.Errorf("Expected 10 pushed values, got %d", q.Pushed())
	}
}

// TestPerProducerOrder verifies that concurrent producers keep their own order
func TestPerProducerOrder(t *testing.T) {
	q := NewMPSC[record]()
	defer q.Close()

	const producers = 8
	const perProducer = 2000

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !q.Push(record{producer: p, seq: i}) {
					t.Errorf("Producer %d failed to push %d", p, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for i := 0; i < producers*perProducer; i++ {
		select {
		case r := <-q.Recv():
			if r.seq != last[r.producer]+1 {
				t.Fatalf("Producer %d: expected seq %d, got %d", r.producer, last[r.producer]+1, r.seq)
			}
			last[r.producer] = r.seq
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout after %d items", i)
		}
	}
	wg.Wait()
}

// TestCloseDrains verifies that values pushed before Close are still delivered
func TestCloseDrains(t *testing.T) {
	q := NewMPSC[string]()

	for _, s := range []string{"a", "b", "c"} {
		q.Push(s)
	}
	q.Close()

	if q.Push("d") {
		t.Error("Push after Close must fail")
	}

	var got []string
	for s := range q.Recv() {
		got = append(got, s)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("Unexpected values after close: %v", got)
	}

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("Forwarding goroutine did not exit")
	}
}

// BenchmarkMultiProducer benchmarks the queue with multiple producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
}
