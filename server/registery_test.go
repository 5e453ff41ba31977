package server

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestConnRegistry_StoreGetDelete(t *testing.T) {
	r := NewConnRegistry()
	c := NewMockConn("c1")

	r.Store(c)
	got, ok := r.Get("c1")
	if !ok || got != c {
		t.Fatal("Expected stored connection to be returned")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 connection, got %d", r.Len())
	}

	r.Delete("c1")
	if _, ok := r.Get("c1"); ok {
		t.Error("Expected connection to be deleted")
	}
	// Deleting twice is a no-op.
	r.Delete("c1")
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestConnRegistry_ListOrderedByConnectTime(t *testing.T) {
	r := NewConnRegistry()
	base := time.Now()
	for i, id := range []string{"c3", "c1", "c2"} {
		c := NewMockConn(id)
		c.meta.ConnectedAt = base.Add(time.Duration(3-i) * time.Second)
		r.Store(c)
	}

	list := r.List()
	want := []string{"c2", "c1", "c3"}
	for i, c := range list {
		if c.Meta().Id != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, c.Meta().Id)
		}
	}
}

func TestConnRegistry_Concurrent(t *testing.T) {
	r := NewConnRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Store(NewMockConn(id))
			r.List()
			r.Delete(id)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}
