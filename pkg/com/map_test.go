package com

import (
	"sync"
	"sync/atomic"
	"testing"
)

type testClient struct {
	id Uid
	c  int32
}

func (t *testClient) change(n int) { atomic.AddInt32(&t.c, int32(n)) }

func TestPointerValue(t *testing.T) {
	m := NewMap[Uid, *testClient]()
	c := testClient{id: NewUid()}
	m.Put(c.id, &c)
	fc, _ := m.FindBy(func(v *testClient) bool { return v.id == c.id })
	c.change(100)
	fc2, _ := m.Find(c.id)

	if !(c.c == fc.c && c.c == fc2.c) {
		t.Errorf("not expected change, o: %v != %v != %v", c.c, fc.c, fc2.c)
	}
}

func TestNotFound(t *testing.T) {
	m := NewMap[string, int]()
	if _, err := m.Find("nope"); err != ErrNotFound {
		t.Errorf("expected %v, got %v", ErrNotFound, err)
	}
	if m.Has("nope") {
		t.Errorf("empty map should not have keys")
	}
}

func TestConcurrentPutRemove(t *testing.T) {
	m := NewMap[int, int]()
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			m.Put(i, i)
			if i%2 == 0 {
				m.RemoveByKey(i)
			}
		}(i)
	}
	wg.Wait()
	if m.Len() != n/2 {
		t.Errorf("expected %v elements, got %v", n/2, m.Len())
	}
	if len(m.Values()) != n/2 {
		t.Errorf("snapshot size mismatch")
	}
}
