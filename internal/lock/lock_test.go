package lock

import "testing"

func TestFileLock(t *testing.T) {
	l1 := New("mongodb://localhost:27117/lock_test")
	ok, err := l1.TryLock()
	if err != nil || !ok {
		t.Fatalf("first lock failed")
	}
	defer func() { _ = l1.Unlock() }()

	l2 := New("mongodb://localhost:27117/lock_test")
	ok, err = l2.TryLock()
	if err != nil {
		t.Fatalf("second lock error: %v", err)
	}
	if ok {
		t.Fatalf("lock should be held by first process")
	}
}

func TestFileLockDistinctDestinations(t *testing.T) {
	l1 := New("mongodb://localhost:27117/lock_test_a")
	ok, err := l1.TryLock()
	if err != nil || !ok {
		t.Fatalf("first lock failed")
	}
	defer func() { _ = l1.Unlock() }()

	l2 := New("mongodb://localhost:27118/lock_test_b")
	ok, err = l2.TryLock()
	if err != nil || !ok {
		t.Fatalf("distinct destination must not share a lock")
	}
	_ = l2.Unlock()
}
