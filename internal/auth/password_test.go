package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestHasher(t *testing.T, workers int) *Hasher {
	t.Helper()
	h, err := NewHasher([]byte("pepper"), TestParams, workers)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := newTestHasher(t, 2)
	ctx := context.Background()

	for _, pw := range []string{"pw1", "correct horse battery staple", "пароль", " "} {
		encoded, err := h.Hash(ctx, pw)
		if err != nil {
			t.Fatalf("Hash(%q): %v", pw, err)
		}
		if !strings.HasPrefix(encoded, "$argon2id$v=19$m=64,t=1,p=1$") {
			t.Fatalf("unexpected encoding: %s", encoded)
		}
		ok, err := h.Verify(ctx, pw, encoded)
		if err != nil || !ok {
			t.Fatalf("Verify(%q) = %v, %v; want true, nil", pw, ok, err)
		}
	}
}

func TestVerifyMismatch(t *testing.T) {
	h := newTestHasher(t, 1)
	ctx := context.Background()

	encoded, err := h.Hash(ctx, "pw1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := h.Verify(ctx, "pw2", encoded)
	if err != nil {
		t.Fatalf("Verify returned error on mismatch: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch")
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := newTestHasher(t, 1)
	a, _ := h.Hash(context.Background(), "same")
	b, _ := h.Hash(context.Background(), "same")
	if a == b {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestVerifyRequiresSamePepper(t *testing.T) {
	h := newTestHasher(t, 1)
	other, err := NewHasher([]byte("other-pepper"), TestParams, 1)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	encoded, err := h.Hash(context.Background(), "pw1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := other.Verify(context.Background(), "pw1", encoded)
	if err != nil || ok {
		t.Fatalf("Verify with other pepper = %v, %v; want false, nil", ok, err)
	}
}

func TestVerifyUsesEmbeddedParams(t *testing.T) {
	strong, err := NewHasher([]byte("pepper"), Params{Memory: 128, Iterations: 2, Parallelism: 1, SaltLength: 8, KeyLength: 16}, 1)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	encoded, err := strong.Hash(context.Background(), "pw1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := newTestHasher(t, 1).Verify(context.Background(), "pw1", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, 1)
	valid, err := h.Hash(context.Background(), "pw1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	parts := strings.Split(valid, "$")

	cases := map[string]string{
		"empty":         "",
		"plaintext":     "pw1",
		"bcrypt":        "$2a$10$abcdefghijklmnopqrstuuJ4oQm7n3tqM9bWZ3o1Yxq5n0Xc6mX2",
		"argon2i":       strings.Replace(valid, "$argon2id$", "$argon2i$", 1),
		"bad version":   strings.Replace(valid, "$v=19$", "$v=16$", 1),
		"no version":    strings.Replace(valid, "$v=19$", "$19$", 1),
		"bad params":    strings.Join([]string{"", parts[1], parts[2], "m=64,t=1", parts[4], parts[5]}, "$"),
		"zero memory":   strings.Replace(valid, "m=64,", "m=0,", 1),
		"huge memory":   strings.Replace(valid, "m=64,", "m=99999999,", 1),
		"zero time":     strings.Replace(valid, "t=1,", "t=0,", 1),
		"bad salt":      strings.Join([]string{"", parts[1], parts[2], parts[3], "!!!", parts[5]}, "$"),
		"bad key":       strings.Join([]string{"", parts[1], parts[2], parts[3], parts[4], "%%%"}, "$"),
		"missing key":   strings.Join(parts[:5], "$"),
		"extra segment": valid + "$extra",
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			ok, err := h.Verify(context.Background(), "pw1", encoded)
			if !errors.Is(err, ErrCredential) {
				t.Fatalf("expected ErrCredential, got %v", err)
			}
			if ok {
				t.Fatal("malformed hash must not verify")
			}
		})
	}
}

func TestNewHasherRejectsBadConfig(t *testing.T) {
	if _, err := NewHasher(nil, TestParams, 1); err == nil {
		t.Fatal("expected error for empty pepper")
	}
	if _, err := NewHasher([]byte("p"), Params{}, 1); err == nil {
		t.Fatal("expected error for zero params")
	}
}

func TestHashPoolIsBounded(t *testing.T) {
	const workers = 2

	var inFlight, peak int32
	orig := deriveKey
	deriveKey = func(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		sleep(5)
		atomic.AddInt32(&inFlight, -1)
		return orig(password, salt, time, memory, threads, keyLen)
	}
	defer func() { deriveKey = orig }()

	h := newTestHasher(t, workers)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Hash(context.Background(), "pw"); err != nil {
				t.Errorf("Hash: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > workers {
		t.Fatalf("peak concurrent derivations = %d, want <= %d", got, workers)
	}
}

func TestHashWaitsForWorkerRespectingContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	orig := deriveKey
	deriveKey = func(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte {
		close(started)
		<-release
		return orig(password, salt, time, memory, threads, keyLen)
	}
	defer func() { deriveKey = orig }()

	h := newTestHasher(t, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.Hash(context.Background(), "first")
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Hash(ctx, "second"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while pool is busy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Hash: %v", err)
	}
}

func TestHashObserver(t *testing.T) {
	var calls int32
	h, err := NewHasher([]byte("pepper"), TestParams, 1, WithHashObserver(func(time.Duration) {
		atomic.AddInt32(&calls, 1)
	}))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	encoded, _ := h.Hash(context.Background(), "pw")
	_, _ = h.Verify(context.Background(), "pw", encoded)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("observer calls = %d, want 2", got)
	}
}

func sleep(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) }
