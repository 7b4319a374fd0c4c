package ratelimit

import (
	"testing"
	"time"
)

func TestBucketAllow(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 10, BurstSize: 5, Enabled: true})

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if bucket.Allow() {
		t.Error("request after burst should be denied")
	}
}

func TestBucketRefill(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 100, BurstSize: 2, Enabled: true})

	bucket.Allow()
	bucket.Allow()
	if bucket.Allow() {
		t.Error("should be denied after exhausting tokens")
	}

	time.Sleep(50 * time.Millisecond)
	if !bucket.Allow() {
		t.Error("should be allowed after refill")
	}
}

func TestBucketWaitTime(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 10, BurstSize: 1, Enabled: true})

	if bucket.WaitTime() != 0 {
		t.Error("should not wait when tokens available")
	}
	bucket.Allow()
	if bucket.WaitTime() <= 0 {
		t.Error("should need to wait when no tokens")
	}
}

func TestLimiterKeysIndependent(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 3, Enabled: true})

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1:abc") {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if limiter.Allow("10.0.0.1:abc") {
		t.Error("key should be rate limited")
	}
	if !limiter.Allow("10.0.0.2:abc") {
		t.Error("other key should be unaffected")
	}
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: false})

	for i := 0; i < 100; i++ {
		if !limiter.Allow("k") {
			t.Error("disabled limiter should always allow")
		}
	}
}

func TestLimiterReset(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 2, Enabled: true})

	limiter.Allow("k")
	limiter.Allow("k")
	if limiter.Allow("k") {
		t.Error("should be rate limited")
	}

	limiter.Reset("k")
	if !limiter.Allow("k") {
		t.Error("should be allowed after reset")
	}
}

func TestCompositeKey(t *testing.T) {
	key := CompositeKey("10.0.0.1", "4c0e1f2a")
	if key != "10.0.0.1:4c0e1f2a" {
		t.Errorf("CompositeKey() = %q", key)
	}
}

func TestBucketZeroConfigUsesDefaults(t *testing.T) {
	bucket := NewBucket(Config{Enabled: true})

	if !bucket.Allow() {
		t.Error("zero-config bucket should allow with defaults applied")
	}
	if bucket.Tokens() <= 0 {
		t.Error("expected positive default tokens")
	}
}
