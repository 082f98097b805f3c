package oauth

import (
	"fmt"
	"testing"
)

func TestIPRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := newIPRateLimiter(3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("203.0.113.1") {
			t.Fatalf("request %d within burst was blocked", i+1)
		}
	}
	if rl.Allow("203.0.113.1") {
		t.Fatal("request beyond burst was allowed")
	}
	// Other addresses are unaffected.
	if !rl.Allow("203.0.113.2") {
		t.Fatal("independent address was blocked")
	}
}

func TestIPRateLimiterCapHoldsUnderChurn(t *testing.T) {
	rl := newIPRateLimiter(10)

	// Fill to the cap with entries too fresh for the idle prune.
	for i := 0; i < rateLimiterMaxEntries; i++ {
		rl.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	if got := len(rl.entries); got != rateLimiterMaxEntries {
		t.Fatalf("unexpected tracked entries: want %d got %d", rateLimiterMaxEntries, got)
	}

	if !rl.Allow("203.0.113.9") {
		t.Fatal("fresh address blocked on its first request")
	}
	if got := len(rl.entries); got > rateLimiterMaxEntries {
		t.Fatalf("entry cap exceeded: %d", got)
	}
	if _, ok := rl.entries["203.0.113.9"]; !ok {
		t.Fatal("fresh address not tracked after eviction")
	}
}
