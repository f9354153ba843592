package main

import (
	"testing"
	"time"

	"github.com/ryandielhenn/zephyrquorum/pkg/probe"
)

func TestSplitPeers(t *testing.T) {
	got := splitPeers(" a:1, b:2,,c:3 ")
	want := []string{"a:1", "b:2", "c:3"}
	if len(got) != len(want) {
		t.Fatalf("splitPeers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitPeers[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if out := splitPeers(""); len(out) != 0 {
		t.Fatalf("splitPeers(\"\") = %v, want empty", out)
	}
}

func TestCheckInvalidAddress(t *testing.T) {
	got := check(probe.NewGRPCProber(time.Second), "a:b:c", time.Second)
	if len(got) < 7 || got[:7] != "INVALID" {
		t.Fatalf("check(a:b:c) = %q, want INVALID...", got)
	}
}
