package duel

import (
	"testing"
	"time"
)

func TestFramesArmFireRearm(t *testing.T) {
	f := NewFrames(time.Millisecond)
	if f.C() != nil {
		t.Fatalf("unarmed frames should expose a nil channel")
	}
	f.Arm()
	f.Arm() // no double scheduling
	select {
	case <-f.C():
		f.Fired()
	case <-time.After(time.Second):
		t.Fatalf("frame never fired")
	}
	if f.Armed() {
		t.Fatalf("still armed after Fired")
	}
	f.Arm()
	select {
	case <-f.C():
		f.Fired()
	case <-time.After(time.Second):
		t.Fatalf("re-armed frame never fired")
	}
}

func TestFramesCancelDropsPendingFrame(t *testing.T) {
	f := NewFrames(5 * time.Millisecond)
	f.Arm()
	time.Sleep(20 * time.Millisecond) // timer has fired into its channel
	f.Cancel()
	if f.C() != nil {
		t.Fatalf("cancelled frames should expose a nil channel")
	}
	f.SetInterval(time.Hour)
	f.Arm()
	select {
	case <-f.C():
		t.Fatalf("stale frame delivered after Cancel")
	case <-time.After(30 * time.Millisecond):
	}
	f.Cancel()
}
