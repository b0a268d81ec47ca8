package simhal

import (
	"testing"
	"time"
)

func TestFlashReadWriteErase(t *testing.T) {
	f := NewFlash(1024, 256)
	for _, b := range f.Bytes() {
		if b != 0xFF {
			t.Fatalf("flash not erased to 0xFF initially")
		}
	}

	if err := f.Write(10, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := make([]byte, 5)
	if err := f.Read(10, 5, out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("Read = %q, want hello", out)
	}

	if err := f.Erase(0, 256); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := f.Read(10, 5, out); err != nil {
		t.Fatalf("Read after erase: %v", err)
	}
	for _, b := range out {
		if b != 0xFF {
			t.Fatalf("bytes not erased: %v", out)
		}
	}
}

func TestFlashRejectsOutOfRangeAccess(t *testing.T) {
	f := NewFlash(16, 16)
	if err := f.Write(10, []byte("too long for remaining space")); err == nil {
		t.Fatalf("Write past end should error")
	}
	if err := f.Read(0, 100, make([]byte, 100)); err == nil {
		t.Fatalf("Read past end should error")
	}
	if err := f.Erase(0, 100); err == nil {
		t.Fatalf("Erase past end should error")
	}
}

func TestTransportInjectAndRxByte(t *testing.T) {
	tr := NewTransport()
	if _, ok := tr.RxByte(); ok {
		t.Fatalf("RxByte on empty transport should report false")
	}

	tr.Inject([]byte{1, 2, 3})
	for _, want := range []byte{1, 2, 3} {
		b, ok := tr.RxByte()
		if !ok || b != want {
			t.Fatalf("RxByte = %d, %v, want %d, true", b, ok, want)
		}
	}
	if _, ok := tr.RxByte(); ok {
		t.Fatalf("RxByte after drain should report false")
	}
}

func TestTransportTxAccumulatesSent(t *testing.T) {
	tr := NewTransport()
	if err := tr.Tx([]byte("ab")); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if err := tr.Tx([]byte("cd")); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if string(tr.Sent()) != "abcd" {
		t.Fatalf("Sent = %q, want abcd", tr.Sent())
	}
	taken := tr.TakeSent()
	if string(taken) != "abcd" {
		t.Fatalf("TakeSent = %q, want abcd", taken)
	}
	if len(tr.Sent()) != 0 {
		t.Fatalf("Sent after TakeSent should be empty, got %q", tr.Sent())
	}
}

func TestClockAdvanceAndMillis(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(base)
	if !c.Now().Equal(base) {
		t.Fatalf("Now = %v, want %v", c.Now(), base)
	}
	m0 := c.Millis()
	c.Advance(250 * time.Millisecond)
	if !c.Now().Equal(base.Add(250 * time.Millisecond)) {
		t.Fatalf("Now after Advance = %v", c.Now())
	}
	if got := c.Millis() - m0; got != 250 {
		t.Fatalf("Millis advanced by %d, want 250", got)
	}
}

func TestWatchdogCountsKicks(t *testing.T) {
	w := &Watchdog{}
	w.Kick()
	w.Kick()
	if w.Kicks != 2 {
		t.Fatalf("Kicks = %d, want 2", w.Kicks)
	}
}

func TestJumperRecordsEntryAddr(t *testing.T) {
	j := &Jumper{}
	j.JumpToApp(0xDEADBEEF)
	if !j.Jumped || j.EntryAddr != 0xDEADBEEF {
		t.Fatalf("jumper = %+v", j)
	}
}

func TestFixedKeyReturnsConfiguredKeyOrError(t *testing.T) {
	var key [64]byte
	key[0] = 0x42
	k := FixedKey{Key: key}
	got, err := k.PublicKey()
	if err != nil || got != key {
		t.Fatalf("PublicKey() = %v, %v, want %v, nil", got, err, key)
	}

	kerr := FixedKey{Err: errFlashRange}
	if _, err := kerr.PublicKey(); err == nil {
		t.Fatalf("PublicKey() should surface configured error")
	}
}
