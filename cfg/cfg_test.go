package cfg

import "testing"

func TestLoadTimeoutsDefaults(t *testing.T) {
	to := LoadTimeouts()
	if to.JumpToApp != DefaultJumpToAppTimeout {
		t.Fatalf("JumpToApp = %v, want %v", to.JumpToApp, DefaultJumpToAppTimeout)
	}
	if to.InterByte != DefaultInterByteTimeout {
		t.Fatalf("InterByte = %v, want %v", to.InterByte, DefaultInterByteTimeout)
	}
}

func TestLoadPolicyDefaults(t *testing.T) {
	p := LoadPolicy()
	if p.RequireSignature != DefaultRequireSignature {
		t.Fatalf("RequireSignature = %v, want %v", p.RequireSignature, DefaultRequireSignature)
	}
	if !p.EnforceDowngrade {
		t.Fatalf("EnforceDowngrade = false, want true (default)")
	}
}

func TestLoadLimitsDefaults(t *testing.T) {
	l := LoadLimits()
	if l.MaxImageSize != DefaultMaxImageSize {
		t.Fatalf("MaxImageSize = %d, want %d", l.MaxImageSize, DefaultMaxImageSize)
	}
	if l.BootCounterLimit != DefaultBootCounterLimit {
		t.Fatalf("BootCounterLimit = %d, want %d", l.BootCounterLimit, DefaultBootCounterLimit)
	}
	if l.MaxPayload != DefaultMaxPayload {
		t.Fatalf("MaxPayload = %d, want %d", l.MaxPayload, DefaultMaxPayload)
	}
	if l.HWVersion != DefaultHWVersion {
		t.Fatalf("HWVersion = %#x, want %#x", l.HWVersion, DefaultHWVersion)
	}
}

func TestDurationOverrideParsesValidString(t *testing.T) {
	if got := durationOverride("1500ms", DefaultFlashIdleTimeout); got.Milliseconds() != 1500 {
		t.Fatalf("durationOverride(\"1500ms\") = %v, want 1500ms", got)
	}
}

func TestDurationOverrideFallsBackOnGarbage(t *testing.T) {
	if got := durationOverride("not-a-duration", DefaultFlashIdleTimeout); got != DefaultFlashIdleTimeout {
		t.Fatalf("durationOverride(garbage) = %v, want default %v", got, DefaultFlashIdleTimeout)
	}
}

func TestBoolOverrideParsesValidString(t *testing.T) {
	if got := boolOverride("true", false); !got {
		t.Fatalf("boolOverride(\"true\", false) = false, want true")
	}
	if got := boolOverride("0", true); got {
		t.Fatalf("boolOverride(\"0\", true) = true, want false")
	}
}
