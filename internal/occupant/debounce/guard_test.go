package debounce_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/debounce"
)

var t0 = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func TestGuard_SameCodeWithinWindowSuppressed(t *testing.T) {
	g := debounce.NewGuard(debounce.DefaultWindow)

	assert.True(t, g.ShouldProcess("QR-123", t0))
	assert.False(t, g.ShouldProcess("QR-123", t0.Add(1*time.Second)))
	assert.False(t, g.ShouldProcess("QR-123", t0.Add(4*time.Second)))
}

func TestGuard_SameCodeAfterWindowAccepted(t *testing.T) {
	g := debounce.NewGuard(debounce.DefaultWindow)

	assert.True(t, g.ShouldProcess("QR-123", t0))
	assert.True(t, g.ShouldProcess("QR-123", t0.Add(6*time.Second)))
}

func TestGuard_SuppressedReadsDoNotExtendWindow(t *testing.T) {
	g := debounce.NewGuard(debounce.DefaultWindow)

	// Camera keeps reading once per second; the window is anchored on the
	// first accepted read, so the 5th second lets a new attempt through.
	assert.True(t, g.ShouldProcess("QR-123", t0))
	for i := 1; i < 5; i++ {
		assert.False(t, g.ShouldProcess("QR-123", t0.Add(time.Duration(i)*time.Second)), "read %d", i)
	}
	assert.True(t, g.ShouldProcess("QR-123", t0.Add(5*time.Second)))
}

func TestGuard_DifferentCodeAccepted(t *testing.T) {
	g := debounce.NewGuard(debounce.DefaultWindow)

	assert.True(t, g.ShouldProcess("QR-123", t0))
	assert.True(t, g.ShouldProcess("QR-456", t0.Add(time.Second)))
	// The remembered code is now QR-456.
	assert.True(t, g.ShouldProcess("QR-123", t0.Add(2*time.Second)))
}

func TestGuard_GuardsAreIndependent(t *testing.T) {
	kioskA := debounce.NewGuard(debounce.DefaultWindow)
	kioskB := debounce.NewGuard(debounce.DefaultWindow)

	assert.True(t, kioskA.ShouldProcess("QR-123", t0))
	assert.True(t, kioskB.ShouldProcess("QR-123", t0.Add(time.Second)))
}

func TestGuard_DisabledAndEmptyCode(t *testing.T) {
	off := debounce.NewGuard(0)
	assert.True(t, off.ShouldProcess("QR-123", t0))
	assert.True(t, off.ShouldProcess("QR-123", t0))

	g := debounce.NewGuard(debounce.DefaultWindow)
	assert.True(t, g.ShouldProcess("", t0))
	assert.True(t, g.ShouldProcess("", t0))

	var nilGuard *debounce.Guard
	assert.True(t, nilGuard.ShouldProcess("QR-123", t0))
}

func TestGuard_Reset(t *testing.T) {
	g := debounce.NewGuard(debounce.DefaultWindow)

	assert.True(t, g.ShouldProcess("QR-123", t0))
	g.Reset()
	assert.True(t, g.ShouldProcess("QR-123", t0.Add(time.Second)))
}
