// Package debounce filters repeated reads of the same code by one scanner.
//
// A camera pointed at a QR code keeps decoding it roughly once per second.
// A Guard remembers the last code it let through and drops identical reads
// inside the window.  Each physical station owns its own Guard; sharing one
// between stations would let a scan at kiosk A mask the same member at kiosk B.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the suppression window used for camera scans.
const DefaultWindow = 5 * time.Second

// Guard is safe for concurrent use by the requests of a single station.
type Guard struct {
	window time.Duration

	mu       sync.Mutex
	lastCode string
	lastAt   time.Time
	seen     bool
}

// NewGuard returns a guard with the given window.  A window <= 0 disables
// suppression.
func NewGuard(window time.Duration) *Guard {
	return &Guard{window: window}
}

// Window reports the configured suppression window.
func (g *Guard) Window() time.Duration { return g.window }

// ShouldProcess reports whether rawCode read at now is a new scan.  Accepted
// scans replace the remembered code and timestamp; suppressed ones do not.
func (g *Guard) ShouldProcess(rawCode string, now time.Time) bool {
	if g == nil || g.window <= 0 || rawCode == "" {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seen && g.lastCode == rawCode && now.Sub(g.lastAt) < g.window {
		return false
	}
	g.lastCode = rawCode
	g.lastAt = now
	g.seen = true
	return true
}

// Reset forgets the remembered scan.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastCode = ""
	g.lastAt = time.Time{}
	g.seen = false
}
