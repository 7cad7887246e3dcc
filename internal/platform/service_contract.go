// Package platform integrates the player with the host desktop: media keys
// and the system now-playing surface. On Linux this is MPRIS over D-Bus;
// elsewhere a no-op service keeps the wiring uniform.
package platform

import "finch/internal/broadcast"

// Service is registered with the broadcast synchronizer so the desktop
// surface tracks playback, and it feeds media-key presses back through the
// controller it was constructed with.
type Service interface {
	broadcast.Observer
	Start() error
	Stop() error
}
