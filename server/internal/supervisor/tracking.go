package supervisor

import (
	"alvr/server/internal/sessionconfig"
	"alvr/server/internal/wire"
)

// TrackingManager decides, per connection, which tracked devices reach the
// driver: the head motion always passes through, controller motions are
// dropped when the session disables controllers or runs reference-only
// tracking. Grounded on original_source's TrackingManager
// (map_head/map_controller); reduced to an identity mapping here since this
// core has no coordinate-space remap of its own to perform, only the
// driver does.
type TrackingManager struct {
	dropControllers bool
}

// NewTrackingManager builds a TrackingManager from the negotiated session
// for one connection attempt.
func NewTrackingManager(session sessionconfig.Session) *TrackingManager {
	return &TrackingManager{
		dropControllers: !session.Headset.Controllers.Enabled || session.Headset.TrackingMode == sessionconfig.TrackingReferenceOnly,
	}
}

// Apply splits frame into the head motion (nil if the frame carried none)
// and the surviving controller motions, per spec.md §4.4's tracking
// receive transforms.
func (m *TrackingManager) Apply(frame wire.TrackingFrame) (head *wire.MotionData, controllers []wire.MotionData) {
	for i := range frame.Motions {
		mo := frame.Motions[i]
		if mo.DeviceID == wire.HeadDeviceID {
			h := mo
			head = &h
			continue
		}
		if m.dropControllers {
			continue
		}
		controllers = append(controllers, mo)
	}
	return head, controllers
}
