package capture

import (
	"github.com/sirupsen/logrus"

	"github.com/stillcap/stillcap/v4l2"
)

// FocusPolicy describes who owns focus for the coming cycle. It is computed
// once per cycle from the pending control batch; the auto-focus control must
// be switched off before any manual-focus value lands, or the driver ignores
// the write.
type FocusPolicy uint8

const (
	// FocusUnknown means neither focus control is configured; focus is left
	// entirely to the device.
	FocusUnknown FocusPolicy = iota
	// FocusAutoOnly means auto-focus stays in charge; no manual write is
	// pending this cycle.
	FocusAutoOnly
	// FocusManualOnly means a manual-focus write is pending, so auto-focus
	// is disabled first.
	FocusManualOnly
)

func (p FocusPolicy) String() string {
	switch p {
	case FocusAutoOnly:
		return "auto-only"
	case FocusManualOnly:
		return "manual-only"
	}
	return "unknown"
}

// FocusControls names the optional pair of focus control IDs. Zero values
// mean the control is not configured on this device.
type FocusControls struct {
	AutoID   uint32
	ManualID uint32
}

// Policy decides focus ownership for a pending batch.
func (f FocusControls) Policy(settings []v4l2.ControlSetting) FocusPolicy {
	if f.AutoID == 0 && f.ManualID == 0 {
		return FocusUnknown
	}
	if f.ManualID != 0 {
		for _, s := range settings {
			if s.ID == f.ManualID {
				return FocusManualOnly
			}
		}
	}
	if f.AutoID != 0 {
		return FocusAutoOnly
	}
	return FocusUnknown
}

// applySettings writes a pending batch to the device, honoring the focus
// policy: under FocusManualOnly the auto-focus control is written off before
// the rest of the batch. Individual write failures are logged and skipped so
// one rejected control does not starve the others.
func applySettings(dev Device, settings []v4l2.ControlSetting, focus FocusControls) {
	if len(settings) == 0 {
		return
	}
	policy := focus.Policy(settings)
	log := logrus.WithFields(logrus.Fields{
		"function": "applySettings",
		"device":   dev.Path(),
		"policy":   policy,
		"count":    len(settings),
	})
	log.Debug("applying pending control batch")

	if policy == FocusManualOnly && focus.AutoID != 0 {
		off := v4l2.ControlSetting{ID: focus.AutoID, Value: v4l2.Boolean(false)}
		if err := dev.SetControl(off); err != nil {
			log.WithField("error", err).Warn("failed to disable auto-focus")
		}
	}
	for _, s := range settings {
		if err := dev.SetControl(s); err != nil {
			log.WithFields(logrus.Fields{
				"control": s.ID,
				"error":   err,
			}).Warn("control write rejected")
		}
	}
}
