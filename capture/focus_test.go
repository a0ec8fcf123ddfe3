package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillcap/stillcap/v4l2"
)

const (
	testAutoFocusID   = 0x009a090c
	testManualFocusID = 0x009a090a
)

func TestFocusPolicy(t *testing.T) {
	manualWrite := []v4l2.ControlSetting{{ID: testManualFocusID, Value: v4l2.Integer(120)}}
	otherWrite := []v4l2.ControlSetting{{ID: 0x00980900, Value: v4l2.Integer(40)}}

	tests := []struct {
		name     string
		controls FocusControls
		settings []v4l2.ControlSetting
		want     FocusPolicy
	}{
		{"nothing configured", FocusControls{}, manualWrite, FocusUnknown},
		{"auto only configured", FocusControls{AutoID: testAutoFocusID}, otherWrite, FocusAutoOnly},
		{"manual pending", FocusControls{AutoID: testAutoFocusID, ManualID: testManualFocusID}, manualWrite, FocusManualOnly},
		{"manual configured but idle", FocusControls{AutoID: testAutoFocusID, ManualID: testManualFocusID}, otherWrite, FocusAutoOnly},
		{"manual without auto", FocusControls{ManualID: testManualFocusID}, otherWrite, FocusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.controls.Policy(tt.settings))
		})
	}
}

func TestApplySettingsDisablesAutoFocusFirst(t *testing.T) {
	dev := newMockDevice(4, nil)
	focus := FocusControls{AutoID: testAutoFocusID, ManualID: testManualFocusID}

	applySettings(dev, []v4l2.ControlSetting{
		{ID: 0x00980900, Value: v4l2.Integer(40)},
		{ID: testManualFocusID, Value: v4l2.Integer(120)},
	}, focus)

	require.Len(t, dev.setCalls, 3)
	assert.Equal(t, uint32(testAutoFocusID), dev.setCalls[0].ID)
	wire, err := dev.setCalls[0].Value.Wire()
	require.NoError(t, err)
	assert.Equal(t, int32(0), wire)
}

func TestApplySettingsEmptyBatch(t *testing.T) {
	dev := newMockDevice(4, nil)
	applySettings(dev, nil, FocusControls{AutoID: testAutoFocusID})
	assert.Empty(t, dev.setCalls)
}
