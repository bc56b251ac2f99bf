package gdl90

import (
	"bytes"
	"math"
	"testing"

	"imufusion/internal/fusion"
)

func unframeAndCheckCRC(t *testing.T, frame []byte) []byte {
	t.Helper()
	msg, ok, err := Unframe(frame)
	if err != nil {
		t.Fatalf("Unframe() error: %v", err)
	}
	if !ok {
		t.Fatalf("CRC mismatch for % X", frame)
	}
	return msg
}

func TestAttitudeFromEuler(t *testing.T) {
	e := fusion.Euler{Roll: 10, Pitch: 5, Yaw: 30}
	cases := []struct {
		conv    fusion.Convention
		pitch   float64
		heading float64
	}{
		{fusion.ConventionNED, 5, 30},
		{fusion.ConventionNWU, -5, 330},
		{fusion.ConventionENU, -5, 60},
	}
	for _, tc := range cases {
		t.Run(tc.conv.String(), func(t *testing.T) {
			a := AttitudeFromEuler(e, tc.conv, true, true)
			if a.RollDeg != 10 || a.PitchDeg != tc.pitch {
				t.Fatalf("roll=%v pitch=%v", a.RollDeg, a.PitchDeg)
			}
			if math.Abs(a.HeadingDeg-tc.heading) > 1e-9 {
				t.Fatalf("heading=%v want %v", a.HeadingDeg, tc.heading)
			}
			if !a.Valid || !a.HeadingValid {
				t.Fatalf("validity=%+v", a)
			}
		})
	}

	if a := AttitudeFromEuler(e, fusion.ConventionNED, false, true); a.HeadingValid {
		t.Fatalf("heading valid without a valid attitude")
	}
	if a := AttitudeFromEuler(fusion.Euler{Yaw: 0.01}, fusion.ConventionNWU, true, false); a.HeadingDeg != 0 {
		t.Fatalf("heading=%v want wrap to 0", a.HeadingDeg)
	}
}

func TestForeFlightAHRSFrame(t *testing.T) {
	msg := unframeAndCheckCRC(t, ForeFlightAHRSFrame(Attitude{
		Valid:        true,
		RollDeg:      12.3,
		PitchDeg:     -4.5,
		HeadingDeg:   90,
		HeadingValid: true,
	}))
	want := []byte{
		0x65, 0x01,
		0x00, 0x7B, // roll 12.3
		0xFF, 0xD3, // pitch -4.5
		0x83, 0x84, // heading 90.0, magnetic
		0xFF, 0xFF,
		0xFF, 0xFF,
	}
	if !bytes.Equal(msg, want) {
		t.Fatalf("msg=% X want % X", msg, want)
	}

	msg = unframeAndCheckCRC(t, ForeFlightAHRSFrame(Attitude{RollDeg: 1}))
	want = []byte{0x65, 0x01, 0x7F, 0xFF, 0x7F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(msg, want) {
		t.Fatalf("invalid msg=% X want % X", msg, want)
	}
}

func TestAHRSReportFrame(t *testing.T) {
	msg := unframeAndCheckCRC(t, AHRSReportFrame(Attitude{
		Valid:    true,
		RollDeg:  -30,
		PitchDeg: 2.04,
	}))
	want := []byte{
		0x4C, 0x45, 0x01, 0x01,
		0xFE, 0xD4, // roll -30.0
		0x00, 0x14, // pitch 2.0
		0x7F, 0xFF, // heading unknown
		0x7F, 0xFF,
		0x7F, 0xFF,
		0x7F, 0xFF,
		0x7F, 0xFF,
		0xFF, 0xFF,
		0x7F, 0xFF,
		0x7F, 0xFF,
	}
	if !bytes.Equal(msg, want) {
		t.Fatalf("msg=% X want % X", msg, want)
	}
}

func TestHeartbeatFrame(t *testing.T) {
	if msg := unframeAndCheckCRC(t, HeartbeatFrame(true)); !bytes.Equal(msg, []byte{0xCC, 0x05}) {
		t.Fatalf("msg=% X", msg)
	}
	if msg := unframeAndCheckCRC(t, HeartbeatFrame(false)); !bytes.Equal(msg, []byte{0xCC, 0x04}) {
		t.Fatalf("msg=% X", msg)
	}
}

func TestAttitudeFrames(t *testing.T) {
	frames := AttitudeFrames(Attitude{Valid: true})
	if len(frames) != 3 {
		t.Fatalf("frames=%d want 3", len(frames))
	}
	ids := []byte{0xCC, 0x65, 0x4C}
	for i, f := range frames {
		if msg := unframeAndCheckCRC(t, f); msg[0] != ids[i] {
			t.Fatalf("frame %d id=0x%02X want 0x%02X", i, msg[0], ids[i])
		}
	}
}

func TestDeg10Saturates(t *testing.T) {
	if got := deg10(1e6); got != math.MaxInt16 {
		t.Fatalf("deg10(1e6)=%d", got)
	}
	if got := deg10(-1e6); got != math.MinInt16 {
		t.Fatalf("deg10(-1e6)=%d", got)
	}
	if got := deg10(-0.04); got != 0 {
		t.Fatalf("deg10(-0.04)=%d", got)
	}
}
