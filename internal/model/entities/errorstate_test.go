package entities

import (
	"encoding/json"
	"testing"
	"time"
)

func TestErrorStateOwnersAreIndependent(t *testing.T) {
	var es ErrorState
	sync, err := es.Owner(FlagTransport)
	if err != nil {
		t.Fatalf("Owner() error = %v", err)
	}
	safety, err := es.Owner(FlagFlowFault)
	if err != nil {
		t.Fatalf("Owner() error = %v", err)
	}

	sync.Set(FlagTransport)
	safety.Set(FlagFlowFault)
	if got, want := es.Flags(), FlagTransport|FlagFlowFault; got != want {
		t.Fatalf("Flags() = %s, want %s", got, want)
	}

	// safety cannot clear a flag it does not own
	safety.Clear(FlagTransport)
	if !es.Flags().Has(FlagTransport) {
		t.Errorf("TRANSPORT cleared by a non-owner")
	}
	sync.Set(FlagValveFeedback)
	if es.Flags().Has(FlagValveFeedback) {
		t.Errorf("VALVE_FEEDBACK set by a non-owner")
	}

	sync.Update(FlagTransport, false)
	if got, want := es.Flags(), FlagFlowFault; got != want {
		t.Errorf("Flags() = %s, want %s", got, want)
	}
}

func TestErrorStateOwnerGrantedOnce(t *testing.T) {
	var es ErrorState
	if _, err := es.Owner(FlagLink | FlagDisplay); err != nil {
		t.Fatalf("Owner() error = %v", err)
	}
	if _, err := es.Owner(FlagDisplay); err == nil {
		t.Errorf("Owner(DISPLAY) twice: expected error")
	}
}

func TestErrorFlagString(t *testing.T) {
	tests := []struct {
		flag ErrorFlag
		want string
	}{
		{0, "OK"},
		{FlagLink, "LINK"},
		{FlagSensorTimeout | FlagDisplay, "SENSOR_TIMEOUT|DISPLAY"},
	}
	for _, tt := range tests {
		if got := tt.flag.String(); got != tt.want {
			t.Errorf("ErrorFlag(%#x).String() = %q, want %q", uint8(tt.flag), got, tt.want)
		}
	}
}

func TestCommandIDUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    CommandID
		wantErr bool
	}{
		{`42`, "42", false},
		{`"abc-1"`, "abc-1", false},
		{`""`, "", true},
		{`null`, "", true},
		{`{}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var id CommandID
			err := json.Unmarshal([]byte(tt.in), &id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if id != tt.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, id, tt.want)
			}
		})
	}
}

func TestModeAccepts(t *testing.T) {
	if !ModeAuto.Accepts(OriginPlanner) || ModeAuto.Accepts(OriginRemote) {
		t.Errorf("AUTO must accept only planner commands")
	}
	if !ModePilot.Accepts(OriginRemote) || ModePilot.Accepts(OriginPlanner) {
		t.Errorf("PILOT must accept only remote commands")
	}
	if m, err := ParseMode(" pilot "); err != nil || m != ModePilot {
		t.Errorf("ParseMode(pilot) = %q, %v", m, err)
	}
	if _, err := ParseMode("manual"); err == nil {
		t.Errorf("ParseMode(manual): expected error")
	}
}

func TestZoneExpiry(t *testing.T) {
	t0 := time.Unix(1000, 0)
	z := Zone{Active: true, StartTime: t0, RequestedDuration: time.Minute}
	if z.Expired(t0.Add(time.Minute - time.Millisecond)) {
		t.Errorf("Expired() before T+D")
	}
	if !z.Expired(t0.Add(time.Minute)) {
		t.Errorf("Expired() false at T+D")
	}
	if got := z.Remaining(t0.Add(20 * time.Second)); got != 40*time.Second {
		t.Errorf("Remaining() = %v, want 40s", got)
	}
	if ZoneFromWire(0) >= 0 {
		t.Errorf("ZoneFromWire(0) = %d, want negative", ZoneFromWire(0))
	}
}
