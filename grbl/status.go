package grbl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/coord"
)

// Status is the machine state reported by the controller. It is only
// ever derived from a received status report, never inferred from
// commands we sent.
type Status string

const (
	StatusIdle         Status = "Idle"
	StatusRun          Status = "Run"
	StatusHold         Status = "Hold"
	StatusJog          Status = "Jog"
	StatusAlarm        Status = "Alarm"
	StatusDoor         Status = "Door"
	StatusCheck        Status = "Check"
	StatusHome         Status = "Home"
	StatusSleep        Status = "Sleep"
	StatusUnknown      Status = "Unknown"
	StatusDisconnected Status = "Disconnected"
)

var knownStatus = map[string]Status{
	"Idle": StatusIdle, "Run": StatusRun, "Hold": StatusHold,
	"Jog": StatusJog, "Alarm": StatusAlarm, "Door": StatusDoor,
	"Check": StatusCheck, "Home": StatusHome, "Sleep": StatusSleep,
}

// Snapshot is the read-mostly machine state record. Position and
// Status always reflect the same (latest) status report.
type Snapshot struct {
	Status  Status
	WPos    coord.Point
	Feed    float64
	Speed   float64
	Version string

	// Pending is the number of unresolved command slots.
	Pending int
}

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) != 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

// reportState is the parser-internal view of a `<...>` report. GRBL
// omits WCO from most reports, so the last seen offset carries over.
type reportState struct {
	snap Snapshot
	wco  coord.Point
}

// parseReport parses a GRBL v1.1 bracketed status report like
// `<Idle|WPos:0.000,0.000,0.000|FS:0,0>` into prev, returning the
// updated state. Either WPos or MPos may be present; with MPos the
// work position is derived via the tracked WCO.
func parseReport(prev reportState, data string) (reportState, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")

	st := prev

	// `Hold:0` style substates collapse to the base state
	name, _, _ := strings.Cut(parts[0], ":")
	if s, ok := knownStatus[name]; ok {
		st.snap.Status = s
	} else {
		st.snap.Status = StatusUnknown
	}

	// collect every field before deriving WPos: GRBL puts WCO after
	// MPos in the same report, and the fresh offset must win over the
	// carried one
	var err error
	var mpos *coord.Point
	for _, f := range parts[1:] {
		k, v, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		switch k {
		case "WPos":
			st.snap.WPos, err = parseCoords(v)
		case "MPos":
			var p coord.Point
			p, err = parseCoords(v)
			if err == nil {
				mpos = &p
			}
		case "WCO":
			st.wco, err = parseCoords(v)
		case "FS":
			fs := strings.Split(v, ",")
			if len(fs) == 2 {
				st.snap.Feed, err = strconv.ParseFloat(fs[0], 64)
				if err == nil {
					st.snap.Speed, err = strconv.ParseFloat(fs[1], 64)
				}
			}
		case "F":
			st.snap.Feed, err = strconv.ParseFloat(v, 64)
		}
		if err != nil {
			return prev, err
		}
	}

	if mpos != nil {
		st.snap.WPos = mpos.Sub(st.wco)
	}

	return st, nil
}

// parseVersion extracts the firmware version from a `Grbl 1.1h [...]`
// banner, or returns "" if the line is not a banner.
func parseVersion(line string) string {
	if !strings.HasPrefix(line, "Grbl") {
		return ""
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
