package scheduler

import (
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
)

// Planner turns the schedule returned by a telemetry push into AUTO-mode commands.
type Planner struct {
	newID func() string
}

func NewPlanner() *Planner {
	return &Planner{newID: func() string { return "plan-" + uuid.NewString() }}
}

// maxPlanMinutes keeps the conversion to time.Duration inside int64.
const maxPlanMinutes = float64(math.MaxInt64/int64(time.Minute) - 1)

// Plan emits one START per entry with a positive duration. Zone ids stay as
// sent (1-based) so the scheduler rejects out-of-range ones.
func (p *Planner) Plan(entries []messages.ScheduleEntry) []entities.Command {
	out := make([]entities.Command, 0, len(entries))
	for _, e := range entries {
		if e.DurationMinutes <= 0 || math.IsNaN(e.DurationMinutes) || math.IsInf(e.DurationMinutes, 0) {
			log.Printf("planner: skipping zone %d with duration %v min", e.ZoneID, e.DurationMinutes)
			continue
		}
		if e.DurationMinutes >= maxPlanMinutes {
			log.Printf("planner: skipping zone %d, duration %v min too large", e.ZoneID, e.DurationMinutes)
			continue
		}
		out = append(out, entities.Command{
			ID:       entities.CommandID(p.newID()),
			Type:     entities.CommandStart,
			ZoneID:   entities.ZoneFromWire(e.ZoneID),
			Duration: time.Duration(e.DurationMinutes * float64(time.Minute)),
			Origin:   entities.OriginPlanner,
			Status:   entities.StatusPending,
		})
	}
	return out
}
