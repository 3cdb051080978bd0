package model

import (
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Zone             = entities.Zone
	ZoneID           = entities.ZoneID
	Command          = entities.Command
	SensorSnapshot   = entities.SensorSnapshot
	StateChangeEvent = messages.StateChangeEvent
	StatusView       = messages.StatusView
)

const (
	StateOn  = entities.ValveOn
	StateOff = entities.ValveOff
)
