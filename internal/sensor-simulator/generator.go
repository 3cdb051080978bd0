package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/telemetry"
)

const (
	// +0.6% per minuto per ogni zona aperta
	gainPerMin = 0.006

	defaultSeed = 0.30

	// fetch singola all'avvio, mai per tick
	defaultSoilGridsURL = "https://rest.isric.org/soilgrids/v2.0/properties/query?lat=%f&lon=%f&property=wv0010"
)

// DataGenerator mantiene lo stato del suolo e dell'ambiente e lo fa evolvere nel tempo.
type DataGenerator struct {
	mu          sync.Mutex
	now         func() time.Time
	last        time.Time
	moisture    float64 // [0..1]
	decayPerMin float64
	openZones   int
	raining     bool
	pressure    float64

	soilGridsURL string
	httpClient   *http.Client
}

// NewDataGenerator crea un generatore con dato tasso di decadimento per minuto a valvole chiuse.
func NewDataGenerator(decayPerMin float64, now func() time.Time) *DataGenerator {
	if now == nil {
		now = time.Now
	}
	return &DataGenerator{
		now:          now,
		last:         now(),
		moisture:     defaultSeed,
		decayPerMin:  math.Max(0, decayPerMin),
		pressure:     3.5,
		soilGridsURL: defaultSoilGridsURL,
		httpClient:   &http.Client{Timeout: 8 * time.Second},
	}
}

// SeedFromSoilGrids inizializza la moisture dal dataset SoilGrids; in errore resta il seed di default.
func (g *DataGenerator) SeedFromSoilGrids(ctx context.Context, lat, lon float64) error {
	m, err := g.fetchSoilMoisture(ctx, lat, lon)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.moisture = m
	g.last = g.now()
	g.mu.Unlock()
	return nil
}

func (g *DataGenerator) SetOpenZones(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	g.openZones = n
}

func (g *DataGenerator) OpenZones() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openZones
}

func (g *DataGenerator) SetRain(on bool) {
	g.mu.Lock()
	g.raining = on
	g.mu.Unlock()
}

func (g *DataGenerator) SetPressure(bar float64) {
	g.mu.Lock()
	g.pressure = bar
	g.mu.Unlock()
}

// advance integra la moisture fino ad ora. Chiamare con mu acquisito.
func (g *DataGenerator) advance() {
	now := g.now()
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	if g.openZones > 0 {
		g.moisture = clamp01(g.moisture + gainPerMin*float64(g.openZones)*dtMin)
	} else {
		g.moisture = clamp01(g.moisture - g.decayPerMin*dtMin)
	}
	g.last = now
}

// diurnal is 1 at 14:00 and -1 at 02:00.
func diurnal(t time.Time) float64 {
	h := float64(t.Hour()) + float64(t.Minute())/60
	return math.Cos((h - 14) * math.Pi / 12)
}

// Value returns the current reading for a bus field.
func (g *DataGenerator) Value(f telemetry.Field) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	d := diurnal(g.last)

	switch f {
	case telemetry.FieldSoilMoisture:
		return math.Round(g.moisture*10000) / 100, true
	case telemetry.FieldSoilTemp:
		return 18 + 3*d, true
	case telemetry.FieldSoilPH:
		return 6.5, true
	case telemetry.FieldSoilEC:
		return 1.2, true
	case telemetry.FieldNitrogen:
		return 40, true
	case telemetry.FieldPhosphorus:
		return 25, true
	case telemetry.FieldPotassium:
		return 180, true
	case telemetry.FieldSolarRadiation:
		h := float64(g.last.Hour()) + float64(g.last.Minute())/60
		return math.Max(0, 650*math.Sin((h-6)*math.Pi/12)), true
	}
	return 0, false
}

// Env returns the non-bus inputs.
func (g *DataGenerator) Env() telemetry.EnvReading {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	d := diurnal(g.last)
	return telemetry.EnvReading{
		Values: map[telemetry.Field]float64{
			telemetry.FieldAirTemp:        22 + 6*d,
			telemetry.FieldAirHumidity:    60 - 15*d,
			telemetry.FieldWindSpeed:      2.0,
			telemetry.FieldPressure:       g.pressure,
			telemetry.FieldBackupMoisture: math.Round(g.moisture*1000) / 10,
			telemetry.FieldBackupPH:       6.4,
			telemetry.FieldBackupNPK:      12,
		},
		Raining: g.raining,
	}
}

type soilGridsResponse struct {
	Properties struct {
		Layers []struct {
			Depths []struct {
				Values map[string]*float64 `json:"values"`
			} `json:"depths"`
		} `json:"layers"`
	} `json:"properties"`
}

func (g *DataGenerator) fetchSoilMoisture(ctx context.Context, lat, lon float64) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(g.soilGridsURL, lat, lon), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "sdcc-irrigation-node/1.0")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("soilgrids HTTP %d", resp.StatusCode)
	}

	var parsed soilGridsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("soilgrids: %w", err)
	}
	for _, l := range parsed.Properties.Layers {
		for _, d := range l.Depths {
			for _, k := range []string{"Q0.5", "mean", "Q0.95", "Q0.05"} {
				if v := d.Values[k]; v != nil {
					return normalizeWV(*v), nil
				}
			}
		}
	}
	return 0, errors.New("soilgrids: moisture field not found")
}

// normalizeWV: i layer wv**** sono interi in millesimi di m3/m3 (420 => 0.420).
func normalizeWV(x float64) float64 {
	if x > 1.5 {
		x = x / 1000.0
	}
	return clamp01(x)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
