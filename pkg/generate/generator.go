package generate

import (
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/eventlake/eventlake/pkg/ingest"
)

// Config controls the synthetic batch generator.
type Config struct {
	Rows     int
	Users    int
	LateRate float64 // share of events whose event_time is shifted into the past
	DupRate  float64 // share of events emitted twice with the same event_id
}

// Generator produces synthetic session funnels (open -> view -> cart ->
// purchase) in the same wire shape the reader consumes. Duplicate injection
// exercises the downstream dedup path.
type Generator struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config, seed int64) *Generator {
	if cfg.Rows <= 0 {
		cfg.Rows = 500
	}
	if cfg.Users <= 0 {
		cfg.Users = 200
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Events generates approximately cfg.Rows candidate records, truncated to
// exactly cfg.Rows.
func (g *Generator) Events() []ingest.RawRecord {
	events := make([]ingest.RawRecord, 0, g.cfg.Rows)
	for len(events) < g.cfg.Rows {
		userID := int64(g.rng.Intn(g.cfg.Users) + 1)
		events = append(events, g.session(userID, time.Now().UTC())...)
	}
	return events[:g.cfg.Rows]
}

// session walks one user through the funnel. Not every session reaches the
// end.
func (g *Generator) session(userID int64, base time.Time) []ingest.RawRecord {
	sessionID := uuid.NewString()
	device := g.device()
	productID := int64(g.rng.Intn(5000) + 1)

	doView := g.rng.Float64() < 0.85
	doCart := doView && g.rng.Float64() < 0.30
	doPurchase := doCart && g.rng.Float64() < 0.55

	names := []string{"open"}
	if doView {
		names = append(names, "view")
	}
	if doCart {
		names = append(names, "cart")
	}
	if doPurchase {
		names = append(names, "purchase")
	}

	var events []ingest.RawRecord
	eventTime := base.Add(-time.Duration(g.rng.Intn(31)) * time.Second)

	for step, name := range names {
		eventTime = eventTime.Add(time.Duration(g.rng.Intn(39)+2) * time.Second)

		effective := eventTime
		late := false
		if g.rng.Float64() < g.cfg.LateRate {
			effective = eventTime.
				Add(-time.Duration(g.rng.Intn(231)+10) * time.Minute).
				Add(-time.Duration(g.rng.Intn(60)) * time.Second)
			late = true
		}

		var price *float64
		if name == "purchase" {
			p := math.Round((5+g.rng.Float64()*245)*100) / 100
			price = &p
		}

		var product *int64
		if name != "open" {
			product = &productID
		}

		record := ingest.RawRecord{
			EventID:   uuid.NewString(),
			EventTime: effective.Format(time.RFC3339Nano),
			EventName: name,
			UserID:    &userID,
			SessionID: sessionID,
			ProductID: product,
			Price:     price,
			Device:    &device,
			Payload: map[string]interface{}{
				"source":       "synthetic_generator",
				"is_late":      late,
				"session_step": step + 1,
			},
		}
		events = append(events, record)

		// Exact duplicates, same event_id, to exercise dedup downstream.
		if g.rng.Float64() < g.cfg.DupRate {
			events = append(events, record)
		}
	}
	return events
}

func (g *Generator) device() string {
	roll := g.rng.Float64()
	switch {
	case roll < 0.55:
		return "web"
	case roll < 0.80:
		return "ios"
	default:
		return "android"
	}
}

// WriteJSONL writes one record per line.
func WriteJSONL(w io.Writer, events []ingest.RawRecord) error {
	for i := range events {
		line, err := json.Marshal(&events[i])
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}
