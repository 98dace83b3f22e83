package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/navigation"
	"github.com/banshee-data/snow.eliminator/internal/scan"
)

// ErrRunNotFound is returned when a run ID is not in the journal.
var ErrRunNotFound = errors.New("run not found")

// Run is a journalled run. EndedAt is zero and Cause is CauseNone while the
// run is still in progress (or if it never recorded a termination).
type Run struct {
	RunID          string           `json:"run_id"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        time.Time        `json:"ended_at"`
	Cause          control.Cause    `json:"cause"`
	Cycles         int64            `json:"cycles"`
	Error          string           `json:"error,omitempty"`
	Settings       control.Settings `json:"settings"`
	ClearCycles    int64            `json:"clear_cycles"`
	ObstacleCycles int64            `json:"obstacle_cycles"`
	BreachCycles   int64            `json:"breach_cycles"`
}

// Cycle is a journalled control cycle.
type Cycle struct {
	Seq       int64               `json:"seq"`
	At        time.Time           `json:"at"`
	Proximity bool                `json:"proximity"`
	Evaluated bool                `json:"evaluated"`
	Decision  navigation.Decision `json:"decision"`
	Drive     string              `json:"drive"`
	Heater    bool                `json:"heater"`
	Sprayer   bool                `json:"sprayer"`
	Summary   scan.Summary        `json:"summary"`
}

const runColumns = `
	r.run_id, r.started_at, r.ended_at, r.cause, r.cycles, r.error, r.settings_json,
	COALESCE(d.clear_cycles, 0), COALESCE(d.obstacle_cycles, 0), COALESCE(d.breach_cycles, 0)
	FROM runs r LEFT JOIN run_decisions d ON d.run_id = r.run_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run      Run
		started  float64
		ended    sql.NullFloat64
		cause    sql.NullString
		errText  sql.NullString
		settings string
	)
	if err := row.Scan(&run.RunID, &started, &ended, &cause, &run.Cycles, &errText, &settings,
		&run.ClearCycles, &run.ObstacleCycles, &run.BreachCycles); err != nil {
		return Run{}, err
	}
	run.StartedAt = fromUnixSeconds(started)
	if ended.Valid {
		run.EndedAt = fromUnixSeconds(ended.Float64)
	}
	if cause.Valid {
		c, err := control.ParseCause(cause.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: %w", run.RunID, err)
		}
		run.Cause = c
	}
	run.Error = errText.String
	if err := json.Unmarshal([]byte(settings), &run.Settings); err != nil {
		return Run{}, fmt.Errorf("run %s: failed to decode settings: %w", run.RunID, err)
	}
	return run, nil
}

// Runs returns every journalled run, most recent first.
func (j *Journal) Runs() ([]Run, error) {
	rows, err := j.db.Query(`SELECT ` + runColumns + ` ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns one run by ID.
func (j *Journal) Run(runID string) (Run, error) {
	run, err := scanRun(j.db.QueryRow(`SELECT `+runColumns+` WHERE r.run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (j *Journal) LatestRun() (Run, error) {
	run, err := scanRun(j.db.QueryRow(`SELECT ` + runColumns + ` ORDER BY r.started_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

// Cycles returns the cycles of a run in order.
func (j *Journal) Cycles(runID string) ([]Cycle, error) {
	rows, err := j.db.Query(`
		SELECT seq, at, proximity, evaluated, decision, drive, heater, sprayer,
			points, valid_points, forward_points, mean_quality, min_forward_mm, mean_forward_mm
		FROM cycles WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var (
			c        Cycle
			at       float64
			decision sql.NullString
		)
		if err := rows.Scan(&c.Seq, &at, &c.Proximity, &c.Evaluated, &decision, &c.Drive,
			&c.Heater, &c.Sprayer, &c.Summary.Points, &c.Summary.ValidPoints,
			&c.Summary.ForwardPoints, &c.Summary.MeanQuality,
			&c.Summary.MinForwardDistance, &c.Summary.MeanForwardDist); err != nil {
			return nil, err
		}
		c.At = fromUnixSeconds(at)
		if decision.Valid {
			d, err := navigation.ParseDecision(decision.String)
			if err != nil {
				return nil, fmt.Errorf("cycle %d: %w", c.Seq, err)
			}
			c.Decision = d
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
