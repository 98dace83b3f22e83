package journal

import "github.com/banshee-data/snow.eliminator/internal/control"

// Recorder returns a control.Observer that journals every run event. Its
// methods never block; events that do not fit in the queue are dropped and
// counted in Dropped.
func (j *Journal) Recorder() control.Observer {
	return recorder{j}
}

type recorder struct{ j *Journal }

func (r recorder) RunStarted(info control.RunInfo)      { r.j.enqueue(info) }
func (r recorder) CycleCompleted(c control.CycleReport) { r.j.enqueue(c) }
func (r recorder) RunTerminated(t control.Termination)  { r.j.enqueue(t) }
