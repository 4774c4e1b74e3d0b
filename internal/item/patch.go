package item

import "time"

// Patch is a partial update. Nil fields are left untouched. A store applies
// the whole patch in one transaction so a status is never persisted without
// the timestamps written alongside it.
type Patch struct {
	Status            *Status
	MarkedForDeletion *bool
	TaskID            *string
	JobName           *string
	JobMessage        *string
	ChunkSize         *int
	ChunksTotal       *int
	ChunksProcessed   *int
	Starts            map[Stage]time.Time
	Ends              map[Stage]time.Time
}

func NewPatch() *Patch { return &Patch{} }

func (p *Patch) SetStatus(s Status) *Patch {
	p.Status = &s
	return p
}

func (p *Patch) SetMessage(msg string) *Patch {
	p.JobMessage = &msg
	return p
}

func (p *Patch) SetTask(taskID, jobName string) *Patch {
	p.TaskID = &taskID
	p.JobName = &jobName
	return p
}

func (p *Patch) ClearTask() *Patch { return p.SetTask("", "") }

func (p *Patch) SetMarkedForDeletion(v bool) *Patch {
	p.MarkedForDeletion = &v
	return p
}

func (p *Patch) SetChunkSize(n int) *Patch {
	p.ChunkSize = &n
	return p
}

func (p *Patch) SetChunksTotal(n int) *Patch {
	p.ChunksTotal = &n
	return p
}

func (p *Patch) SetChunksProcessed(n int) *Patch {
	p.ChunksProcessed = &n
	return p
}

func (p *Patch) Start(s Stage, t time.Time) *Patch {
	if p.Starts == nil {
		p.Starts = map[Stage]time.Time{}
	}
	p.Starts[s] = t
	return p
}

func (p *Patch) End(s Stage, t time.Time) *Patch {
	if p.Ends == nil {
		p.Ends = map[Stage]time.Time{}
	}
	p.Ends[s] = t
	return p
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	return p.Status == nil && p.MarkedForDeletion == nil && p.TaskID == nil && p.JobName == nil &&
		p.JobMessage == nil && p.ChunkSize == nil && p.ChunksTotal == nil && p.ChunksProcessed == nil &&
		len(p.Starts) == 0 && len(p.Ends) == 0
}

// Apply validates the status transition and writes the patch onto it.
// Used by stores that hold items in memory; SQL stores translate the same
// fields into an UPDATE.
func (p *Patch) Apply(it *Item) error {
	if p.Status != nil {
		if err := ValidateTransition(it.Status, *p.Status); err != nil {
			return err
		}
		it.Status = *p.Status
	}
	if p.MarkedForDeletion != nil {
		it.MarkedForDeletion = *p.MarkedForDeletion
	}
	if p.TaskID != nil {
		it.TaskID = *p.TaskID
	}
	if p.JobName != nil {
		it.JobName = *p.JobName
	}
	if p.JobMessage != nil {
		it.JobMessage = *p.JobMessage
	}
	if p.ChunkSize != nil {
		it.ChunkSize = *p.ChunkSize
	}
	if p.ChunksTotal != nil {
		it.ChunksTotal = *p.ChunksTotal
	}
	if p.ChunksProcessed != nil {
		it.ChunksProcessed = *p.ChunksProcessed
	}
	if len(p.Starts) > 0 || len(p.Ends) > 0 {
		if it.Timings == nil {
			it.Timings = map[Stage]Window{}
		}
		for s, t := range p.Starts {
			w := it.Timings[s]
			t := t
			w.Start = &t
			it.Timings[s] = w
		}
		for s, t := range p.Ends {
			w := it.Timings[s]
			t := t
			w.End = &t
			it.Timings[s] = w
		}
	}
	return nil
}
