package pipeline

import (
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// trackedObject is one human under tracking. It lives from a reseed until
// its first failed update or the next reseed.
type trackedObject struct {
	id         uuid.UUID
	box        BoundingBox
	tracker    Tracker
	createdSeq uint64
	advances   int
	initErr    error
}

// TrackerPool owns the set of tracked objects between detection passes.
// Only the goroutine driving the orchestrator mutates it.
type TrackerPool struct {
	factory TrackerFactory
	workers int
	objects []*trackedObject
	dropped uint64
	logger  *slog.Logger
}

// NewTrackerPool creates an empty pool. workers > 1 updates trackers
// concurrently; removal of lost objects always happens on the caller.
func NewTrackerPool(factory TrackerFactory, workers int, logger *slog.Logger) *TrackerPool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackerPool{
		factory: factory,
		workers: workers,
		logger:  logger.With("component", "tracker-pool"),
	}
}

// Reseed discards every tracked object and creates exactly one per box, in
// the order given. A tracker that fails to initialize still occupies its
// slot and is dropped on its first advance.
func (p *TrackerPool) Reseed(frame *Frame, boxes []BoundingBox) []TrackedBox {
	objects := make([]*trackedObject, 0, len(boxes))
	out := make([]TrackedBox, 0, len(boxes))

	for _, box := range boxes {
		obj := &trackedObject{
			id:         uuid.New(),
			box:        box,
			tracker:    p.factory(),
			createdSeq: frame.Seq,
		}
		if err := obj.tracker.Init(frame, box); err != nil {
			obj.initErr = err
			p.logger.Warn("tracker init failed", "id", obj.id, "box", box.String(), "error", err)
		}
		objects = append(objects, obj)
		out = append(out, TrackedBox{ID: obj.id, Box: box})
	}

	p.objects = objects
	return out
}

// Advance updates every tracked object against frame. Lost objects are
// removed permanently; the survivors are returned in pool order.
func (p *TrackerPool) Advance(frame *Frame) []TrackedBox {
	type update struct {
		box BoundingBox
		ok  bool
	}
	updates := make([]update, len(p.objects))

	step := func(i int) {
		obj := p.objects[i]
		if obj.initErr != nil {
			return
		}
		box, ok := obj.tracker.Update(frame)
		updates[i] = update{box: box, ok: ok}
	}

	if p.workers > 1 && len(p.objects) > 1 {
		var g errgroup.Group
		g.SetLimit(p.workers)
		for i := range p.objects {
			g.Go(func() error {
				step(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range p.objects {
			step(i)
		}
	}

	// Single writer: compaction happens after every update has finished
	kept := p.objects[:0]
	out := make([]TrackedBox, 0, len(p.objects))
	for i, obj := range p.objects {
		if !updates[i].ok {
			p.dropped++
			p.logger.Debug("tracker lost object", "id", obj.id, "last_box", obj.box.String(), "advances", obj.advances)
			continue
		}
		obj.box = updates[i].box
		obj.advances++
		kept = append(kept, obj)
		out = append(out, TrackedBox{ID: obj.id, Box: obj.box})
	}
	for i := len(kept); i < len(p.objects); i++ {
		p.objects[i] = nil
	}
	p.objects = kept

	return out
}

// Size returns the number of live tracked objects
func (p *TrackerPool) Size() int {
	return len(p.objects)
}

// Boxes returns the current box of every live tracked object
func (p *TrackerPool) Boxes() []TrackedBox {
	out := make([]TrackedBox, 0, len(p.objects))
	for _, obj := range p.objects {
		out = append(out, TrackedBox{ID: obj.id, Box: obj.box})
	}
	return out
}

// Dropped returns how many objects have been lost by failed updates
func (p *TrackerPool) Dropped() uint64 {
	return p.dropped
}
