package cache

import (
	"log"
	"sync"
	"time"
)

// pipelineJob is one Entry awaiting serialization plus the callback to
// run once UpdateFingerprint finishes.
type pipelineJob struct {
	entry                *Entry
	compressionThreshold int
	onComplete           func(entry *Entry, envelope []byte, err error)
}

// Pipeline is C2: a single-producer-many-consumer buffer with
// time-and-size flushing. It batches incoming Entries for up to
// flushInterval or until batchSize is reached, whichever comes first,
// then runs UpdateFingerprint on each member of the batch in parallel.
// Ordering between batches, and between an Entry becoming visible in L1
// and its fingerprint being set, is never guaranteed (spec §4.2).
type Pipeline struct {
	flushInterval time.Duration
	batchSize     int

	mu      sync.Mutex
	pending []pipelineJob

	flushNow chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPipeline starts the background flusher goroutine immediately.
func NewPipeline(flushInterval time.Duration, batchSize int) *Pipeline {
	if flushInterval <= 0 {
		flushInterval = 35 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	p := &Pipeline{
		flushInterval: flushInterval,
		batchSize:     batchSize,
		flushNow:      make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Enqueue adds a job to the pending batch. Non-blocking: the batch slice
// grows unbounded between flushes, which is acceptable because flushes
// are frequent (≈35ms) and a flush is triggered early once batchSize is
// reached.
func (p *Pipeline) Enqueue(job pipelineJob) {
	p.mu.Lock()
	p.pending = append(p.pending, job)
	trip := len(p.pending) >= p.batchSize
	p.mu.Unlock()

	if trip {
		select {
		case p.flushNow <- struct{}{}:
		default:
		}
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.flush()
			return
		case <-ticker.C:
			p.flush()
		case <-p.flushNow:
			p.flush()
		}
	}
}

func (p *Pipeline) flush() {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(batch))
	for _, job := range batch {
		job := job
		go func() {
			defer wg.Done()
			job.entry.UpdateFingerprint(job.compressionThreshold, func(entry *Entry, envelope []byte, err error) {
				if err != nil {
					// Serialization failures are logged and never
					// propagated; the Entry stays live in L1, it just
					// misses its fingerprint guard and L2 mirror until
					// the next successful write.
					log.Printf("cache: serialization failed for key %q: %v", entry.Key(), err)
				}
				if job.onComplete != nil {
					job.onComplete(entry, envelope, err)
				}
			})
		}()
	}
	wg.Wait()
}

// Stop drains any pending batch and halts the background flusher.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
	})
}
