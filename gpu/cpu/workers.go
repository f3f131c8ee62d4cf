package cpu

import (
	"runtime"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// parallelThreshold is the minimum row count to split a draw across workers.
// Below this, shading inline is faster than the channel round trips.
const parallelThreshold = 32

// drawJob is one draw resolved to a target and a shading function.
type drawJob struct {
	target *texture
	shade  shadeFunc
}

// shadeRows writes rows [start, end) of the target.
func (j *drawJob) shadeRows(start, end int) {
	w := float32(j.target.width)
	h := float32(j.target.height)
	for y := start; y < end; y++ {
		v := (float32(y) + 0.5) / h
		for x := 0; x < j.target.width; x++ {
			u := (float32(x) + 0.5) / w
			j.target.store(x, y, j.shade(mgl32.Vec2{u, v}))
		}
	}
}

// rowChunk is a range of rows for a worker to shade.
type rowChunk struct {
	start, end int
	job        *drawJob
}

// workerPool shades draws with persistent goroutines.
type workerPool struct {
	numWorkers int

	workChan chan rowChunk  // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool
}

func newWorkerPool(numWorkers int) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &workerPool{numWorkers: numWorkers}
}

// start launches the workers.
func (p *workerPool) start() {
	if p.running {
		return
	}

	p.workChan = make(chan rowChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop signals all workers to exit and waits for them.
func (p *workerPool) stop() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *workerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			chunk.job.shadeRows(chunk.start, chunk.end)
			p.doneChan <- struct{}{}
		}
	}
}

// run shades every row of the job's target and returns once all are written.
func (p *workerPool) run(job *drawJob) {
	rows := job.target.height
	if rows < parallelThreshold || p.numWorkers == 1 {
		job.shadeRows(0, rows)
		return
	}

	p.start()

	chunkSize := (rows + p.numWorkers - 1) / p.numWorkers
	numChunks := 0
	for start := 0; start < rows; start += chunkSize {
		end := start + chunkSize
		if end > rows {
			end = rows
		}
		p.workChan <- rowChunk{start: start, end: end, job: job}
		numChunks++
	}

	for i := 0; i < numChunks; i++ {
		<-p.doneChan
	}
}
