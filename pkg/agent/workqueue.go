package agent

// workQueueSize is the fixed capacity of the deferred-work queue.
const workQueueSize = 8

// WorkFunc is a deferred callback executed on the owner goroutine.
// priv is the opaque value passed to QueueWork.
type WorkFunc func(priv any)

// workItem pairs a callback with its private data. Items are copied
// into the queue by value.
type workItem struct {
	fn   WorkFunc
	priv any
}

// workQueue is a bounded multi-producer/single-consumer queue of
// deferred callbacks. Enqueue never blocks; dequeue happens only on
// the owner goroutine.
type workQueue struct {
	items chan workItem
}

func newWorkQueue() *workQueue {
	return &workQueue{items: make(chan workItem, workQueueSize)}
}

// enqueue adds an item without blocking. Returns ErrQueueFull when the
// queue is at capacity; the caller must handle the back-pressure.
func (q *workQueue) enqueue(fn WorkFunc, priv any) error {
	select {
	case q.items <- workItem{fn: fn, priv: priv}:
		return nil
	default:
		return ErrQueueFull
	}
}

// drain executes queued items in FIFO order until the queue is empty.
// It never blocks waiting for new items. Owner goroutine only.
func (q *workQueue) drain() {
	for {
		select {
		case item := <-q.items:
			item.fn(item.priv)
		default:
			return
		}
	}
}

// len returns the number of outstanding items.
func (q *workQueue) len() int {
	return len(q.items)
}
