package streamhub

import (
	"sync"

	"adampoller/model"
)

// healthCoalescer drains a per-device latest-value map onto its out
// channel. Repeated updates for a device that arrive faster than the
// subscriber reads collapse into one: the subscriber never misses a
// device's latest state, but it may miss intermediate ones.
type healthCoalescer struct {
	mu      sync.Mutex
	pending map[string]model.Health
	wake    chan struct{}
	out     chan model.Health
	done    chan struct{}
}

func newHealthCoalescer(bufferSize int) *healthCoalescer {
	c := &healthCoalescer{
		pending: make(map[string]model.Health),
		wake:    make(chan struct{}, 1),
		out:     make(chan model.Health, bufferSize),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *healthCoalescer) push(h model.Health) {
	c.mu.Lock()
	c.pending[h.DeviceID] = h
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *healthCoalescer) run() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			c.drain()
		}
	}
}

func (c *healthCoalescer) drain() {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		var key string
		var h model.Health
		for k, v := range c.pending {
			key, h = k, v
			break
		}
		delete(c.pending, key)
		c.mu.Unlock()

		select {
		case c.out <- h:
		case <-c.done:
			return
		}
	}
}

// stop signals the drain goroutine to exit. It does not close out: a send
// in flight when stop is called must not race a close.
func (c *healthCoalescer) stop() {
	close(c.done)
}
