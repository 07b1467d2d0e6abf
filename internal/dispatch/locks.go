package dispatch

import (
	"context"
	"sync"
)

// deviceLocks hands out one mutex per device. Entries are dropped when no
// command holds or waits for them.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	sem  chan struct{}
	refs int
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*deviceLock)}
}

// acquire blocks until the device's lock is held or ctx ends.
func (d *deviceLocks) acquire(ctx context.Context, deviceID string) (release func(), err error) {
	d.mu.Lock()
	l, ok := d.locks[deviceID]
	if !ok {
		l = &deviceLock{sem: make(chan struct{}, 1)}
		d.locks[deviceID] = l
	}
	l.refs++
	d.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.sem
				d.drop(deviceID, l)
			})
		}, nil
	case <-ctx.Done():
		d.drop(deviceID, l)
		return nil, ctx.Err()
	}
}

func (d *deviceLocks) drop(deviceID string, l *deviceLock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, deviceID)
	}
}

// size returns the number of tracked devices.
func (d *deviceLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
