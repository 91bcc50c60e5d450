// Package devicetest provides a scripted device.Driver for tests.
package devicetest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/iqcapture/internal/device"
	"github.com/petems/iqcapture/internal/sample"
)

// Driver delivers a fixed script of transfers on its own goroutine.
//
// After the script is exhausted the driver either keeps streaming without
// delivering anything (Hold) or reports that streaming has ended.
type Driver struct {
	OpenErr      error
	ConfigureErr error
	StartErr     error
	// StopErr is returned by StopStream, as a receiver that failed would.
	StopErr error

	Transfers []device.Transfer
	// Repeat loops over Transfers until stopped.
	Repeat bool
	// Delay is slept before every transfer.
	Delay time.Duration
	Hold  bool

	mu      sync.Mutex
	calls   []string
	params  device.Params
	returns []int
	stopCh  chan struct{}
	done    chan struct{}

	streaming atomic.Bool
}

func (d *Driver) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

// Calls returns the driver methods invoked so far, in order.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Params returns the parameters passed to Configure.
func (d *Driver) Params() device.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// Returns lists the callback return values, one per delivered transfer.
func (d *Driver) Returns() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.returns...)
}

func (d *Driver) Open() error {
	d.record("open")
	return d.OpenErr
}

func (d *Driver) Configure(p device.Params) error {
	d.record("configure")
	d.mu.Lock()
	d.params = p
	d.mu.Unlock()
	return d.ConfigureErr
}

func (d *Driver) StartStream(cb device.Callback) error {
	d.record("start")
	if d.StartErr != nil {
		return d.StartErr
	}

	d.mu.Lock()
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	stop, done := d.stopCh, d.done
	d.mu.Unlock()

	d.streaming.Store(true)
	go d.run(cb, stop, done)
	return nil
}

func (d *Driver) run(cb device.Callback, stop, done chan struct{}) {
	defer close(done)

	for {
		for _, t := range d.Transfers {
			if d.Delay > 0 {
				select {
				case <-stop:
					return
				case <-time.After(d.Delay):
				}
			}
			if !d.streaming.Load() {
				return
			}

			ret := cb(t)
			d.mu.Lock()
			d.returns = append(d.returns, ret)
			d.mu.Unlock()
			if ret != device.Continue {
				d.streaming.Store(false)
				return
			}
		}
		if !d.Repeat || len(d.Transfers) == 0 {
			break
		}
	}

	if d.Hold {
		<-stop
		return
	}
	d.streaming.Store(false)
}

func (d *Driver) IsStreaming() bool {
	return d.streaming.Load()
}

func (d *Driver) StopStream() error {
	d.record("stop")
	d.streaming.Store(false)

	d.mu.Lock()
	stop, done := d.stopCh, d.done
	d.stopCh = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return d.StopErr
}

func (d *Driver) Close() error {
	d.record("close")
	return nil
}

// Payload builds a transfer of count samples of f with every byte set to fill.
func Payload(f sample.Format, count int, fill byte) device.Transfer {
	b := make([]byte, f.PayloadLength(uint64(count)))
	for i := range b {
		b[i] = fill
	}
	return device.Transfer{Samples: b, SampleCount: count, Format: f}
}
