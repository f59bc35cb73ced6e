package transport

import (
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Event is a set of readiness conditions on a descriptor.
type Event uint8

const (
	// EventRead means data (or end of stream) is available.
	EventRead Event = 1 << iota
	// EventWrite means the send buffer has room.
	EventWrite
	// EventError means the descriptor is in an exceptional state.
	EventError
)

// Forever makes a Poller wait without a bound.
const Forever time.Duration = -1

// Poller waits for readiness on a single descriptor.
//
// Wait returns the conditions that triggered, restricted to read, write and
// error. An empty result means the timeout expired or the wait was
// interrupted; callers re-check their own deadline and wait again.
type Poller interface {
	Wait(fd int, interest Event, timeout time.Duration) (Event, error)
	Close() error
}

type pollPoller struct{}

// NewPollPoller returns the default Poller, backed by poll(2).
func NewPollPoller() Poller {
	return pollPoller{}
}

func (pollPoller) Wait(fd int, interest Event, timeout time.Duration) (Event, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: pollEvents(interest)}}
	n, err := unix.Poll(fds, pollTimeout(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, pkgerrors.Wrap(err, "poll")
	}
	if n == 0 {
		return 0, nil
	}
	return classify(fds[0].Revents), nil
}

func (pollPoller) Close() error { return nil }

func pollEvents(interest Event) int16 {
	var events int16
	if interest&EventRead != 0 {
		events |= unix.POLLIN
	}
	if interest&EventWrite != 0 {
		events |= unix.POLLOUT
	}
	if interest&EventError != 0 {
		events |= unix.POLLPRI
	}
	return events
}

// classify maps poll revents onto Events. A hang-up reads as readable, the
// way select(2) reports it, so the following read observes end of stream.
func classify(revents int16) Event {
	var ev Event
	if revents&(unix.POLLERR|unix.POLLNVAL|unix.POLLPRI) != 0 {
		ev |= EventError
	}
	if revents&(unix.POLLIN|unix.POLLHUP) != 0 {
		ev |= EventRead
	}
	if revents&unix.POLLOUT != 0 {
		ev |= EventWrite
	}
	return ev
}

// pollTimeout converts d to poll(2) milliseconds, rounding up so a small
// remaining budget never turns into a busy loop.
func pollTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
