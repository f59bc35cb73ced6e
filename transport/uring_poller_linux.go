//go:build linux

package transport

import (
	"syscall"
	"time"

	"github.com/iceber/iouring-go"
	iouring_syscall "github.com/iceber/iouring-go/syscall"
	pkgerrors "github.com/pkg/errors"
)

// URingPoller implements Poller with io_uring poll requests. Bounded waits
// link the poll to a timeout request so the kernel enforces the budget.
//
// A completion is only a wake-up: its mask is the wake key of the event that
// fired, which for a socket receive includes POLLPRI even without urgent
// data. The descriptor is re-checked with a zero-timeout poll(2) to get its
// actual state.
type URingPoller struct {
	ring *iouring.IOURing
}

// NewURingPoller creates a poller with its own ring of the given depth.
func NewURingPoller(entries uint) (*URingPoller, error) {
	ring, err := iouring.New(entries)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to initialize io_uring")
	}
	return &URingPoller{ring: ring}, nil
}

// pollAdd prepares an IORING_OP_POLL_ADD for fd. The completion result is
// the revents mask, or a negative errno.
func pollAdd(fd int, events int16) iouring.PrepRequest {
	return func(sqe iouring_syscall.SubmissionQueueEntry, userData *iouring.UserData) {
		sqe.PrepOperation(iouring_syscall.IORING_OP_POLL_ADD, int32(fd), 0, 0, 0)
		sqe.SetOpFlags(uint32(uint16(events)))
	}
}

func (p *URingPoller) Wait(fd int, interest Event, timeout time.Duration) (Event, error) {
	prep := pollAdd(fd, pollEvents(interest))

	var req iouring.Request
	if timeout < 0 {
		r, err := p.ring.SubmitRequest(prep, nil)
		if err != nil {
			return 0, pkgerrors.Wrap(err, "failed to submit poll request")
		}
		<-r.Done()
		req = r
	} else {
		set, err := p.ring.SubmitLinkRequests(prep.WithTimeout(timeout), nil)
		if err != nil {
			return 0, pkgerrors.Wrap(err, "failed to submit poll request")
		}
		<-set.Done()
		req = set.Requests()[0]
	}

	res, err := req.GetRes()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "poll request")
	}
	if res < 0 {
		switch errno := syscall.Errno(-res); errno {
		case syscall.ECANCELED, syscall.EINTR, syscall.ETIME:
			return 0, nil
		default:
			return 0, pkgerrors.Wrap(errno, "io_uring poll")
		}
	}
	return pollPoller{}.Wait(fd, interest, 0)
}

// Close tears down the ring.
func (p *URingPoller) Close() error {
	if p.ring == nil {
		return nil
	}
	err := p.ring.Close()
	p.ring = nil
	return err
}
