// Package dispatch implements the request dispatcher: a task that serializes
// at most one in-flight CIP request per session, exposed as a channel rather
// than a held mutex. A single owning goroutine (Run) pulls requests off a
// channel; callers wait on their reply channel, and only that goroutine takes
// the EipClient's per-connection mutex for the socket round trip.
package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"warlogix/cip"
	"warlogix/eip"
	"warlogix/plcerr"
	"warlogix/session"
)

// DefaultDeadline is the round-trip deadline applied when a call doesn't
// supply its own context deadline.
const DefaultDeadline = 10 * time.Second

// call is one request queued for the dispatcher goroutine.
type call struct {
	ctx     context.Context
	req     cip.Request
	resultC chan<- result
}

type result struct {
	resp cip.Response
	err  error
}

// Dispatcher serializes CIP request/reply transactions against one session's
// underlying EipClient. Exactly one goroutine (started by Run) ever touches
// the client's SendRRData; callers submit through Do and never race each
// other for the wire.
type Dispatcher struct {
	sess *session.Session
	reqC chan call

	inFlight int32 // atomic; 0 or 1, single in-flight request per session
	lastOK   int64 // atomic; UnixNano of the last successful transaction, 0 if none yet
}

// New creates a Dispatcher bound to sess. Call Run in its own goroutine
// before issuing any Do calls.
func New(sess *session.Session) *Dispatcher {
	return &Dispatcher{
		sess: sess,
		reqC: make(chan call, 1),
	}
}

// InFlight reports whether a request is currently being transacted, for the
// health() operation's in_flight field.
func (d *Dispatcher) InFlight() bool { return atomic.LoadInt32(&d.inFlight) != 0 }

// LastOK returns the time of the last successful round trip, or the zero
// Time if none has succeeded yet.
func (d *Dispatcher) LastOK() time.Time {
	n := atomic.LoadInt64(&d.lastOK)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run consumes queued requests until ctx is cancelled. It must run in exactly
// one goroutine for the lifetime of the Dispatcher.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-d.reqC:
			atomic.StoreInt32(&d.inFlight, 1)
			resp, err := d.transact(c)
			atomic.StoreInt32(&d.inFlight, 0)
			if err == nil {
				atomic.StoreInt64(&d.lastOK, time.Now().UnixNano())
			}
			select {
			case c.resultC <- result{resp, err}:
			default:
			}
		}
	}
}

// Do submits req and blocks until a response arrives, ctx is cancelled, or
// DefaultDeadline elapses (when ctx has no deadline of its own).
func (d *Dispatcher) Do(ctx context.Context, req cip.Request) (cip.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDeadline)
		defer cancel()
	}

	if d.sess.State() != session.Active {
		return cip.Response{}, plcerr.New(plcerr.Transport, "dispatch", "", nil).
			WithEndpoint(d.sess.Endpoint())
	}

	ctxErr := func() error {
		kind := plcerr.Cancelled
		if ctx.Err() == context.DeadlineExceeded {
			kind = plcerr.Timeout
		}
		return plcerr.New(kind, "dispatch", "", ctx.Err()).WithEndpoint(d.sess.Endpoint())
	}

	resultC := make(chan result, 1)
	select {
	case d.reqC <- call{ctx: ctx, req: req, resultC: resultC}:
	case <-ctx.Done():
		return cip.Response{}, ctxErr()
	}

	select {
	case r := <-resultC:
		return r.resp, r.err
	case <-ctx.Done():
		return cip.Response{}, ctxErr()
	}
}

// transact performs the unconnected CIP request/reply round trip: it builds
// the Common Packet Format frame (Null Address Item + Unconnected Data Item),
// calls SendRRData, and unmarshals the returned CIP response.
//
// Runs only on the Dispatcher's own goroutine, so it never races with
// another call for the client's socket.
func (d *Dispatcher) transact(c call) (cip.Response, error) {
	client := d.sess.Client()

	packet := eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{TypeId: eip.CpfAddressNullId, Length: 0},
			{TypeId: eip.CpfUnconnectedMessageId, Data: c.req.Marshal()},
		},
	}
	packet.Items[1].Length = uint16(len(packet.Items[1].Data))

	respPacket, err := client.SendRRData(packet)
	if err != nil {
		return cip.Response{}, plcerr.New(plcerr.Transport, "dispatch", "", err).WithEndpoint(d.sess.Endpoint())
	}
	if len(respPacket.Items) < 2 {
		return cip.Response{}, plcerr.New(plcerr.Protocol, "dispatch", "", nil).WithEndpoint(d.sess.Endpoint())
	}

	resp, err := cip.UnmarshalResponse(respPacket.Items[1].Data)
	if err != nil {
		return cip.Response{}, plcerr.New(plcerr.Protocol, "dispatch", "", err).WithEndpoint(d.sess.Endpoint())
	}
	return resp, nil
}
