package relay

import (
	"context"
	"time"

	"github.com/cyberinferno/go-relay/logger"
	"github.com/cyberinferno/go-relay/mailbox"
	"github.com/cyberinferno/go-relay/presence"
	"github.com/cyberinferno/go-relay/protocol"
)

// resolveFunc maps a registered connection id back to its live session.
type resolveFunc func(id uint64, user string) (*Session, bool)

// Router delivers notifications to online users and queues them in the
// mailbox for everyone else. Callers never learn which path was taken.
type Router struct {
	registry *presence.Registry
	mailbox  mailbox.Mailbox
	resolve  resolveFunc
	timeout  time.Duration
	log      logger.Logger
}

func newRouter(reg *presence.Registry, mb mailbox.Mailbox, resolve resolveFunc, timeout time.Duration, log logger.Logger) *Router {
	return &Router{
		registry: reg,
		mailbox:  mb,
		resolve:  resolve,
		timeout:  timeout,
		log:      log,
	}
}

// Lookup returns the live session registered for user. Entries whose session
// has closed, or whose session has since claimed another name, are absent.
func (r *Router) Lookup(user string) (*Session, bool) {
	id, ok := r.registry.Lookup(user)
	if !ok {
		return nil, false
	}

	return r.resolve(id, user)
}

// Route delivers n to user. The online check and the mailbox fallback run
// under the registry lock, so a concurrent login either sees the queued
// frame in its drain or receives n live, never neither.
func (r *Router) Route(to string, n protocol.Notification) {
	frame, err := protocol.Encode(n)
	if err != nil {
		r.log.Error("encode notification", logger.Field{Key: "error", Value: err})
		return
	}

	r.registry.Resolve(to, func(id uint64, ok bool) {
		if ok {
			if s, live := r.resolve(id, to); live && s.Send(frame) == nil {
				return
			}
		}

		r.enqueue(to, frame)
	})
}

func (r *Router) enqueue(to string, frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.mailbox.Enqueue(ctx, to, frame); err != nil {
		r.log.Warn("offline message dropped",
			logger.Field{Key: "to", Value: to},
			logger.Field{Key: "error", Value: err})
		return
	}

	r.log.Debug("queued offline message", logger.Field{Key: "to", Value: to})
}

// drainInto moves user's queued frames into s, in enqueue order. It runs as
// the Register hook, under the registry lock.
func (r *Router) drainInto(s *Session, user string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	frames, err := r.mailbox.Drain(ctx, user)
	if err != nil {
		r.log.Warn("mailbox drain failed",
			logger.Field{Key: "user", Value: user},
			logger.Field{Key: "error", Value: err})
		return
	}

	for i, f := range frames {
		if err := s.Send(f); err != nil {
			// Session closed mid-drain: put the rest back for the next login.
			for _, rest := range frames[i:] {
				r.enqueue(user, rest)
			}
			return
		}
	}

	if len(frames) > 0 {
		r.log.Debug("delivered offline messages",
			logger.Field{Key: "user", Value: user},
			logger.Field{Key: "count", Value: len(frames)})
	}
}
