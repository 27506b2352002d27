package lookup

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/tagpin/pkg/config"
	"github.com/cuemby/tagpin/pkg/events"
	"github.com/cuemby/tagpin/pkg/log"
	"github.com/cuemby/tagpin/pkg/metrics"
	"github.com/cuemby/tagpin/pkg/resolver"
	"github.com/cuemby/tagpin/pkg/store"
	"github.com/cuemby/tagpin/pkg/types"
)

// fsmState sequences the coordinator's lifecycle: loading persisted pins on
// restart, normal serving, or the absorbing terminal failure.
type fsmState int

const (
	stateLoadingCache fsmState = iota
	stateRunning
	stateTerminal
)

// inflightEntry tracks one reference with an outstanding resolver request
// or pin write. It exists exactly while one of those is pending and always
// holds at least one waiter.
type inflightEntry struct {
	waiters    []waiter
	epoch      uint64 // identity of this in-flight cycle
	seq        uint64 // latest forward, validates self-timeouts
	persisting bool   // a store write is in progress; resolver replies are stale
	bo         *backoff.ExponentialBackOff
}

// Options configures a Coordinator.
type Options struct {
	WorkflowID string
	// Restart selects the initial state: true loads persisted pins before
	// serving, false starts with an empty mapping.
	Restart  bool
	Resolver resolver.Resolver
	Store    store.Store

	// ResolverTimeout is the self-imposed deadline per forwarded request.
	ResolverTimeout time.Duration
	Backoff         config.Backoff

	// Events receives pin lifecycle events when non-nil.
	Events *events.Broker
}

// Coordinator is the per-workflow lookup actor. It multiplexes concurrent
// requests for the same image, forwards at most one resolver request per
// reference, persists each resolution before publishing it, and rehydrates
// its mapping from the store on restart.
//
// All state below the mailbox is owned by the single run goroutine;
// resolver calls, store writes and timers re-enter through the mailbox as
// messages.
type Coordinator struct {
	workflowID string
	res        resolver.Resolver
	st         store.Store
	timeout    time.Duration
	backoffCfg config.Backoff
	broker     *events.Broker
	logger     zerolog.Logger

	inbox *mailbox

	// Owned by the run goroutine.
	state    fsmState
	cause    error // terminal reason
	resolved map[types.Reference]types.Digest
	inflight map[types.Reference]*inflightEntry
	buffer   []lookupMsg
	epoch    uint64
	seq      uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates and starts a coordinator for one workflow.
func New(opts Options) *Coordinator {
	if opts.ResolverTimeout <= 0 {
		opts.ResolverTimeout = 30 * time.Second
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = config.Default().Backoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		workflowID: opts.WorkflowID,
		res:        opts.Resolver,
		st:         opts.Store,
		timeout:    opts.ResolverTimeout,
		backoffCfg: opts.Backoff,
		broker:     opts.Events,
		logger:     log.WithComponent("lookup").With().Str("workflow_id", opts.WorkflowID).Logger(),
		inbox:      newMailbox(),
		resolved:   make(map[types.Reference]types.Digest),
		inflight:   make(map[types.Reference]*inflightEntry),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if opts.Restart {
		c.state = stateLoadingCache
		go c.load()
	} else {
		c.state = stateRunning
	}

	go c.run()
	return c
}

// Lookup requests the digest for ref. Exactly one Outcome is delivered to
// replyTo, which must have capacity (a full channel forfeits the reply
// rather than blocking the coordinator).
func (c *Coordinator) Lookup(ref types.Reference, replyTo chan<- Outcome) {
	msg := lookupMsg{ref: ref, replyTo: replyTo, enqueued: time.Now()}
	if !c.inbox.put(msg) {
		// Coordinator already closed; the workflow is going away.
		c.deliver(waiter{replyTo: replyTo, joined: msg.enqueued}, Outcome{
			Ref: ref,
			Err: &TerminalFailure{Cause: fmt.Errorf("coordinator closed")},
		})
	}
}

// Resolve is a convenience wrapper around Lookup that waits for the
// outcome or for ctx.
func (c *Coordinator) Resolve(ctx context.Context, ref types.Reference) (types.Digest, error) {
	replyCh := make(chan Outcome, 1)
	c.Lookup(ref, replyCh)

	select {
	case out := <-replyCh:
		return out.Digest, out.Err
	case <-ctx.Done():
		return types.Digest{}, ctx.Err()
	}
}

// Pins returns a snapshot of the resolved mapping, answered through the
// inbox so it observes a consistent state.
func (c *Coordinator) Pins(ctx context.Context) (map[types.Reference]types.Digest, error) {
	replyCh := make(chan map[types.Reference]types.Digest, 1)
	if !c.inbox.put(pinsMsg{replyTo: replyCh}) {
		return nil, fmt.Errorf("coordinator closed")
	}

	select {
	case pins := <-replyCh:
		return pins, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the coordinator. Pending waiters receive nothing; their
// hosting workflow is tearing down with them.
func (c *Coordinator) Close() {
	c.cancel()
	c.inbox.close()
	<-c.done
}

// load fetches the workflow's persisted pins. Runs once, off the run
// goroutine; the result re-enters through the inbox.
func (c *Coordinator) load() {
	started := time.Now()
	entries, err := c.st.Load(c.ctx, c.workflowID)
	c.inbox.put(loadResultMsg{entries: entries, err: err, started: started})
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		msg, ok := c.inbox.take()
		if !ok {
			// This coordinator's pins no longer count as live.
			metrics.PinsTotal.Sub(float64(len(c.resolved)))
			return
		}
		c.dispatch(msg)
	}
}

func (c *Coordinator) dispatch(msg message) {
	switch m := msg.(type) {
	case lookupMsg:
		c.handleLookup(m)
	case loadResultMsg:
		c.handleLoadResult(m)
	case resolveResultMsg:
		c.handleResolveResult(m)
	case timeoutMsg:
		c.handleTimeout(m)
	case resendMsg:
		c.handleResend(m)
	case storeResultMsg:
		c.handleStoreResult(m)
	case pinsMsg:
		c.handlePins(m)
	}
}

func (c *Coordinator) handleLookup(msg lookupMsg) {
	w := waiter{replyTo: msg.replyTo, joined: msg.enqueued}

	switch c.state {
	case stateTerminal:
		c.deliver(w, Outcome{Ref: msg.ref, Err: &TerminalFailure{Cause: c.cause}})
		return

	case stateLoadingCache:
		c.buffer = append(c.buffer, msg)
		metrics.BufferedLookups.Set(float64(len(c.buffer)))
		return
	}

	if digest, ok := c.resolved[msg.ref]; ok {
		metrics.CacheHitsTotal.Inc()
		c.deliver(w, Outcome{Ref: msg.ref, Digest: digest})
		return
	}

	if entry, ok := c.inflight[msg.ref]; ok {
		entry.waiters = append(entry.waiters, w)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffCfg.Initial
	bo.MaxInterval = c.backoffCfg.Max
	bo.Multiplier = c.backoffCfg.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	c.epoch++
	entry := &inflightEntry{
		waiters: []waiter{w},
		epoch:   c.epoch,
		bo:      bo,
	}
	c.inflight[msg.ref] = entry
	metrics.InflightLookups.Set(float64(len(c.inflight)))

	c.forward(msg.ref, entry)
}

// forward sends one resolver request for ref and schedules the
// self-imposed timeout for this attempt.
func (c *Coordinator) forward(ref types.Reference, entry *inflightEntry) {
	c.seq++
	seq := c.seq
	entry.seq = seq

	metrics.ResolverRequestsTotal.Inc()
	c.logger.Debug().Str("image", ref.String()).Uint64("seq", seq).Msg("Forwarding lookup to resolver")

	time.AfterFunc(c.timeout, func() {
		c.inbox.put(timeoutMsg{ref: ref, seq: seq})
	})

	go func() {
		digest, err := c.res.Resolve(c.ctx, ref)
		c.inbox.put(resolveResultMsg{ref: ref, digest: digest, err: err, seq: seq})
	}()
}

func (c *Coordinator) handleLoadResult(msg loadResultMsg) {
	if c.state != stateLoadingCache {
		return
	}

	if msg.err != nil {
		c.terminal(fmt.Errorf("failed to load persisted digests: %w", msg.err))
		return
	}

	loaded := make(map[types.Reference]types.Digest, len(msg.entries))
	for _, entry := range msg.entries {
		ref, err := types.ParseReference(entry.Key)
		if err != nil {
			c.terminal(fmt.Errorf("failed to parse persisted reference %q: %w", entry.Key, err))
			return
		}
		digest, err := types.ParseDigest(entry.Digest)
		if err != nil {
			c.terminal(fmt.Errorf("failed to parse persisted digest for %q: %w", entry.Key, err))
			return
		}
		// Duplicate rows from a failed-then-retried write: last write wins.
		loaded[ref] = digest
	}

	c.resolved = loaded
	c.state = stateRunning
	metrics.PinsTotal.Add(float64(len(loaded)))
	metrics.ObserveRehydration(len(loaded), msg.started)

	c.logger.Info().Int("pins", len(loaded)).Msg("Rehydrated digest cache")
	c.publish(events.Rehydrated(c.workflowID, len(loaded)))

	buffered := c.buffer
	c.buffer = nil
	metrics.BufferedLookups.Set(0)
	for _, m := range buffered {
		c.handleLookup(m)
	}
}

func (c *Coordinator) handleResolveResult(msg resolveResultMsg) {
	if c.state != stateRunning {
		return
	}

	entry, ok := c.inflight[msg.ref]
	live := ok && !entry.persisting

	if msg.err != nil && resolver.IsBackpressure(msg.err) {
		if !live {
			return
		}
		delay := entry.bo.NextBackOff()
		epoch := entry.epoch
		metrics.ResolverBackpressureTotal.Inc()
		c.logger.Debug().Str("image", msg.ref.String()).Dur("delay", delay).Msg("Resolver backpressure, scheduling resend")

		// The self-timeout from the rejected forward keeps running; a fresh
		// one is scheduled when the resend actually forwards.
		time.AfterFunc(delay, func() {
			c.inbox.put(resendMsg{ref: msg.ref, epoch: epoch})
		})
		return
	}

	if msg.err != nil {
		if !live {
			// Late failure: the waiters are long gone, nothing to do.
			metrics.ResolverLateRepliesTotal.Inc()
			return
		}
		c.logger.Debug().Str("image", msg.ref.String()).Err(msg.err).Msg("Resolver failed")
		c.fail(msg.ref, entry, msg.err)
		return
	}

	if live {
		// Persist before publishing; the entry stays in-flight until the
		// write completes.
		entry.persisting = true
		c.persist(msg.ref, msg.digest, entry.epoch)
		return
	}

	metrics.ResolverLateRepliesTotal.Inc()
	if _, resolvedAlready := c.resolved[msg.ref]; resolvedAlready || ok {
		// Either a later cycle already pinned it or one is about to; this
		// reply is redundant.
		return
	}

	// Success after timeout with no waiters left: still worth pinning so a
	// future request is a cache hit. epoch 0 marks the write as unowned.
	c.logger.Debug().Str("image", msg.ref.String()).Msg("Late resolver success, persisting")
	c.persist(msg.ref, msg.digest, 0)
}

// persist writes one pin off the run goroutine; the result re-enters
// through the inbox.
func (c *Coordinator) persist(ref types.Reference, digest types.Digest, epoch uint64) {
	go func() {
		err := c.st.Put(c.ctx, c.workflowID, ref.String(), digest.String())
		c.inbox.put(storeResultMsg{ref: ref, digest: digest, err: err, epoch: epoch})
	}()
}

func (c *Coordinator) handleStoreResult(msg storeResultMsg) {
	if c.state != stateRunning {
		return
	}

	entry, ok := c.inflight[msg.ref]
	if ok && entry.persisting && entry.epoch == msg.epoch {
		if msg.err != nil {
			metrics.StoreWritesTotal.WithLabelValues("error").Inc()
			c.logger.Error().Err(msg.err).Str("image", msg.ref.String()).Msg("Failed to persist digest")
			c.fail(msg.ref, entry, fmt.Errorf("%w: %v", ErrWriteFailed, msg.err))
			return
		}

		metrics.StoreWritesTotal.WithLabelValues("ok").Inc()
		delete(c.inflight, msg.ref)
		metrics.InflightLookups.Set(float64(len(c.inflight)))
		c.resolved[msg.ref] = msg.digest
		metrics.PinsTotal.Inc()

		c.logger.Info().Str("image", msg.ref.String()).Str("digest", msg.digest.String()).Msg("Pinned digest")
		c.publish(events.Resolved(c.workflowID, msg.ref.String(), msg.digest.String()))

		for _, w := range entry.waiters {
			c.deliver(w, Outcome{Ref: msg.ref, Digest: msg.digest})
		}
		return
	}

	// Unowned (late) write, or the owning cycle is gone.
	if msg.err != nil {
		metrics.StoreWritesTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.StoreWritesTotal.WithLabelValues("ok").Inc()

	_, resolvedAlready := c.resolved[msg.ref]
	if resolvedAlready || ok {
		// A newer cycle owns the reference now; let it finish on its own.
		return
	}
	c.resolved[msg.ref] = msg.digest
	metrics.PinsTotal.Inc()
}

func (c *Coordinator) handleTimeout(msg timeoutMsg) {
	if c.state != stateRunning {
		return
	}

	entry, ok := c.inflight[msg.ref]
	if !ok || entry.seq != msg.seq || entry.persisting {
		// The response won the race, or this timer belongs to an older
		// forward of the same reference.
		return
	}

	metrics.ResolverTimeoutsTotal.Inc()
	c.logger.Warn().Str("image", msg.ref.String()).Dur("timeout", c.timeout).Msg("Resolver timed out")
	c.fail(msg.ref, entry, ErrTimeout)
}

func (c *Coordinator) handleResend(msg resendMsg) {
	if c.state != stateRunning {
		return
	}

	entry, ok := c.inflight[msg.ref]
	if !ok || entry.epoch != msg.epoch || entry.persisting {
		// The cycle this resend was scheduled for is over.
		return
	}
	c.forward(msg.ref, entry)
}

func (c *Coordinator) handlePins(msg pinsMsg) {
	pins := make(map[types.Reference]types.Digest, len(c.resolved))
	for ref, digest := range c.resolved {
		pins[ref] = digest
	}
	msg.replyTo <- pins
}

// fail evicts the in-flight entry and delivers a transient failure to
// every waiter. The reference may be retried by a future request.
func (c *Coordinator) fail(ref types.Reference, entry *inflightEntry, cause error) {
	delete(c.inflight, ref)
	metrics.InflightLookups.Set(float64(len(c.inflight)))

	c.publish(events.LookupFailed(c.workflowID, ref.String(), cause))

	for _, w := range entry.waiters {
		c.deliver(w, Outcome{Ref: ref, Err: cause})
	}
}

// terminal moves the coordinator to its absorbing failure state: every
// pending and future request gets a sticky failure, and no further
// resolver traffic is generated.
func (c *Coordinator) terminal(cause error) {
	c.state = stateTerminal
	c.cause = cause

	c.logger.Error().Err(cause).Msg("Coordinator terminally failed")
	c.publish(events.Terminal(c.workflowID, cause))

	for ref, entry := range c.inflight {
		for _, w := range entry.waiters {
			c.deliver(w, Outcome{Ref: ref, Err: &TerminalFailure{Cause: cause}})
		}
	}
	c.inflight = make(map[types.Reference]*inflightEntry)
	metrics.InflightLookups.Set(0)

	for _, m := range c.buffer {
		c.deliver(waiter{replyTo: m.replyTo, joined: m.enqueued}, Outcome{Ref: m.ref, Err: &TerminalFailure{Cause: cause}})
	}
	c.buffer = nil
	metrics.BufferedLookups.Set(0)
}

// deliver sends one outcome without ever blocking the run goroutine. A
// waiter whose channel is full forfeits the reply.
func (c *Coordinator) deliver(w waiter, out Outcome) {
	outcome := "success"
	switch {
	case IsTerminal(out.Err):
		outcome = "terminal"
	case out.Err != nil:
		outcome = "failure"
	}
	metrics.ObserveLookup(outcome, w.joined)

	select {
	case w.replyTo <- out:
	default:
		c.logger.Warn().Str("image", out.Ref.String()).Msg("Dropping outcome for unready waiter")
	}
}

func (c *Coordinator) publish(ev events.Event) {
	if c.broker != nil {
		c.broker.Publish(ev)
	}
}
