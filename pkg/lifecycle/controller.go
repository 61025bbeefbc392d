// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/telemetry"
	"github.com/platform-engineering-labs/formae-plugin-cloudstack/pkg/transport/cloudstack"
)

// listPageSize is the page size used when listing for discovery.
const listPageSize = 500

// Observation is the result of one convergence query. Found is false when
// the remote system does not know the object.
type Observation struct {
	Found    bool
	Snapshot gjson.Result
}

// Controller drives descriptors of one kind through their lifecycle.
//
// Every method performs at most a handful of remote round trips and returns;
// none of them waits for convergence. The caller polls the IsXComplete
// methods at its own cadence. A Controller holds no per-descriptor state and
// may be shared across goroutines, but a single descriptor must not be
// handed to two calls at once.
type Controller struct {
	strategy  Strategy
	transport TransportClient
	retry     RetryPolicy
	log       zerolog.Logger
	metrics   *telemetry.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMetrics sets the metrics collector. The default records nothing.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Controller) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		c.retry = p
	}
}

// NewController creates a controller for strategy's kind.
func NewController(strategy Strategy, transport TransportClient, opts ...Option) (*Controller, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if strategy.Errors == nil {
		strategy.Errors = DefaultErrorTable()
	}

	c := &Controller{
		strategy:  strategy,
		transport: transport,
		retry:     DefaultRetryPolicy(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("kind", strategy.Kind.String()).Logger()
	return c, nil
}

// Kind returns the kind this controller manages.
func (c *Controller) Kind() Kind { return c.strategy.Kind }

// RetryPolicy returns the delete retry policy in effect.
func (c *Controller) RetryPolicy() RetryPolicy { return c.retry }

// Create issues the remote creation call and returns the remote identifier
// (or, for kinds without one, the association reference) without waiting
// for convergence.
func (c *Controller) Create(ctx context.Context, d *Descriptor) (string, error) {
	if err := c.check(d); err != nil {
		return "", err
	}
	if d.state != StateUncreated {
		return "", c.invalidState(d, "create")
	}

	out, err := c.strategy.Create(ctx, c.transport, d.params)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			c.call("create", err)
		}
		if out.RemoteID != "" && !c.strategy.NoIdentity {
			d.remoteID = out.RemoteID
		}
		c.log.Warn().Err(err).Str("remote_id", d.remoteID).Msg("create failed")
		c.transition(d, StateFailed)
		return "", c.fatal("create", d, err)
	}
	c.call("create", nil)

	if c.strategy.NoIdentity {
		d.jobID = out.JobID
		c.transition(d, StateCreating)
		return out.Reference, nil
	}

	if out.RemoteID == "" {
		c.transition(d, StateFailed)
		return "", c.fatal("create", d, errors.New("remote system returned no identifier"))
	}
	d.remoteID = out.RemoteID
	d.jobID = out.JobID
	c.log.Info().Str("remote_id", d.remoteID).Str("job_id", d.jobID).Msg("create accepted")
	c.transition(d, StateCreating)

	if out.Reference != "" {
		return out.Reference, nil
	}
	return out.RemoteID, nil
}

// IsCreateComplete issues one convergence query. An object that is not yet
// visible is reported as incomplete, not as an error. Once it has returned
// true it keeps returning true without querying again.
func (c *Controller) IsCreateComplete(ctx context.Context, d *Descriptor) (bool, error) {
	if err := c.check(d); err != nil {
		return false, err
	}
	if d.state.created() {
		return true, nil
	}
	if d.state != StateCreating {
		return false, c.invalidState(d, "poll creation of")
	}
	if c.strategy.CreateComplete == nil {
		d.jobID = ""
		c.transition(d, StateActive)
		return true, nil
	}
	return c.converge(ctx, d, "create", c.strategy.CreateComplete, StateActive, true)
}

// Suspend stops the object. Kinds without a stop/start notion ignore it.
func (c *Controller) Suspend(ctx context.Context, d *Descriptor) error {
	if err := c.check(d); err != nil {
		return err
	}
	if !c.strategy.SupportsSuspend() {
		c.log.Debug().Msg("suspend not supported, ignoring")
		return nil
	}
	if d.state != StateActive {
		return c.invalidState(d, "suspend")
	}

	jobID, err := c.strategy.Suspend(ctx, c.transport, d.remoteID)
	c.call("suspend", err)
	if err != nil {
		return c.fatal("suspend", d, err)
	}
	d.jobID = jobID
	c.transition(d, StateSuspending)
	return nil
}

// IsSuspendComplete polls for the stopped state. Always true for kinds
// that cannot be suspended.
func (c *Controller) IsSuspendComplete(ctx context.Context, d *Descriptor) (bool, error) {
	if err := c.check(d); err != nil {
		return false, err
	}
	if !c.strategy.SupportsSuspend() {
		return true, nil
	}
	switch d.state {
	case StateSuspended:
		return true, nil
	case StateSuspending:
	default:
		return false, c.invalidState(d, "poll suspension of")
	}
	return c.converge(ctx, d, "suspend", c.strategy.SuspendComplete, StateSuspended, false)
}

// Resume starts a suspended object. Kinds without a stop/start notion ignore it.
func (c *Controller) Resume(ctx context.Context, d *Descriptor) error {
	if err := c.check(d); err != nil {
		return err
	}
	if !c.strategy.SupportsSuspend() {
		c.log.Debug().Msg("resume not supported, ignoring")
		return nil
	}
	if d.state != StateSuspended {
		return c.invalidState(d, "resume")
	}

	jobID, err := c.strategy.Resume(ctx, c.transport, d.remoteID)
	c.call("resume", err)
	if err != nil {
		return c.fatal("resume", d, err)
	}
	d.jobID = jobID
	c.transition(d, StateResuming)
	return nil
}

// IsResumeComplete polls for the running state. Always true for kinds
// that cannot be suspended.
func (c *Controller) IsResumeComplete(ctx context.Context, d *Descriptor) (bool, error) {
	if err := c.check(d); err != nil {
		return false, err
	}
	if !c.strategy.SupportsSuspend() {
		return true, nil
	}
	switch d.state {
	case StateActive:
		return true, nil
	case StateResuming:
	default:
		return false, c.invalidState(d, "poll resumption of")
	}
	return c.converge(ctx, d, "resume", c.strategy.ResumeComplete, StateActive, false)
}

// Delete issues the remote deletion call.
//
// It is a no-op when the descriptor holds no remote id, is already Deleted,
// or already has a delete in flight. An "in use" conflict yields a
// *RetryLaterError and leaves the state unchanged so the caller can invoke
// Delete again after the wait; once the policy's attempt ceiling is reached
// the result is ErrRetryExhausted together with a *FatalRemoteError. A
// not-found answer counts as success.
func (c *Controller) Delete(ctx context.Context, d *Descriptor) error {
	if err := c.check(d); err != nil {
		return err
	}
	if d.remoteID == "" || d.state == StateDeleted {
		c.log.Debug().Stringer("state", d.state).Msg("delete skipped: no remote object")
		return nil
	}
	if d.state == StateDeleting {
		return nil
	}
	if c.strategy.Delete == nil {
		c.log.Debug().Str("remote_id", d.remoteID).Msg("delete is a no-op for this kind")
		return nil
	}

	jobID, err := c.strategy.Delete(ctx, c.transport, d.remoteID)
	c.call("delete", err)
	if err == nil {
		d.jobID = jobID
		d.deleteAttempts = 0
		d.fallbackUsed = false
		c.transition(d, StateDeleting)
		return nil
	}

	class, coded := c.classify(err)
	switch {
	case coded && class == ClassBenignAbsent:
		c.log.Info().Str("remote_id", d.remoteID).Msg("delete target already absent")
		c.markDeleted(d)
		return nil

	case coded && class == ClassTransientConflict:
		d.deleteAttempts++
		c.metrics.RecordDeleteRetry(c.strategy.Kind.String())
		if c.retry.Exhausted(d.deleteAttempts) {
			attempts := d.deleteAttempts
			d.deleteAttempts = 0
			c.log.Error().Err(err).Str("remote_id", d.remoteID).Int("attempts", attempts).Msg("delete still conflicting, giving up")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, c.fatal("delete", d, err))
		}
		c.log.Info().
			Str("remote_id", d.remoteID).
			Int("attempt", d.deleteAttempts).
			Dur("retry_in", c.retry.Wait).
			Msg("delete deferred: object in use")
		return &RetryLaterError{
			Kind:      c.strategy.Kind,
			Operation: "delete",
			RemoteID:  d.remoteID,
			Attempt:   d.deleteAttempts,
			After:     c.retry.Wait,
			Err:       err,
		}
	}

	c.log.Warn().Err(err).Str("remote_id", d.remoteID).Msg("delete attempt failed")
	return c.fatal("delete", d, err)
}

// IsDeleteComplete issues a convergence query. Absence of the object is
// authoritative: it completes the delete whatever the descriptor's own
// bookkeeping says. Query errors other than absence are returned, not
// retried.
func (c *Controller) IsDeleteComplete(ctx context.Context, d *Descriptor) (bool, error) {
	if err := c.check(d); err != nil {
		return false, err
	}
	if d.state == StateDeleted {
		return true, nil
	}
	if d.remoteID == "" {
		c.markDeleted(d)
		return true, nil
	}

	obs, err := c.Observe(ctx, d.remoteID)
	if err != nil {
		return false, c.queryError("delete", d, err)
	}
	if !obs.Found {
		c.markDeleted(d)
		return true, nil
	}
	if c.strategy.DeleteComplete != nil {
		done, err := c.strategy.DeleteComplete(obs.Snapshot)
		if err != nil {
			return false, c.fatal("delete", d, err)
		}
		if done {
			c.markDeleted(d)
			return true, nil
		}
	}

	if d.jobID == "" {
		return false, nil
	}
	job, err := cloudstack.QueryJob(ctx, c.transport, d.jobID)
	c.call("job", err)
	if err != nil {
		// a purged job record leaves the listing as the only source of truth
		if class, ok := c.classify(err); ok && class == ClassBenignAbsent {
			d.jobID = ""
			return false, nil
		}
		return false, c.queryError("delete", d, err)
	}
	jobErr := job.Err()
	if jobErr == nil {
		if job.Done() {
			d.jobID = ""
		}
		return false, nil
	}

	if c.strategy.DeleteFallback != nil && !d.fallbackUsed {
		jobID, ok, err := c.strategy.DeleteFallback(ctx, c.transport, d.remoteID, job)
		if err != nil {
			c.call("delete", err)
			d.jobID = ""
			c.transition(d, StateFailed)
			return false, c.fatal("delete", d, err)
		}
		if ok {
			c.call("delete", nil)
			c.log.Info().Str("remote_id", d.remoteID).Err(jobErr).Msg("delete job failed, fallback issued")
			d.fallbackUsed = true
			d.jobID = jobID
			return false, nil
		}
	}

	d.jobID = ""
	c.transition(d, StateFailed)
	return false, c.fatal("delete", d, jobErr)
}

// ResolveAttribute returns a named attribute of an Active object from a
// fresh query. Names outside the kind's attribute table fail with
// ErrUnsupportedAttribute before anything is queried.
func (c *Controller) ResolveAttribute(ctx context.Context, d *Descriptor, name string) (string, error) {
	if err := c.check(d); err != nil {
		return "", err
	}
	path, ok := c.strategy.Attributes[name]
	if !ok {
		return "", fmt.Errorf("%w: %s has no attribute %q", ErrUnsupportedAttribute, d.kind, name)
	}
	if d.state != StateActive {
		return "", c.invalidState(d, "resolve attributes of")
	}

	obs, err := c.Observe(ctx, d.remoteID)
	if err != nil {
		return "", c.queryError("resolve", d, err)
	}
	if !obs.Found {
		return "", fmt.Errorf("%w: %s %s", ErrNotFound, d.kind, d.remoteID)
	}
	value := obs.Snapshot.Get(path)
	if !value.Exists() {
		return "", fmt.Errorf("%w: %s %s has no value for %q", ErrNotFound, d.kind, d.remoteID, name)
	}
	return value.String(), nil
}

// Update is not supported: declared parameters are immutable.
func (c *Controller) Update(_ context.Context, d *Descriptor, _ map[string]any) error {
	if err := c.check(d); err != nil {
		return err
	}
	return fmt.Errorf("%w: update of %s", ErrUnsupportedOperation, d.kind)
}

// Observe queries one object by id. A not-found answer is an Observation
// with Found false, not an error.
func (c *Controller) Observe(ctx context.Context, remoteID string) (Observation, error) {
	q := c.strategy.Query
	if q == nil {
		return Observation{}, fmt.Errorf("%w: %s cannot be queried", ErrUnsupportedOperation, c.strategy.Kind)
	}
	if remoteID == "" {
		return Observation{}, fmt.Errorf("%w: %s has no remote id", ErrNotFound, c.strategy.Kind)
	}

	params := url.Values{}
	for k, v := range q.Extra {
		params[k] = v
	}
	params.Set(q.idParam(), remoteID)

	resp, err := c.transport.Do(ctx, cloudstack.Request{Command: q.Command, Params: params})
	c.call("query", err)
	if err != nil {
		if class, ok := c.classify(err); ok && class == ClassBenignAbsent {
			return Observation{}, nil
		}
		return Observation{}, err
	}

	for _, item := range resp.Body.Get(q.ListKey).Array() {
		if q.Filter == nil || q.Filter(item) {
			return Observation{Found: true, Snapshot: item}, nil
		}
	}
	return Observation{}, nil
}

// List returns every object of the kind visible to the caller, across pages.
func (c *Controller) List(ctx context.Context, extra url.Values) ([]gjson.Result, error) {
	q := c.strategy.Query
	if q == nil {
		return nil, fmt.Errorf("%w: %s cannot be listed", ErrUnsupportedOperation, c.strategy.Kind)
	}

	params := url.Values{"listall": {"true"}}
	for _, src := range []url.Values{q.Extra, q.ListExtra, extra} {
		for k, v := range src {
			params[k] = v
		}
	}
	params.Set("pagesize", strconv.Itoa(listPageSize))

	var out []gjson.Result
	for page := 1; ; page++ {
		params.Set("page", strconv.Itoa(page))
		resp, err := c.transport.Do(ctx, cloudstack.Request{Command: q.Command, Params: params})
		c.call("list", err)
		if err != nil {
			return nil, err
		}
		items := resp.Body.Get(q.ListKey).Array()
		for _, item := range items {
			if q.Filter == nil || q.Filter(item) {
				out = append(out, item)
			}
		}
		if len(items) < listPageSize {
			return out, nil
		}
	}
}

// converge runs one poll toward target. When the object is not there yet,
// or not in the desired state, a recorded async job is consulted so that a
// failed job ends the wait instead of leaving the caller polling forever.
func (c *Controller) converge(ctx context.Context, d *Descriptor, op string, done Predicate, target State, failOnFatal bool) (bool, error) {
	obs, err := c.Observe(ctx, d.remoteID)
	if err != nil {
		return c.pollFailure(d, op, err, failOnFatal)
	}
	if obs.Found {
		ok, err := done(obs.Snapshot)
		if err != nil {
			if failOnFatal {
				c.transition(d, StateFailed)
			}
			return false, c.fatal(op, d, err)
		}
		if ok {
			d.jobID = ""
			c.transition(d, target)
			return true, nil
		}
	}

	if d.jobID == "" {
		return false, nil
	}
	job, err := cloudstack.QueryJob(ctx, c.transport, d.jobID)
	c.call("job", err)
	if err != nil {
		if class, ok := c.classify(err); ok && class == ClassBenignAbsent {
			d.jobID = ""
			return false, nil
		}
		return c.pollFailure(d, op, err, failOnFatal)
	}
	if jobErr := job.Err(); jobErr != nil {
		d.jobID = ""
		if failOnFatal {
			c.transition(d, StateFailed)
		}
		return false, c.fatal(op, d, jobErr)
	}
	if job.Done() {
		d.jobID = ""
	}
	return false, nil
}

// pollFailure decides what a failed poll query means. Failures without a
// CloudStack error code (network, timeouts) are returned without touching
// the state so the caller may poll again.
func (c *Controller) pollFailure(d *Descriptor, op string, err error, failOnFatal bool) (bool, error) {
	class, coded := c.classify(err)
	if !coded {
		return false, c.queryError(op, d, err)
	}
	if class != ClassFatal {
		return false, nil
	}
	if failOnFatal {
		c.transition(d, StateFailed)
	}
	return false, c.fatal(op, d, err)
}

func (c *Controller) queryError(op string, d *Descriptor, err error) error {
	if _, coded := cloudstack.APICode(err); coded {
		return c.fatal(op, d, err)
	}
	return fmt.Errorf("%s %s %s: %w", op, d.kind, d.remoteID, err)
}

func (c *Controller) fatal(op string, d *Descriptor, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	var ferr *FatalRemoteError
	if errors.As(err, &ferr) {
		return err
	}
	return &FatalRemoteError{
		Kind:      d.kind,
		Operation: op,
		RemoteID:  d.remoteID,
		Err:       err,
	}
}

// classify returns the class of a remote error. coded is false for failures
// that carry no CloudStack error code.
func (c *Controller) classify(err error) (class ErrorClass, coded bool) {
	code, ok := cloudstack.APICode(err)
	if !ok {
		return ClassFatal, false
	}
	return c.strategy.Errors.Classify(code), true
}

func (c *Controller) check(d *Descriptor) error {
	if d == nil {
		return errors.New("descriptor is nil")
	}
	if d.kind != c.strategy.Kind {
		return fmt.Errorf("%w: %s descriptor, %s controller", ErrKindMismatch, d.kind, c.strategy.Kind)
	}
	return nil
}

func (c *Controller) invalidState(d *Descriptor, action string) error {
	return fmt.Errorf("%w: cannot %s %s in state %s", ErrInvalidState, action, d.kind, d.state)
}

func (c *Controller) transition(d *Descriptor, to State) {
	if d.state == to {
		return
	}
	from := d.state
	d.state = to
	c.metrics.RecordTransition(c.strategy.Kind.String(), from.String(), to.String())
	c.log.Debug().
		Str("remote_id", d.remoteID).
		Stringer("from", from).
		Stringer("to", to).
		Msg("lifecycle transition")
}

func (c *Controller) markDeleted(d *Descriptor) {
	c.transition(d, StateDeleted)
	d.remoteID = ""
	d.jobID = ""
	d.deleteAttempts = 0
	d.fallbackUsed = false
}

func (c *Controller) call(operation string, err error) {
	c.metrics.RecordRemoteCall(c.strategy.Kind.String(), operation, err)
}
