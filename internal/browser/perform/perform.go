// Package perform resolves a perform request against a live page. It tries
// each candidate locator directly and degrades to the AI actor or extractor
// when no candidate works.
package perform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagehand/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Defaults applied when Options leaves a field zero.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// inputValueToken must appear in an action description when an input value
// is handed to the actor.
const inputValueToken = "%inputValue%"

var (
	// ErrUnknownVerb is returned by ApplyAction and ReadValue for verbs outside their set.
	ErrUnknownVerb = errors.New("unknown perform method")
	// ErrEmptyValue means a candidate matched but never produced a non-empty value.
	ErrEmptyValue = errors.New("extraction produced no value")
	// ErrNoCollaborator means a fallback was needed but none is configured.
	ErrNoCollaborator = errors.New("no AI collaborator configured for fallback")
)

// Options tunes a Resolver.
type Options struct {
	// DefaultTimeout bounds one candidate attempt when the request sets none.
	DefaultTimeout time.Duration
	// PollInterval spaces re-reads of extraction verbs.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Resolver implements perform. It is stateless between calls and safe for
// concurrent use when its collaborators are.
type Resolver struct {
	clearer   schemas.OverlayClearer
	actor     schemas.Actor
	extractor schemas.Extractor
	validator schemas.Validator
	opts      Options
	logger    *zap.Logger
}

// New builds a Resolver. clearer, actor and extractor may be nil; a nil
// collaborator turns its fallback into ErrNoCollaborator.
func New(clearer schemas.OverlayClearer, actor schemas.Actor, extractor schemas.Extractor,
	validator schemas.Validator, logger *zap.Logger, opts Options) *Resolver {
	return &Resolver{
		clearer:   clearer,
		actor:     actor,
		extractor: extractor,
		validator: validator,
		opts:      opts.withDefaults(),
		logger:    logger.Named("perform"),
	}
}

// transformError marks a raw value that could not be mapped onto the
// request schema. It skips the remaining candidates.
type transformError struct{ err error }

func (e *transformError) Error() string { return "transforming extracted value: " + e.err.Error() }
func (e *transformError) Unwrap() error { return e.err }

// Perform runs req and reports which path produced the result.
func (r *Resolver) Perform(ctx context.Context, req schemas.PerformRequest) (schemas.PerformResult, error) {
	log := r.logger.With(zap.String("method", string(req.Method)), zap.Int("candidates", len(req.Locators)))

	// 1. Overlays from earlier observations would swallow synthetic clicks.
	if r.clearer != nil {
		if err := r.clearer.ClearOverlays(ctx); err != nil {
			log.Debug("Failed to clear overlays.", zap.Error(err))
		}
	}

	// 2. Verbs outside both sets can only be handled by the actor.
	if !req.Method.IsAction() && !req.Method.IsExtraction() {
		log.Info("Unknown method, falling back to act.")
		return r.fallback(ctx, req)
	}

	// 3. Candidates in order; the first success wins.
	for i, loc := range req.Locators {
		value, err := r.attempt(ctx, loc, req)
		if err == nil {
			log.Debug("Candidate locator succeeded.", zap.Int("index", i), zap.Stringer("locator", loc))
			return schemas.PerformResult{Value: value, Via: schemas.SourceDirect, Locator: i}, nil
		}

		var te *transformError
		if errors.As(err, &te) {
			log.Info("Extracted value did not fit the schema, falling back to extract.",
				zap.Stringer("locator", loc), zap.Error(err))
			return r.fallback(ctx, req)
		}
		log.Debug("Candidate locator failed.", zap.Int("index", i), zap.Stringer("locator", loc), zap.Error(err))

		if ctx.Err() != nil {
			return schemas.PerformResult{}, ctx.Err()
		}
	}

	log.Info("No candidate locator worked, falling back.")
	return r.fallback(ctx, req)
}

// attempt runs req against one candidate under its own timeout.
func (r *Resolver) attempt(ctx context.Context, loc schemas.Locator, req schemas.PerformRequest) (any, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if req.Method.IsAction() {
		return nil, ApplyAction(ctx, loc, req.Method, req.InputValue)
	}

	if req.Schema != nil && req.Transform == nil {
		return nil, schemas.NewUsageError(req.Method, "a schema requires a transform that maps the raw string onto it")
	}

	raw, err := r.poll(ctx, loc, req.Method, req.InputValue)
	if err != nil {
		return nil, err
	}
	if req.Schema == nil {
		return raw, nil
	}

	value, err := req.Transform(raw)
	if err != nil {
		return nil, &transformError{err}
	}
	if r.validator != nil {
		if err := r.validator.Validate(req.Schema, value); err != nil {
			return nil, &transformError{err}
		}
	}
	return value, nil
}

// poll re-reads an extraction verb until it yields a non-empty value or ctx
// ends. allTextContents only waits for a match, then reads once; an empty
// join is a valid result.
func (r *Resolver) poll(ctx context.Context, loc schemas.Locator, verb schemas.Verb, arg *string) (string, error) {
	if verb == schemas.VerbAllTextContents {
		err := r.until(ctx, loc, func() (bool, error) {
			n, err := loc.Count(ctx)
			return n > 0, err
		})
		if err != nil {
			return "", err
		}
		return ReadValue(ctx, loc, verb, arg)
	}

	var value string
	err := r.until(ctx, loc, func() (bool, error) {
		v, err := ReadValue(ctx, loc, verb, arg)
		value = v
		return err == nil && v != "", err
	})
	return value, err
}

// until calls check every poll interval until it reports done or ctx ends.
// A usage error stops the wait at once.
func (r *Resolver) until(ctx context.Context, loc schemas.Locator, check func() (bool, error)) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		done, err := check()
		if done {
			return nil
		}
		var usage *schemas.UsageError
		if errors.As(err, &usage) {
			return err
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ErrEmptyValue
			}
			return fmt.Errorf("%s: %w", loc, lastErr)
		case <-ticker.C:
		}
	}
}

// fallback hands the request to the AI collaborators. Their errors are
// returned unchanged.
func (r *Resolver) fallback(ctx context.Context, req schemas.PerformRequest) (schemas.PerformResult, error) {
	res := schemas.PerformResult{Via: schemas.SourceFallback, Locator: -1}

	if req.Method.IsExtraction() {
		if r.extractor == nil {
			return res, ErrNoCollaborator
		}
		instruction := req.Description
		if instruction == "" {
			instruction = fmt.Sprintf("Extract using %s", req.Method)
		}
		schema := req.Schema
		if schema == nil {
			schema = schemas.DefaultExtractSchema()
		}

		out, err := r.extractor.Extract(ctx, schemas.ExtractRequest{Instruction: instruction, Schema: schema})
		if err != nil {
			return res, err
		}
		if req.Schema != nil {
			res.Value = map[string]any(out)
			return res, nil
		}
		// A missing field leaves Value nil, which callers read as not found.
		res.Value = out[schemas.ExtractionField]
		return res, nil
	}

	// Actions and unknown verbs.
	var vars map[string]string
	if req.InputValue != nil {
		if !strings.Contains(req.Description, inputValueToken) {
			return res, schemas.NewUsageError(req.Method,
				"an input value needs a description containing %s so the actor can substitute it", inputValueToken)
		}
		if *req.InputValue != "" {
			vars = map[string]string{"inputValue": *req.InputValue}
		}
	}
	if r.actor == nil {
		return res, ErrNoCollaborator
	}
	action := req.Description
	if action == "" {
		action = string(req.Method)
	}

	if _, err := r.actor.Act(ctx, schemas.ActRequest{Action: action, Variables: vars}); err != nil {
		return res, err
	}
	return res, nil
}

// -- Typed Helpers --

// Text runs an extraction without a schema and returns its string value.
// found is false when the fallback extractor returned no value.
func Text(ctx context.Context, r *Resolver, req schemas.PerformRequest) (string, bool, error) {
	req.Schema, req.Transform = nil, nil
	res, err := r.Perform(ctx, req)
	if err != nil || res.Value == nil {
		return "", false, err
	}
	if s, ok := res.Value.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(res.Value), true, nil
}

// Extract runs an extraction whose raw string is mapped onto T by transform.
// req.Schema describes T; a fallback result is decoded into T through JSON.
func Extract[T any](ctx context.Context, r *Resolver, req schemas.PerformRequest, transform func(string) (T, error)) (T, bool, error) {
	var zero T
	if req.Schema == nil {
		return zero, false, schemas.NewUsageError(req.Method, "Extract requires a schema")
	}
	req.Transform = func(raw string) (any, error) { return transform(raw) }

	res, err := r.Perform(ctx, req)
	if err != nil || res.Value == nil {
		return zero, false, err
	}
	if v, ok := res.Value.(T); ok {
		return v, true, nil
	}

	b, err := json.Marshal(res.Value)
	if err != nil {
		return zero, false, fmt.Errorf("encoding fallback result: %w", err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, false, fmt.Errorf("decoding fallback result into %T: %w", out, err)
	}
	return out, true, nil
}
