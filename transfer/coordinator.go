// Package transfer moves predicate-selected documents between containers.
//
// A Coordinator only excludes concurrent transfers of the identical
// (source, destination) pair within its own instance. Transfers of distinct
// pairs that share a path, and other processes or instances writing the same
// paths, are not coordinated: callers running several instances against the
// same store own that risk. Conflicting writes still surface as revision
// conflicts from the store.
package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/breez/data-store/codec"
	"github.com/breez/data-store/metrics"
	"github.com/breez/data-store/queue"
	"github.com/breez/data-store/store"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Predicate selects documents. It must not modify the document.
type Predicate func(codec.Document) bool

type Options struct {
	// Transform runs on each matching document, in order, before any
	// conversion.
	Transform func(codec.Document) codec.Document
	// Conversion re-encodes the moved documents. Its Filter must be nil: the
	// predicate already selects what moves.
	Conversion *codec.ConvertOptions
	Message    string
}

type Coordinator struct {
	storage store.ContentStorage
	queue   *queue.WriteQueue
	codecs  *codec.Registry
	logger  zerolog.Logger
	metrics *metrics.Metrics
	locks   *lockTable
}

type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(storage store.ContentStorage, q *queue.WriteQueue, codecs *codec.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		storage: storage,
		queue:   q,
		codecs:  codecs,
		logger:  zerolog.Nop(),
		locks:   newLockTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type side struct {
	path string
	read store.ReadResult
	err  error
	docs []codec.Document
}

// pendingWrite is one half of a transfer commit.
type pendingWrite struct {
	path     string
	content  []byte
	existed  bool
	revision string
}

func (w pendingWrite) queueWrite(message string) queue.Write {
	return queue.Write{
		Path:    w.path,
		Content: w.content,
		Message: message,
		Expect:  &queue.Expectation{Exists: w.existed, Revision: w.revision},
	}
}

// Partition splits docs into those the predicate selects and the rest,
// keeping their order.
func Partition(docs []codec.Document, predicate Predicate) (matching, remaining []codec.Document) {
	matching = []codec.Document{}
	remaining = []codec.Document{}
	for _, d := range docs {
		if predicate(d) {
			matching = append(matching, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	return matching, remaining
}

func (c *Coordinator) Transfer(ctx context.Context, sourcePath, destPath string, predicate Predicate, opts Options) error {
	sourcePath = store.NormalizePath(sourcePath)
	destPath = store.NormalizePath(destPath)
	if err := validatePair(sourcePath, destPath); err != nil {
		return err
	}
	if predicate == nil {
		return fmt.Errorf("%w: predicate is required", ErrInvalidArgument)
	}
	if opts.Conversion != nil && opts.Conversion.Filter != nil {
		return fmt.Errorf("%w: conversion filter is not allowed in a transfer, use the predicate", ErrInvalidArgument)
	}

	key := pairKey{source: sourcePath, dest: destPath}
	owner, ok := c.locks.tryAcquire(key)
	if !ok {
		c.metrics.TransferDone("in_progress")
		return fmt.Errorf("%w: %v -> %v", ErrTransferInProgress, sourcePath, destPath)
	}
	defer c.locks.release(key)

	logger := c.logger.With().
		Str("transfer", owner).
		Str("source", sourcePath).
		Str("destination", destPath).
		Logger()
	outcome, err := c.transfer(ctx, logger, sourcePath, destPath, predicate, opts)
	c.metrics.TransferDone(outcome)
	return err
}

func (c *Coordinator) transfer(ctx context.Context, logger zerolog.Logger, sourcePath, destPath string, predicate Predicate, opts Options) (string, error) {
	var sourceFormat, targetFormat string
	if opts.Conversion != nil {
		sourceFormat, targetFormat = opts.Conversion.SourceFormat, opts.Conversion.TargetFormat
	}
	srcCodec, err := c.codecs.Resolve(sourceFormat, sourcePath)
	if err != nil {
		return "failed", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	dstCodec, err := c.codecs.Resolve(targetFormat, destPath)
	if err != nil {
		return "failed", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	sides := c.fetch(ctx, sourcePath, destPath)
	src, dst := sides[0], sides[1]
	for _, s := range sides {
		if s.err != nil {
			logger.Warn().Err(s.err).Str("path", s.path).Msg("unreadable, treating it as empty")
		}
	}
	if !src.read.Found && !dst.read.Found {
		if src.err != nil {
			return "not_found", fmt.Errorf("%w: %v: %v", ErrSourceNotFound, sourcePath, src.err)
		}
		return "not_found", fmt.Errorf("%w: %v", ErrSourceNotFound, sourcePath)
	}
	if err := parseSide(&src, srcCodec); err != nil {
		return "failed", err
	}
	if err := parseSide(&dst, dstCodec); err != nil {
		return "failed", err
	}

	matching, remaining := Partition(src.docs, predicate)
	if len(matching) == 0 {
		logger.Debug().Int("documents", len(src.docs)).Msg("no document matches, nothing to transfer")
		return "noop", nil
	}

	moved := make([]codec.Document, 0, len(matching))
	for _, d := range matching {
		d = d.Clone()
		if opts.Transform != nil {
			if d = opts.Transform(d); d == nil {
				d = codec.Document{}
			}
		}
		moved = append(moved, d)
	}
	if opts.Conversion != nil {
		moved = codec.ApplyPipeline(moved, codec.ConvertOptions{
			Transform:      opts.Conversion.Transform,
			FieldMap:       opts.Conversion.FieldMap,
			TimestampField: opts.Conversion.TimestampField,
			Now:            opts.Conversion.Now,
		})
	}

	destDocs := make([]codec.Document, 0, len(dst.docs)+len(moved))
	destDocs = append(append(destDocs, dst.docs...), moved...)
	destContent, err := dstCodec.Serialize(destDocs)
	if err != nil {
		return "failed", fmt.Errorf("failed to serialize destination %v: %w", destPath, err)
	}
	sourceContent, err := srcCodec.Serialize(remaining)
	if err != nil {
		return "failed", fmt.Errorf("failed to serialize source %v: %w", sourcePath, err)
	}

	steps, err := commitSteps(
		pendingWrite{path: sourcePath, content: sourceContent, existed: src.read.Found, revision: src.read.Revision},
		pendingWrite{path: destPath, content: destContent, existed: dst.read.Found, revision: dst.read.Revision},
	)
	if err != nil {
		return "not_found", err
	}

	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("transfer %d documents from %v to %v", len(moved), sourcePath, destPath)
	}
	if _, err := c.queue.Submit(ctx, steps[0].queueWrite(message)).Wait(); err != nil {
		logger.Warn().Err(err).Str("path", steps[0].path).Msg("first transfer write failed, second write not attempted")
		return "failed", fmt.Errorf("failed to write %v: %w", steps[0].path, err)
	}
	if _, err := c.queue.Submit(ctx, steps[1].queueWrite(message)).Wait(); err != nil {
		logger.Error().Err(err).
			Str("committed", steps[0].path).
			Str("failed", steps[1].path).
			Int("documents", len(moved)).
			Msg("transfer partially committed, source and destination are inconsistent")
		return "partial", &PartialCommitError{Committed: steps[0].path, Failed: steps[1].path, Err: err}
	}
	logger.Info().Int("documents", len(moved)).Msg("transfer committed")
	return "committed", nil
}

// commitSteps orders the two writes of a transfer from which sides existed
// when they were read. Transfer never reaches the missing-source branch, since
// an absent source has no matches; it stays so every combination in the commit
// table has an order.
func commitSteps(source, dest pendingWrite) ([2]pendingWrite, error) {
	switch {
	case source.existed:
		// update or create the destination, then update the source
		return [2]pendingWrite{dest, source}, nil
	case dest.existed:
		// the source vanished: recreate it, then update the destination
		return [2]pendingWrite{source, dest}, nil
	default:
		return [2]pendingWrite{}, fmt.Errorf("%w: %v", ErrSourceNotFound, source.path)
	}
}

// ConvertFormat re-encodes the source container into a new destination. It
// takes no lock and fails if the destination exists.
func (c *Coordinator) ConvertFormat(ctx context.Context, sourcePath, destPath string, opts codec.ConvertOptions) error {
	sourcePath = store.NormalizePath(sourcePath)
	destPath = store.NormalizePath(destPath)
	if err := validatePair(sourcePath, destPath); err != nil {
		return err
	}

	res, err := c.storage.Read(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("failed to read source %v: %w", sourcePath, err)
	}
	if !res.Found {
		return fmt.Errorf("%w: %v", ErrSourceNotFound, sourcePath)
	}
	from, err := c.codecs.Resolve(opts.SourceFormat, sourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	to, err := c.codecs.Resolve(opts.TargetFormat, destPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	content, err := c.codecs.ConvertContent(res.Content, from, to, opts)
	if err != nil {
		return fmt.Errorf("failed to convert %v: %w", sourcePath, err)
	}

	message := fmt.Sprintf("convert %v (%s) to %v (%s)", sourcePath, from.Name(), destPath, to.Name())
	_, err = c.queue.Submit(ctx, queue.Write{
		Path:    destPath,
		Content: content,
		Message: message,
		Expect:  &queue.Expectation{},
	}).Wait()
	if err != nil {
		return fmt.Errorf("failed to create %v: %w", destPath, err)
	}
	c.logger.Info().Str("source", sourcePath).Str("destination", destPath).Msg("format converted")
	return nil
}

// VerifyConsistency reports whether no source document matches the
// predicate any more. It is advisory and repairs nothing.
func (c *Coordinator) VerifyConsistency(ctx context.Context, sourcePath, destPath string, predicate Predicate) (bool, error) {
	sourcePath = store.NormalizePath(sourcePath)
	destPath = store.NormalizePath(destPath)
	if err := validatePair(sourcePath, destPath); err != nil {
		return false, err
	}
	if predicate == nil {
		return false, fmt.Errorf("%w: predicate is required", ErrInvalidArgument)
	}

	sides := c.fetch(ctx, sourcePath, destPath)
	var result *multierror.Error
	for _, s := range sides {
		if s.err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to read %v: %w", s.path, s.err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return false, err
	}
	src, dst := sides[0], sides[1]
	if err := parseSide(&src, c.codecs.ForPath(sourcePath)); err != nil {
		return false, err
	}
	if err := parseSide(&dst, c.codecs.ForPath(destPath)); err != nil {
		return false, err
	}
	matching, _ := Partition(src.docs, predicate)
	return len(matching) == 0, nil
}

// fetch reads every path concurrently. Each side keeps its own outcome.
func (c *Coordinator) fetch(ctx context.Context, paths ...string) []side {
	sides := make([]side, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			res, err := c.storage.Read(ctx, p)
			sides[i] = side{path: p, read: res, err: err}
		}(i, p)
	}
	wg.Wait()
	return sides
}

func parseSide(s *side, cd codec.Codec) error {
	s.docs = []codec.Document{}
	if s.err != nil || !s.read.Found {
		return nil
	}
	docs, err := cd.Parse(s.read.Content)
	if err != nil {
		return fmt.Errorf("failed to parse %v: %w", s.path, err)
	}
	s.docs = docs
	return nil
}

func validatePair(sourcePath, destPath string) error {
	if sourcePath == "" || destPath == "" {
		return fmt.Errorf("%w: source and destination paths are required", ErrInvalidArgument)
	}
	if sourcePath == destPath {
		return fmt.Errorf("%w: source and destination are the same path %v", ErrInvalidArgument, sourcePath)
	}
	return nil
}
