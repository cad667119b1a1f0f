package coproc

import (
	"context"
	"errors"
	"sync"

	"github.com/atrniv/coproc/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	uuid "github.com/satori/go.uuid"
)

// ErrScriptDeregistered is returned for batches handed to a script after it
// produced a Deregister outcome.
var ErrScriptDeregistered = errors.New("coproc: script is deregistered")

// Status is the overall outcome of one batch.
type Status int8

const (
	// StatusAborted means the batch was abandoned, Output is empty. It is the
	// zero value so an unset Result never reads as complete.
	StatusAborted Status = iota
	// StatusComplete means every record was handled; Output is final.
	StatusComplete
	// StatusDeregistered means the batch was abandoned and the script must
	// not be dispatched to again.
	StatusDeregistered
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusAborted:
		return "aborted"
	case StatusDeregistered:
		return "deregistered"
	default:
		return "unknown"
	}
}

// Skipped describes an input record whose output was dropped.
type Skipped struct {
	Offset int64
	Err    *TransformError
}

// Result is what the host receives for one batch.
type Result struct {
	Status Status
	// Output is the encoded output batch. It is non-nil but empty when no
	// record survived, and nil unless Status is StatusComplete.
	Output  []byte
	Records []protocol.Record
	Skipped []Skipped
	// Failure is the transform error that ended the batch early. It is nil
	// when the batch was aborted because its output could not be encoded.
	Failure *TransformError
	// Processed counts input records handled before the batch ended.
	Processed int
}

// Script is one coprocessor instance: a transform plus the state needed to
// drive it. Batches for a script are processed one at a time.
type Script struct {
	ID uuid.UUID

	transform     Transform
	log           zerolog.Logger
	probe         *Probe
	outputCodec   protocol.CompressionCodec
	keepCodec     bool
	level         int
	maxBatchBytes int64

	mu           sync.Mutex
	initialized  bool
	deregistered bool
}

type Option func(*Script)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Script) { s.log = logger }
}

func WithProbe(p *Probe) Option {
	return func(s *Script) { s.probe = p }
}

// WithOutputCompression fixes the codec of output batches. By default the
// input batch's codec is reused.
func WithOutputCompression(codec protocol.CompressionCodec, level int) Option {
	return func(s *Script) {
		s.outputCodec = codec
		s.keepCodec = false
		s.level = level
	}
}

func WithMaxBatchBytes(n int64) Option {
	return func(s *Script) { s.maxBatchBytes = n }
}

func WithID(id uuid.UUID) Option {
	return func(s *Script) { s.ID = id }
}

func NewScript(t Transform, opts ...Option) *Script {
	s := &Script{
		ID:        uuid.NewV4(),
		transform: t,
		log:       log.Logger,
		keepCodec: true,
		level:     protocol.CompressionLevelDefault,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("script_id", s.ID.String()).Logger()
	return s
}

// Deregistered reports whether the script has asked to be removed.
func (s *Script) Deregistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deregistered
}

// ProcessBatch decodes one framed record batch, runs every record through the
// transform and encodes the surviving output. Malformed input is returned as
// an error; transform failures are reported in the Result.
//
// The host enforces time budgets through ctx: once it is done the batch is
// aborted with TransformTimeout before the next record.
func (s *Script) ProcessBatch(ctx context.Context, data []byte) (Result, error) {
	batch, err := protocol.DecodeRecordBatch(data)
	if err != nil {
		s.probe.decodeError()
		s.log.Error().Err(err).Int("size", len(data)).Msg("Rejected malformed record batch")
		return Result{}, err
	}
	return s.ProcessRecordBatch(ctx, batch)
}

// ProcessRecordBatch is ProcessBatch for a batch the host already decoded.
func (s *Script) ProcessRecordBatch(ctx context.Context, batch protocol.RecordBatch) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deregistered {
		return Result{}, ErrScriptDeregistered
	}

	if !s.initialized {
		if err := s.initialize(); err != nil {
			s.log.Error().Err(err).Msg("Transform initialization failed")
			return s.finish(batch, Result{Status: StatusDeregistered, Failure: err}), nil
		}
		s.initialized = true
	}

	result := Result{}
	outputs := []protocol.Record{}
	for _, record := range batch.Records {
		if err := ctx.Err(); err != nil {
			result.Status = StatusAborted
			result.Failure = Classify(err)
			return s.finish(batch, result), nil
		}

		out, failure := s.apply(record)
		if failure != nil {
			switch failure.Action() {
			case ActionSkipRecord:
				s.probe.policy(failure.Category)
				s.log.Warn().
					Err(failure).
					Int64("offset", batch.Offset(record)).
					Int64("timestamp", batch.Timestamp(record)).
					Msg("Transform failed on record, skipping its output")
				result.Skipped = append(result.Skipped, Skipped{Offset: batch.Offset(record), Err: failure})
				result.Processed++
				continue
			case ActionAbortBatch:
				result.Status = StatusAborted
				result.Failure = failure
				return s.finish(batch, result), nil
			case ActionDeregister:
				result.Status = StatusDeregistered
				result.Failure = failure
				return s.finish(batch, result), nil
			}
		}
		outputs = append(outputs, out...)
		result.Processed++
	}

	result.Status = StatusComplete
	if len(outputs) == 0 {
		result.Output = []byte{}
		return s.finish(batch, result), nil
	}

	for index := range outputs {
		outputs[index].OffsetDelta = int64(index)
	}
	data, err := protocol.CreateRecordBatch(outputs, batch.BaseOffset, s.outputAttributes(batch), s.batchOptions(batch)...)
	if err != nil {
		s.log.Error().Err(err).Int64("base_offset", batch.BaseOffset).Int("records", len(outputs)).Msg("Could not encode output batch")
		result.Status = StatusAborted
		result.Output = nil
		return s.finish(batch, result), err
	}
	result.Output = data
	result.Records = outputs
	return s.finish(batch, result), nil
}

func (s *Script) finish(batch protocol.RecordBatch, result Result) Result {
	if result.Failure != nil && result.Status != StatusComplete {
		s.probe.policy(result.Failure.Category)
		event := s.log.Warn()
		if result.Status == StatusDeregistered {
			s.deregistered = true
			event = s.log.Error()
		}
		event.
			Err(result.Failure).
			Str("action", result.Failure.Action().String()).
			Int64("base_offset", batch.BaseOffset).
			Int("processed", result.Processed).
			Msg("Abandoned record batch")
	}
	s.probe.batch(result.Status)
	s.probe.records(result.Processed, len(result.Records))
	s.log.Debug().
		Str("status", result.Status.String()).
		Int64("base_offset", batch.BaseOffset).
		Int64("next_offset", batch.NextOffset()).
		Int("records_in", len(batch.Records)).
		Int("records_out", len(result.Records)).
		Int("skipped", len(result.Skipped)).
		Msg("Processed record batch")
	return result
}

func (s *Script) initialize() (failure *TransformError) {
	initializer, ok := s.transform.(Initializer)
	if !ok {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			failure = recovered(v)
			failure.Category = Deregister
		}
	}()
	if err := initializer.Init(); err != nil {
		return NewTransformError(Deregister, err)
	}
	return nil
}

// apply runs the transform on one record. Panics are recovered and reported
// as TransformThrew so they never escape to the host.
func (s *Script) apply(record protocol.Record) (out []protocol.Record, failure *TransformError) {
	defer func() {
		if v := recover(); v != nil {
			out = nil
			failure = recovered(v)
		}
	}()
	out, err := s.transform.Apply(record)
	if err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

func (s *Script) outputAttributes(batch protocol.RecordBatch) protocol.RecordBatchAttributes {
	codec := s.outputCodec
	if s.keepCodec {
		codec = batch.Attributes.CompressionCodec()
	}
	return protocol.NewRecordBatchAttributes(codec, false, batch.Attributes.TimestampType(), false)
}

func (s *Script) batchOptions(batch protocol.RecordBatch) []protocol.BatchOption {
	opts := []protocol.BatchOption{
		protocol.WithBaseTimestamp(batch.BaseTimestamp),
		protocol.WithCompressionLevel(s.level),
	}
	if s.maxBatchBytes > 0 {
		opts = append(opts, protocol.WithMaxBatchBytes(s.maxBatchBytes))
	}
	return opts
}
