// Package orchestration drives end-to-end sync runs: discovery, per-stream
// incremental extraction, staging, sink writes, and bookmark advancement.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nucleus/socrata-core/internal/connector/socrata"
	"github.com/nucleus/socrata-core/internal/endpoint"
	"github.com/nucleus/socrata-core/internal/state"
	"github.com/nucleus/socrata-core/pkg/staging"
)

const defaultBatchSize = 5000

// Stream sync statuses reported in run summaries.
const (
	StatusSynced  = "synced"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// RunnerConfig tunes a sync run.
type RunnerConfig struct {
	// BatchSize is the number of records staged per batch.
	BatchSize int

	// LoadDate partitions sink artifacts (defaults to today, UTC).
	LoadDate string

	// StagingProvider selects a preferred staging backend by ID.
	StagingProvider string

	// Streams restricts the run to the named streams (by stream name or
	// dataset id). Empty means all discovered streams.
	Streams []string
}

// StreamSummary reports the outcome of one stream's sync.
type StreamSummary struct {
	Stream    string
	DatasetID string
	Status    string
	Records   int64
	Watermark string
	SinkPath  string
	Error     string
}

// RunSummary reports the outcome of a whole run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Streams    []StreamSummary
}

// Failed returns the number of streams that failed during the run.
func (s *RunSummary) Failed() int {
	n := 0
	for _, st := range s.Streams {
		if st.Status == StatusFailed {
			n++
		}
	}
	return n
}

// SyncRunner executes discovery-to-sink replication runs. A stream failure
// is recorded in the summary and never aborts the remaining streams.
type SyncRunner struct {
	source  *socrata.Socrata
	sink    endpoint.SinkEndpoint
	store   state.Store
	staging *staging.Registry
	cfg     RunnerConfig

	// Logf receives run progress lines. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// NewSyncRunner wires a runner from its collaborators.
func NewSyncRunner(source *socrata.Socrata, sink endpoint.SinkEndpoint, store state.Store, stagingReg *staging.Registry, cfg RunnerConfig) *SyncRunner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LoadDate == "" {
		cfg.LoadDate = time.Now().UTC().Format("2006-01-02")
	}
	if stagingReg == nil {
		stagingReg = DefaultStagingRegistry()
	}
	return &SyncRunner{
		source:  source,
		sink:    sink,
		store:   store,
		staging: stagingReg,
		cfg:     cfg,
		Logf:    log.Printf,
	}
}

// Run discovers streams and syncs each one.
func (r *SyncRunner) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	specs, err := r.source.DiscoverStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover streams: %w", err)
	}
	r.Logf("run %s: discovered %d streams", summary.RunID, len(specs))

	for _, spec := range specs {
		if !r.selected(spec) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		st := r.syncStream(ctx, summary.RunID, spec)
		summary.Streams = append(summary.Streams, st)
		switch st.Status {
		case StatusFailed:
			r.Logf("run %s: stream %s failed: %s", summary.RunID, st.Stream, st.Error)
		case StatusSkipped:
			r.Logf("run %s: stream %s up to date, skipped", summary.RunID, st.Stream)
		default:
			r.Logf("run %s: stream %s synced %d records", summary.RunID, st.Stream, st.Records)
		}
	}

	summary.FinishedAt = time.Now().UTC()
	return summary, nil
}

func (r *SyncRunner) selected(spec *socrata.StreamSpec) bool {
	if len(r.cfg.Streams) == 0 {
		return true
	}
	for _, name := range r.cfg.Streams {
		if name == spec.Name || name == spec.DatasetID {
			return true
		}
	}
	return false
}

func (r *SyncRunner) syncStream(ctx context.Context, runID string, spec *socrata.StreamSpec) StreamSummary {
	st := StreamSummary{
		Stream:    spec.Name,
		DatasetID: spec.DatasetID,
		Status:    StatusSynced,
	}
	if spec.DataUpdatedAt != nil {
		st.Watermark = socrata.FormatWatermark(*spec.DataUpdatedAt)
	}

	fail := func(err error) StreamSummary {
		st.Status = StatusFailed
		st.Error = err.Error()
		return st
	}

	bookmark, err := r.store.Get(ctx, spec.Name)
	if err != nil {
		return fail(fmt.Errorf("read bookmark: %w", err))
	}

	req := &endpoint.ReadRequest{DatasetID: spec.DatasetID}
	if bookmark != nil {
		req.Checkpoint = &endpoint.Checkpoint{
			Watermark: socrata.FormatWatermark(bookmark.Watermark),
		}
	}

	it, err := r.source.Read(ctx, req)
	if err != nil {
		return fail(fmt.Errorf("open stream: %w", err))
	}
	defer it.Close()

	var provider staging.Provider
	stageRef := ""
	var batchRefs []string
	batch := make([]staging.RecordEnvelope, 0, r.cfg.BatchSize)
	seq := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if provider == nil {
			p, selErr := r.staging.SelectProvider(r.cfg.StagingProvider, staging.EstimateBatchBytes(batch), 0)
			if selErr != nil {
				return selErr
			}
			provider = p
		}
		put := &staging.PutBatchRequest{
			StageRef: stageRef,
			Stream:   spec.Name,
			BatchSeq: seq,
			Records:  batch,
		}
		res, putErr := provider.PutBatch(ctx, put)
		// A stream can outgrow the in-memory byte cap mid-sync: move the
		// stage onto object staging and carry on there.
		if isStageTooLarge(putErr) && provider.ID() != staging.ProviderObjectStore {
			moved, movedRef, movedRefs, moveErr := r.restageToObject(ctx, spec.Name, provider, stageRef, batchRefs)
			if moveErr != nil {
				return fmt.Errorf("stage batch %d: %w", seq, putErr)
			}
			r.Logf("stream %s: stage outgrew %s staging, moved to %s", spec.Name, provider.ID(), moved.ID())
			provider, stageRef, batchRefs = moved, movedRef, movedRefs
			put.StageRef = stageRef
			res, putErr = provider.PutBatch(ctx, put)
		}
		if putErr != nil {
			return fmt.Errorf("stage batch %d: %w", seq, putErr)
		}
		stageRef = res.StageRef
		batchRefs = append(batchRefs, res.BatchRef)
		seq++
		batch = batch[:0]
		return nil
	}

	observedAt := time.Now().UTC().Format(time.RFC3339)
	for it.Next() {
		rec := it.Value()
		wm, _ := rec[socrata.ReplicationKey].(string)
		batch = append(batch, staging.RecordEnvelope{
			Stream:     spec.Name,
			DatasetID:  spec.DatasetID,
			Domain:     spec.Domain,
			Watermark:  wm,
			Payload:    rec,
			ObservedAt: observedAt,
		})
		st.Records++
		if len(batch) >= r.cfg.BatchSize {
			if err := flush(); err != nil {
				return fail(err)
			}
		}
	}
	if err := it.Err(); err != nil {
		return fail(fmt.Errorf("read stream: %w", err))
	}
	if err := flush(); err != nil {
		return fail(err)
	}

	if skipper, ok := it.(interface{ Skipped() bool }); ok && skipper.Skipped() {
		st.Status = StatusSkipped
		return st
	}

	if len(batchRefs) > 0 {
		path, err := r.writeToSink(ctx, runID, spec, provider, stageRef, batchRefs)
		if err != nil {
			return fail(err)
		}
		st.SinkPath = path

		if err := provider.FinalizeStage(ctx, stageRef); err != nil {
			r.Logf("run %s: finalize stage for %s: %v", runID, spec.Name, err)
		}
	}

	// The bookmark advances to the catalog watermark only after the whole
	// stream lands in the sink.
	if spec.DataUpdatedAt != nil {
		if err := r.store.Set(ctx, &state.Bookmark{
			Stream:    spec.Name,
			Watermark: *spec.DataUpdatedAt,
			SyncedAt:  time.Now().UTC(),
		}); err != nil {
			return fail(fmt.Errorf("advance bookmark: %w", err))
		}
	}
	return st
}

// stagedSink is the stage-drain capability of a sink endpoint.
type stagedSink interface {
	WriteFromStage(ctx context.Context, provider staging.Provider, req *endpoint.StageWriteRequest) (*endpoint.SinkResult, error)
}

// writeToSink drains the staged stream into the sink.
func (r *SyncRunner) writeToSink(ctx context.Context, runID string, spec *socrata.StreamSpec, provider staging.Provider, stageRef string, batchRefs []string) (string, error) {
	drain, ok := r.sink.(stagedSink)
	if !ok {
		return "", fmt.Errorf("sink %s does not support staged writes", r.sink.ID())
	}

	schema := spec.SinkSchema()
	if err := r.sink.Provision(ctx, spec.Name, schema); err != nil {
		return "", fmt.Errorf("provision sink: %w", err)
	}

	res, err := drain.WriteFromStage(ctx, provider, &endpoint.StageWriteRequest{
		StageRef:  stageRef,
		BatchRefs: batchRefs,
		RunID:     runID,
		LoadDate:  r.cfg.LoadDate,
		Schema:    schema,
	})
	if err != nil {
		return "", fmt.Errorf("write staged batches: %w", err)
	}

	var lastPath string
	if n := len(res.Objects); n > 0 {
		lastPath = res.Objects[n-1]
	}

	final, err := r.sink.Finalize(ctx, spec.Name, r.cfg.LoadDate)
	if err != nil {
		return "", fmt.Errorf("finalize sink: %w", err)
	}
	if final != nil && final.FinalPath != "" {
		return final.FinalPath, nil
	}
	return lastPath, nil
}

func isStageTooLarge(err error) bool {
	var serr *staging.Error
	return errors.As(err, &serr) && serr.Code == staging.CodeStageTooLarge
}

// restageToObject moves an overflowed stage onto object-store staging so the
// stream keeps syncing past the in-memory byte cap. The source stage is
// finalized once every batch has been copied.
func (r *SyncRunner) restageToObject(ctx context.Context, stream string, from staging.Provider, stageRef string, batchRefs []string) (staging.Provider, string, []string, error) {
	obj, ok := r.staging.Get(staging.ProviderObjectStore)
	if !ok {
		return nil, "", nil, &staging.Error{
			Code: staging.CodeStagingUnavailable,
			Err:  fmt.Errorf("object-store staging not registered"),
		}
	}

	newRef := ""
	newRefs := make([]string, 0, len(batchRefs))
	for i, ref := range batchRefs {
		envs, err := from.GetBatch(ctx, stageRef, ref)
		if err != nil {
			return nil, "", nil, fmt.Errorf("restage batch %s: %w", ref, err)
		}
		res, err := obj.PutBatch(ctx, &staging.PutBatchRequest{
			StageRef: newRef,
			Stream:   stream,
			BatchSeq: i,
			Records:  envs,
		})
		if err != nil {
			return nil, "", nil, fmt.Errorf("restage batch %s: %w", ref, err)
		}
		newRef = res.StageRef
		newRefs = append(newRefs, res.BatchRef)
	}

	if stageRef != "" {
		if err := from.FinalizeStage(ctx, stageRef); err != nil {
			r.Logf("restage: finalize overflowed stage %s: %v", stageRef, err)
		}
	}
	return obj, newRef, newRefs, nil
}
