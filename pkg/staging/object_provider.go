package staging

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ObjectStoreProvider persists staged batches as gzip-compressed JSON lines
// files on a local directory tree. Each stage is a directory, each batch a
// single file named after its stream and sequence number.
type ObjectStoreProvider struct {
	root string

	mu     sync.Mutex
	byRef  map[string]string // batchRef -> file path, per stage key "stageID/batchRef"
	stages map[string]bool
}

// NewObjectStoreProvider creates an object-store staging provider rooted at dir.
func NewObjectStoreProvider(root string) (*ObjectStoreProvider, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "socrata-staging")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Code: CodeStagingUnavailable, Retryable: true, Err: fmt.Errorf("create staging root: %w", err)}
	}
	return &ObjectStoreProvider{
		root:   root,
		byRef:  make(map[string]string),
		stages: make(map[string]bool),
	}, nil
}

func (p *ObjectStoreProvider) ID() string { return ProviderObjectStore }

func (p *ObjectStoreProvider) stageDir(stageID string) string {
	return filepath.Join(p.root, stageID)
}

func (p *ObjectStoreProvider) PutBatch(ctx context.Context, req *PutBatchRequest) (*PutBatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageID := resolveStageID(req.StageRef, req.StageID)
	if stageID == "" {
		stageID = NewStageID()
	}

	dir := p.stageDir(stageID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Code: CodeStagingUnavailable, Retryable: true, Err: fmt.Errorf("create stage dir: %w", err)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages[stageID] = true

	batchSeq := req.BatchSeq
	if batchSeq <= 0 {
		batchSeq = p.countBatchesLocked(stageID)
	}
	batchRef := batchKey(req.Stream, batchSeq)
	path := filepath.Join(dir, batchRef+".jsonl.gz")

	f, err := os.Create(path)
	if err != nil {
		return nil, &Error{Code: CodeStagingUnavailable, Retryable: true, Err: fmt.Errorf("create batch file: %w", err)}
	}
	if err := writeJSONLines(f, req.Records, true); err != nil {
		f.Close()
		return nil, fmt.Errorf("write batch %s: %w", batchRef, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close batch %s: %w", batchRef, err)
	}

	info, err := os.Stat(path)
	var size int64
	if err == nil {
		size = info.Size()
	}

	p.byRef[stageID+"/"+batchRef] = path

	return &PutBatchResult{
		StageRef: MakeStageRef(p.ID(), stageID),
		BatchRef: batchRef,
		Stats: BatchStats{
			Records: len(req.Records),
			Bytes:   size,
		},
	}, nil
}

func (p *ObjectStoreProvider) countBatchesLocked(stageID string) int {
	prefix := stageID + "/"
	n := 0
	for key := range p.byRef {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

func (p *ObjectStoreProvider) ListBatches(ctx context.Context, stageRef string, stream string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := ParseStageRef(stageRef)

	entries, err := os.ReadDir(p.stageDir(stageID))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list stage %s: %w", stageID, err)
	}

	refs := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl.gz") {
			continue
		}
		ref := strings.TrimSuffix(name, ".jsonl.gz")
		if stream != "" && !strings.HasPrefix(ref, stream+"-") {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

func (p *ObjectStoreProvider) GetBatch(ctx context.Context, stageRef string, batchRef string) ([]RecordEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := ParseStageRef(stageRef)

	path := filepath.Join(p.stageDir(stageID), batchRef+".jsonl.gz")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch %s: %w", batchRef, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open batch %s: %w", batchRef, err)
	}
	defer gz.Close()

	records, err := readJSONLines(gz)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", batchRef, err)
	}
	return records, nil
}

func (p *ObjectStoreProvider) FinalizeStage(ctx context.Context, stageRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, stageID := ParseStageRef(stageRef)

	p.mu.Lock()
	prefix := stageID + "/"
	for key := range p.byRef {
		if strings.HasPrefix(key, prefix) {
			delete(p.byRef, key)
		}
	}
	delete(p.stages, stageID)
	p.mu.Unlock()

	if err := os.RemoveAll(p.stageDir(stageID)); err != nil {
		return fmt.Errorf("remove stage %s: %w", stageID, err)
	}
	return nil
}
