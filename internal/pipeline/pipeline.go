// Package pipeline wires corpus ingestion, index persistence and matcher
// training together and serves per-frame queries.
//
// The trained state is published as one immutable generation behind an
// atomic pointer. Training and persistence happen off the query path; a
// query always sees either the previous generation or the new one, never a
// partial update.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kamusis/posematch/internal/corpus"
	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/matcher"
	"github.com/kamusis/posematch/internal/pose"
	"github.com/kamusis/posematch/internal/snapshot"
)

// Options configures a Pipeline. Persistence is skipped for any of Store or
// MatcherPath left empty.
type Options struct {
	Store       snapshot.Store
	MatcherPath string
	// LockDir, when set, is locked for the duration of every snapshot write.
	LockDir     string
	LockTimeout time.Duration
	Matcher     matcher.Options
	Loader      *corpus.Loader
	Logger      *slog.Logger
}

// QueryResult is the answer to one per-frame query. When Matched is false,
// Label is 0 and Entry is nil. Entry points into an immutable index and must
// not be modified.
type QueryResult struct {
	Matched  bool
	Label    int
	Entry    *pose.Entry
	Distance float64
}

// generation is one trained, published state.
type generation struct {
	index      *pose.Index
	matcher    matcher.Trained
	images     *pose.Images
	snapshotID uuid.UUID
}

// Pipeline is safe for concurrent use: Query may run on the frame loop while
// Initialize, Restore or AppendSample run elsewhere. Mutating operations are
// serialized.
type Pipeline struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	state   atomic.Int32
	current atomic.Pointer[generation]
}

// New returns an untrained pipeline.
func New(opts Options) *Pipeline {
	if opts.Loader == nil {
		opts.Loader = &corpus.Loader{RequireImages: true}
	}
	if opts.Matcher == (matcher.Options{}) {
		opts.Matcher = matcher.DefaultOptions()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.Loader.Logger == nil {
		opts.Loader.Logger = log
	}
	return &Pipeline{opts: opts, log: log}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.log.Info("pipeline state", "from", old.String(), "to", s.String())
	}
}

// Index returns the published pose index, or nil before training succeeds.
func (p *Pipeline) Index() *pose.Index {
	if g := p.current.Load(); g != nil {
		return g.index
	}
	return nil
}

// Images returns the image arena of the published generation, or nil.
func (p *Pipeline) Images() *pose.Images {
	if g := p.current.Load(); g != nil {
		return g.images
	}
	return nil
}

// SnapshotID returns the id of the index snapshot the published matcher was
// trained from (uuid.Nil when nothing was persisted).
func (p *Pipeline) SnapshotID() uuid.UUID {
	if g := p.current.Load(); g != nil {
		return g.snapshotID
	}
	return uuid.Nil
}

// Query returns the pose closest to v. Before training completes, or after it
// failed, the result is unmatched and the error is nil. A malformed vector
// (wrong dimensionality or non-finite values) is an error in every state.
func (p *Pipeline) Query(v feature.Vector) (QueryResult, error) {
	if err := v.Validate(); err != nil {
		return QueryResult{}, fmt.Errorf("invalid query: %w", err)
	}
	g := p.current.Load()
	if g == nil {
		return QueryResult{}, nil
	}
	pred, err := g.matcher.Predict(v)
	if err != nil {
		return QueryResult{}, err
	}
	if !pred.Matched {
		return QueryResult{Distance: pred.Distance}, nil
	}
	e, ok := g.index.Get(pred.Label)
	if !ok {
		return QueryResult{}, fmt.Errorf("matcher returned label %d absent from index", pred.Label)
	}
	return QueryResult{Matched: true, Label: pred.Label, Entry: e, Distance: pred.Distance}, nil
}

// Initialize scans corpusDir, persists the resulting index, trains a matcher,
// persists it and publishes it.
//
// A corpus directory that cannot be read, a cancelled context or a snapshot
// that cannot be written leaves the state and the published generation as
// they were. Only a training failure moves the pipeline to Failed.
func (p *Pipeline) Initialize(ctx context.Context, corpusDir string) (*corpus.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.State()
	p.setState(Training)

	res, err := p.opts.Loader.Load(ctx, corpusDir)
	if err != nil {
		p.setState(prev)
		return nil, err
	}
	if err := p.build(ctx, res.Index); err != nil {
		p.settle(err, prev)
		return res, err
	}
	return res, nil
}

// InitializeAsync runs Initialize in the background. The returned channel
// receives its error (nil on success) and is then closed. Queries issued
// meanwhile return unmatched results.
func (p *Pipeline) InitializeAsync(ctx context.Context, corpusDir string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := p.Initialize(ctx, corpusDir)
		done <- err
	}()
	return done
}

// Restore loads the persisted index and matcher without scanning the corpus.
// A matcher snapshot that is missing, unreadable, trained with other options
// or trained from a different index snapshot is rebuilt from the index.
func (p *Pipeline) Restore(ctx context.Context) error {
	if p.opts.Store == nil {
		return ErrNoStore
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.State()
	p.setState(Training)

	idx, m, err := p.opts.Store.Load(ctx, feature.D)
	if err != nil {
		p.setState(prev)
		return fmt.Errorf("cannot load index snapshot: %w", err)
	}
	id, err := m.ID()
	if err != nil {
		p.setState(prev)
		return fmt.Errorf("cannot load index snapshot: %w", err)
	}

	if p.opts.MatcherPath != "" {
		trained, trainedFrom, err := matcher.Load(p.opts.MatcherPath)
		switch {
		case err != nil:
			p.log.Warn("matcher snapshot unusable, retraining", "path", p.opts.MatcherPath, "err", err)
		case trainedFrom != id:
			p.log.Warn("matcher snapshot is stale, retraining", "trained_from", trainedFrom.String(), "index", id.String())
		case trained.Options() != p.opts.Matcher:
			p.log.Info("matcher options changed, retraining")
		case trained.Len() != idx.Len():
			p.log.Warn("matcher snapshot size differs from index, retraining", "matcher", trained.Len(), "index", idx.Len())
		default:
			p.publish(idx, trained, id)
			return nil
		}
	}

	trained, err := matcher.Train(samplesOf(idx), p.opts.Matcher)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTrainingFailed, err)
		p.fail(err)
		return err
	}
	if err := p.persistMatcher(trained, id); err != nil {
		p.setState(prev)
		return err
	}
	p.publish(idx, trained, id)
	return nil
}

// AppendSample adds a pose to the published index, retrains, persists and
// publishes the result. label 0 selects the next free label; any other value
// must equal it. It returns the label assigned.
//
// The previous generation keeps serving queries until the new one is
// published. If persisting fails nothing changes and the pipeline stays Ready.
func (p *Pipeline) AppendSample(ctx context.Context, label int, v feature.Vector, img pose.ImageRef, tr pose.Transform) (int, error) {
	if err := v.Validate(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != Ready {
		return 0, fmt.Errorf("%w: state is %s", ErrNotReady, p.State())
	}
	g := p.current.Load()
	next := g.index.NextLabel()
	if label != 0 && label != next {
		return 0, fmt.Errorf("%w: got %d, next free label is %d", ErrLabelConflict, label, next)
	}

	p.setState(Training)
	idx, assigned, err := g.index.WithAppended(captureName(img, next), v, img, tr)
	if err != nil {
		p.setState(Ready)
		return 0, err
	}
	if err := p.build(ctx, idx); err != nil {
		p.settle(err, Ready)
		return 0, err
	}
	return assigned, nil
}

// build persists idx, trains a matcher from it, persists the matcher and
// publishes both. The index snapshot is written before training, as the
// dataset is useful on its own; the matcher snapshot only after success.
func (p *Pipeline) build(ctx context.Context, idx *pose.Index) error {
	id := uuid.Nil
	if p.opts.Store != nil {
		unlock, err := p.lock()
		if err != nil {
			return err
		}
		m, err := p.opts.Store.Save(ctx, idx)
		unlock()
		if err != nil {
			return fmt.Errorf("cannot save index snapshot: %w", err)
		}
		if id, err = m.ID(); err != nil {
			return fmt.Errorf("cannot save index snapshot: %w", err)
		}
	}

	trained, err := matcher.Train(samplesOf(idx), p.opts.Matcher)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTrainingFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.persistMatcher(trained, id); err != nil {
		return err
	}
	p.publish(idx, trained, id)
	return nil
}

func (p *Pipeline) persistMatcher(t matcher.Trained, indexID uuid.UUID) error {
	if p.opts.MatcherPath == "" {
		return nil
	}
	unlock, err := p.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if err := matcher.Save(p.opts.MatcherPath, t, indexID); err != nil {
		return fmt.Errorf("cannot save matcher snapshot: %w", err)
	}
	return nil
}

func (p *Pipeline) lock() (func(), error) {
	if p.opts.LockDir == "" {
		return func() {}, nil
	}
	return snapshot.AcquireLock(p.opts.LockDir, p.opts.LockTimeout)
}

func (p *Pipeline) publish(idx *pose.Index, t matcher.Trained, id uuid.UUID) {
	p.current.Store(&generation{index: idx, matcher: t, images: pose.NewImages(idx), snapshotID: id})
	p.setState(Ready)
	p.log.Info("matcher published", "poses", idx.Len(), "algorithm", string(t.Options().Algorithm), "snapshot", id.String())
}

// settle moves the pipeline out of Training after build failed. Training
// failures drop the published generation; anything else (persistence,
// locking, cancellation) leaves it serving under the previous state.
func (p *Pipeline) settle(err error, prev State) {
	if errors.Is(err, ErrTrainingFailed) {
		p.fail(err)
		return
	}
	p.log.Warn("pipeline update abandoned", "err", err)
	p.setState(prev)
}

func (p *Pipeline) fail(err error) {
	p.current.Store(nil)
	p.setState(Failed)
	p.log.Error("pipeline failed", "err", err)
}

func samplesOf(idx *pose.Index) []matcher.Sample {
	out := make([]matcher.Sample, 0, idx.Len())
	for _, e := range idx.Entries() {
		out = append(out, matcher.Sample{Label: e.Label, Features: e.Features})
	}
	return out
}

// captureName names an appended pose after its image file, if any.
func captureName(img pose.ImageRef, label int) string {
	if img.Path != "" {
		base := filepath.Base(img.Path)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return fmt.Sprintf("capture-%d", label)
}
