package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/vk/pagirun/internal/checkpoint"
	"github.com/vk/pagirun/internal/classifier"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/ctxlog"
	"github.com/vk/pagirun/internal/dataset"
	"github.com/vk/pagirun/internal/executor"
	"github.com/vk/pagirun/internal/scope"
	"github.com/vk/pagirun/internal/session"
	"github.com/vk/pagirun/internal/summary"
	"github.com/vk/pagirun/internal/tracking"
)

// Default is the standard train and evaluate workflow.
type Default struct {
	deps       Deps
	settings   Settings
	export     exportSettings
	classifier classifier.Options
	batchSize  int
	// classifierInterval is interval_batches of the classifier options.
	classifierInterval int

	state atomic.Int32
	batch atomic.Int64
}

var _ Workflow = (*Default)(nil)

// New validates deps and decodes the option sets. Nothing is built until
// Run.
func New(deps Deps) (Workflow, error) {
	switch {
	case deps.Factory == nil:
		return nil, errors.New("workflow: a session factory is required")
	case deps.Dataset == nil:
		return nil, errors.New("workflow: a dataset is required")
	case deps.Component == nil:
		return nil, errors.New("workflow: a component constructor is required")
	case deps.Options == nil || deps.Export == nil || deps.Classifier == nil:
		return nil, errors.New("workflow: workflow, export and classifier options are required")
	}

	w := &Default{deps: deps}
	var err error
	if w.settings, err = decodeSettings(deps.Options); err != nil {
		return nil, err
	}
	if w.export, err = decodeExport(deps.Export); err != nil {
		return nil, err
	}
	if w.classifier, err = classifier.OptionsFrom(deps.Classifier, deps.Seed); err != nil {
		return nil, fmt.Errorf("classifier options: %w", err)
	}
	if w.batchSize, err = batchSize(deps.HParams); err != nil {
		return nil, err
	}
	w.classifierInterval = deps.Classifier.Int("interval_batches")
	if w.classifierInterval < 1 {
		return nil, fmt.Errorf("classifier options: interval_batches must be positive, got %d", w.classifierInterval)
	}
	if w.deps.Store == nil {
		w.deps.Store = checkpoint.NewFileStore()
	}
	if w.deps.Tracker == nil {
		w.deps.Tracker = tracking.Noop{}
	}
	return w, nil
}

// State implements Workflow.
func (w *Default) State() State { return State(w.state.Load()) }

// Batch returns the 1-based index of the batch in progress, or 0 before the
// first batch.
func (w *Default) Batch() int { return int(w.batch.Load()) }

func (w *Default) setState(s State) { w.state.Store(int32(s)) }

// EvaluateInterval returns the interval between Encoding steps.
func (w *Default) EvaluateInterval() int {
	if w.settings.EvaluateInterval > 0 {
		return w.settings.EvaluateInterval
	}
	return w.classifierInterval
}

// run is the state of one Run call.
type run struct {
	sess     session.Session
	coord    *executor.Coordinator
	feeder   *dataset.Feeder
	comp     component.Component
	comps    []component.Component
	writers  map[component.BatchType]summary.Writer
	tracker  tracking.Tracker
	codes    [][]float64
	labels   []int
	exported int
}

// Run implements Workflow. The session is closed when Run returns, whether
// or not the run succeeded.
func (w *Default) Run(ctx context.Context, batches int) (err error) {
	ctx, logger := ctxlog.With(ctx, "workflow", Name, "component", w.deps.ComponentName)
	if batches < 1 {
		return fmt.Errorf("batches must be positive, got %d", batches)
	}

	w.setState(Initializing)
	w.batch.Store(0)
	defer w.setState(Finished)

	r, err := w.initialize(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx := context.WithoutCancel(ctx)
		for bt, sw := range r.writers {
			if cerr := sw.Close(); cerr != nil {
				logger.Warn("Closing summary writer failed.", "batch_type", bt, "error", cerr)
			}
		}
		if cerr := r.sess.Close(closeCtx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing session: %w", cerr))
		}
		logger.Debug("Session released.")
	}()

	logger.Info("🚀 Starting run.",
		"batches", batches,
		"train", w.settings.Train,
		"evaluate", w.settings.Evaluate,
		"evaluate_interval", w.EvaluateInterval(),
		"export_interval", w.export.Interval,
	)

	for batch := 1; batch <= batches; batch++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run cancelled.", "completed_batches", batch-1)
			return fmt.Errorf("stopped before batch %d: %w", batch, err)
		}
		w.batch.Store(int64(batch))

		if w.settings.Train {
			w.setState(Training)
			if err := w.train(ctx, r, batch); err != nil {
				return err
			}
		}
		if w.settings.Evaluate && batch%w.EvaluateInterval() == 0 {
			w.setState(Evaluating)
			if err := w.evaluate(ctx, r, batch); err != nil {
				return err
			}
		}
		if batch%w.export.Interval == 0 {
			w.setState(Checkpointing)
			w.exportArtifacts(ctx, r, batch)
		}
	}

	logger.Info("🏁 Run finished.", "batches", batches, "exports", r.exported)
	return nil
}

// initialize builds the graph and the components, opens the session and
// applies the checkpoint options.
func (w *Default) initialize(ctx context.Context) (*run, error) {
	logger := ctxlog.FromContext(ctx)
	ds := w.deps.Dataset

	g := session.NewGraph()
	input := g.Placeholder("input")
	comp, err := w.deps.Component(component.Params{
		Graph:      g,
		Input:      input,
		InputShape: ds.Shape(),
		HParams:    w.deps.HParams,
		Checkpoint: w.deps.Checkpoint,
		Rand:       rand.New(rand.NewPCG(w.deps.Seed, w.deps.Seed^0x2545f4914f6cdd1d)),
	})
	if err != nil {
		return nil, fmt.Errorf("creating component %q: %w", w.deps.ComponentName, err)
	}
	bs := w.batchSize
	feeder := dataset.NewFeeder(input, ds, bs, bs)
	logger.Debug("Graph built.", "nodes", len(g.Nodes()), "batch_size", bs, "dataset", ds.Name())

	sess, err := w.deps.Factory.NewSession(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	r := &run{
		sess:    sess,
		coord:   executor.New(sess),
		feeder:  feeder,
		comp:    comp,
		comps:   []component.Component{feeder, comp},
		writers: make(map[component.BatchType]summary.Writer),
		tracker: w.deps.Tracker,
	}

	fail := func(err error) (*run, error) {
		_ = sess.Close(context.WithoutCancel(ctx))
		for _, sw := range r.writers {
			_ = sw.Close()
		}
		return nil, err
	}

	if err := w.applyCheckpoint(ctx, sess); err != nil {
		return fail(err)
	}
	for _, c := range r.comps {
		c.Reset()
	}
	if err := w.openSummaries(ctx, r); err != nil {
		return fail(err)
	}
	return r, nil
}

func (w *Default) applyCheckpoint(ctx context.Context, sess session.Session) error {
	logger := ctxlog.FromContext(ctx)
	opts := w.deps.Checkpoint

	if opts.Path != "" {
		scopes, err := scope.ParseList(opts.LoadScope)
		if err != nil {
			return fmt.Errorf("%w: checkpoint_load_scope: %w", checkpoint.ErrRestore, err)
		}
		if _, err := checkpoint.Restore(ctx, w.deps.Store, sess, opts.Path, scopes); err != nil {
			return err
		}
	}
	if opts.FrozenScope != "" {
		scopes, err := scope.ParseList(opts.FrozenScope)
		if err != nil {
			return fmt.Errorf("checkpoint_frozen_scope: %w", err)
		}
		frozen := sess.Freeze(scopes)
		logger.Info("Froze variables.", "scopes", scopes.String(), "variables", frozen)
	}
	return nil
}

func (w *Default) openSummaries(ctx context.Context, r *run) error {
	if !w.deps.Summarize {
		return nil
	}
	var types []component.BatchType
	if w.settings.Train {
		types = append(types, component.Training)
	}
	if w.settings.Evaluate {
		types = append(types, component.Encoding)
	}
	for _, bt := range types {
		var sw summary.Writer = summary.Discard
		if w.deps.SummaryDir != "" {
			fw, err := summary.NewFileWriter(w.deps.SummaryDir, bt.String())
			if err != nil {
				return err
			}
			sw = fw
		}
		r.writers[bt] = sw
	}
	if w.deps.SummaryDir == "" {
		ctxlog.FromContext(ctx).Warn("Summaries enabled without a summary directory, nothing is written.")
	}
	r.comp.BuildSummaries(types, w.settings.MaxOutputs, w.deps.ComponentName)
	return nil
}

// writeSummaries writes the summaries of the step that just ran. Failures
// are logged.
func (w *Default) writeSummaries(ctx context.Context, r *run, batch int, bt component.BatchType) {
	sw, ok := r.writers[bt]
	if !ok || batch%w.settings.SummarizeInterval != 0 {
		return
	}
	logger := ctxlog.FromContext(ctx)
	for _, c := range r.comps {
		if err := c.WriteSummaries(ctx, batch, sw, bt); err != nil {
			logger.Warn("Writing summaries failed.", "batch", batch, "batch_type", bt, "error", err)
		}
	}
	if err := sw.Flush(); err != nil {
		logger.Warn("Flushing summaries failed.", "batch", batch, "batch_type", bt, "error", err)
	}
}

func (w *Default) train(ctx context.Context, r *run, batch int) error {
	if _, err := r.coord.Step(ctx, r.comps, component.Training); err != nil {
		return fmt.Errorf("training batch %d: %w", batch, err)
	}
	w.writeSummaries(ctx, r, batch, component.Training)

	lossy, ok := r.comp.(component.Lossy)
	if !ok {
		return nil
	}
	loss := lossy.Loss()
	ctxlog.FromContext(ctx).Debug("Trained batch.", "batch", batch, "loss", loss)
	if math.IsNaN(loss) {
		if w.settings.StopOnNaN {
			return fmt.Errorf("training batch %d: %w", batch, ErrNaNLoss)
		}
		return nil
	}
	_ = r.tracker.LogMetric(ctx, "loss", loss, batch)
	return nil
}

func (w *Default) evaluate(ctx context.Context, r *run, batch int) error {
	logger := ctxlog.FromContext(ctx)
	r.codes, r.labels = r.codes[:0], r.labels[:0]

	for i := 0; i < w.settings.EvalBatches; i++ {
		if _, err := r.coord.Step(ctx, r.comps, component.Encoding); err != nil {
			return fmt.Errorf("evaluating batch %d: %w", batch, err)
		}
		if enc, ok := r.comp.(component.Encoder); ok {
			b, _ := r.feeder.Last(component.Encoding)
			r.codes = append(r.codes, enc.Encoding()...)
			r.labels = append(r.labels, b.Labels...)
		}
	}
	// One summary record per evaluated batch, from the last encoding step.
	w.writeSummaries(ctx, r, batch, component.Encoding)
	if lossy, ok := r.comp.(component.Lossy); ok {
		logger.Info("Evaluated batch.", "batch", batch, "loss", lossy.Loss())
		_ = r.tracker.LogMetric(ctx, "eval_loss", lossy.Loss(), batch)
	}

	if batch%w.classifierInterval != 0 {
		return nil
	}
	if len(r.codes) == 0 {
		logger.Debug("Component exposes no encoding, classifier skipped.")
		return nil
	}
	res, err := classifier.Evaluate(ctx, w.classifier, r.codes, r.labels, w.deps.Dataset.NumClasses())
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("evaluating batch %d: %w", batch, err)
		}
		logger.Warn("Classifier evaluation failed.", "batch", batch, "error", err)
		return nil
	}
	logger.Info("Classifier evaluated.",
		"batch", batch,
		"model", res.Model,
		"best_c", res.Best.C,
		"accuracy", res.Best.Accuracy,
		"train", res.Train,
		"validate", res.Validate,
	)
	_ = r.tracker.LogMetric(ctx, "classifier_accuracy", res.Best.Accuracy, batch)
	if sw, ok := r.writers[component.Encoding]; ok {
		if err := sw.Scalar("classifier/accuracy", batch, res.Best.Accuracy); err != nil {
			logger.Warn("Writing classifier summary failed.", "error", err)
		}
		_ = sw.Flush()
	}
	return nil
}
