// Package core wires configuration, storage, the per-aspect pipeline, the
// run archive and metrics into one propagation run.
package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"annotprop/internal/archive"
	"annotprop/internal/config"
	"annotprop/internal/derive"
	"annotprop/internal/logging"
	"annotprop/internal/metrics"
	"annotprop/internal/pipeline"
	"annotprop/internal/reconcile"
	"annotprop/pkg/domain"
)

// Version is stamped at build time with -ldflags "-X annotprop/internal/core.Version=...".
var Version = "dev"

// Options wires a Service. Config and Store are required.
type Options struct {
	Config   *config.Config
	Store    domain.Store
	Archive  archive.Store
	Logger   *zap.Logger
	Recorder *metrics.Recorder
	// NewRunID defaults to a random UUID.
	NewRunID func() string
	Now      func() time.Time
	Shuffle  func([]domain.Annotation)
}

// Selection narrows a run to some chains or aspects. Empty fields select everything configured.
type Selection struct {
	Chains  []string
	Aspects []string
}

// Summary is the outcome of Service.Run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Reports    []pipeline.Report
	Archived   []string
}

// Service runs every selected chain over every selected aspect.
type Service struct {
	cfg      *config.Config
	store    domain.Store
	archive  *archive.Writer
	channels logging.Channels
	recorder *metrics.Recorder
	newRunID func() string
	nowFn    func() time.Time
	shuffle  func([]domain.Annotation)
}

// NewService constructs a service, filling defaults for optional collaborators.
func NewService(opts Options) *Service {
	s := &Service{
		cfg:      opts.Config,
		store:    opts.Store,
		channels: logging.NewChannels(opts.Logger),
		recorder: opts.Recorder,
		newRunID: opts.NewRunID,
		nowFn:    opts.Now,
		shuffle:  opts.Shuffle,
	}
	if opts.Archive != nil {
		s.archive = archive.NewWriter(opts.Archive, opts.Config.Archive.Prefix)
	}
	if s.recorder == nil {
		s.recorder = metrics.NewRecorder()
	}
	if s.newRunID == nil {
		s.newRunID = func() string { return uuid.NewString() }
	}
	if s.nowFn == nil {
		s.nowFn = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Recorder exposes the metrics registry the runs report to.
func (s *Service) Recorder() *metrics.Recorder { return s.recorder }

type step struct {
	chain  derive.Chain
	owner  int
	aspect domain.Aspect
}

// plan resolves the selection against the configuration in configured order.
func (s *Service) plan(sel Selection) ([]step, error) {
	for _, name := range sel.Chains {
		if !slices.ContainsFunc(s.cfg.Pipeline.Chains, func(c config.ChainConfig) bool { return c.Name == name }) {
			return nil, fmt.Errorf("chain %q is not configured", name)
		}
	}
	aspects := s.cfg.Pipeline.Aspects
	if len(sel.Aspects) > 0 {
		aspects = sel.Aspects
	}
	var steps []step
	for _, cc := range s.cfg.Pipeline.Chains {
		if len(sel.Chains) > 0 && !slices.Contains(sel.Chains, cc.Name) {
			continue
		}
		chain, err := derive.ChainByName(cc.Name)
		if err != nil {
			return nil, err
		}
		for _, a := range aspects {
			aspect, err := domain.ParseAspect(a)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step{chain: chain, owner: cc.Owner, aspect: aspect})
		}
	}
	return steps, nil
}

// Run executes the selected chain/aspect runs in order. The first failing run
// stops the remaining ones; its partial report is still archived.
func (s *Service) Run(ctx context.Context, sel Selection) (Summary, error) {
	steps, err := s.plan(sel)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{RunID: s.newRunID(), StartedAt: s.nowFn()}
	status := s.channels.Status.With(zap.String("run_id", sum.RunID))
	status.Info("annotprop started",
		zap.String("version", Version),
		zap.Time("started", sum.StartedAt),
		zap.String("store", s.store.Info()),
		zap.Int("steps", len(steps)))

	owners := s.cfg.Owners()
	pc := s.cfg.Pipeline
	var runErr error
	for _, st := range steps {
		runner := pipeline.NewRunner(pipeline.Config{
			Store: s.store,
			Options: pipeline.Options{
				Chain:                st.chain,
				Owner:                st.owner,
				Workers:              pc.Workers,
				EvidenceCodes:        pc.EvidenceCodes,
				RestrictedQualifiers: pc.RestrictedQualifiers,
				AllowedSpecies:       pc.AllowedSpecies,
				DiseaseAspect:        domain.Aspect(pc.DiseaseAspect),
				ExcludeOwners:        owners,
			},
			Logger: status,
			Audit: reconcile.AuditLoggers{
				Inserted: s.channels.Inserted,
				Updated:  s.channels.Updated,
				Deleted:  s.channels.Deleted,
			},
			Recorder: s.recorder,
			Shuffle:  s.shuffle,
			Now:      s.nowFn,
		})
		rep, err := runner.Run(ctx, st.aspect)
		rep.RunID = sum.RunID
		sum.Reports = append(sum.Reports, rep)
		if archErr := s.archiveReport(ctx, rep, &sum); archErr != nil {
			err = errors.Join(err, archErr)
		}
		if err != nil {
			runErr = err
			break
		}
	}

	sum.FinishedAt = s.nowFn()
	if err := s.recorder.Push(ctx, s.cfg.Metrics.PushgatewayURL, s.cfg.Metrics.Job); err != nil {
		status.Warn("metrics push failed", zap.Error(err))
	}
	status.Info("annotprop finished",
		zap.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
		zap.Int("runs", len(sum.Reports)),
		zap.Bool("ok", runErr == nil))
	s.channels.Sync()
	return sum, runErr
}

func (s *Service) archiveReport(ctx context.Context, rep pipeline.Report, sum *Summary) error {
	if s.archive == nil {
		return nil
	}
	keys, err := s.archive.Write(ctx, rep)
	if err != nil {
		return err
	}
	sum.Archived = append(sum.Archived, keys...)
	return nil
}
