package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/provisioning/internal/clock"
	"github.com/smallbiznis/provisioning/internal/config"
	obscontext "github.com/smallbiznis/provisioning/internal/observability/context"
	"github.com/smallbiznis/provisioning/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/provisioning/internal/observability/metrics"
	"github.com/smallbiznis/provisioning/internal/observability/tracing"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const skippedSiteError = "skipped: team creation did not return a team id"

type Params struct {
	fx.In

	Config        config.Config
	Capability    domain.Capability
	Store         domain.ResultStore
	Notifier      domain.Notifier `optional:"true"`
	Clock         clock.Clock
	Log           *zap.Logger
	Metrics       *obsmetrics.Metrics       `optional:"true"`
	WorkerMetrics *obsmetrics.WorkerMetrics `optional:"true"`
}

// Orchestrator runs the provisioning steps for one queued request.
type Orchestrator struct {
	capability    domain.Capability
	store         domain.ResultStore
	notifier      domain.Notifier
	clock         clock.Clock
	log           *zap.Logger
	metrics       *obsmetrics.Metrics
	workerMetrics *obsmetrics.WorkerMetrics
	tracer        trace.Tracer
	shortCircuit  bool
}

func New(p Params) *Orchestrator {
	return &Orchestrator{
		capability:    p.Capability,
		store:         p.Store,
		notifier:      p.Notifier,
		clock:         p.Clock,
		log:           p.Log.Named("provisioning.orchestrator"),
		metrics:       p.Metrics,
		workerMetrics: p.WorkerMetrics,
		tracer:        otel.Tracer("provisioning/orchestrator"),
		shortCircuit:  p.Config.Provisioning.ShortCircuit,
	}
}

// Process provisions every resource for req, reports to the callback URL and
// persists the result. A credential failure returns an error wrapping
// domain.ErrCredentialUnavailable before any step runs. Step failures never
// surface as an error; only a storage failure does once steps have run.
func (o *Orchestrator) Process(ctx context.Context, req domain.ProvisioningRequest) (*domain.ProvisioningResult, error) {
	started := time.Now()
	ctx = obscontext.WithProvisioningID(ctx, req.ProvisioningID)
	ctx, span := o.tracer.Start(ctx, "provisioning.process", trace.WithAttributes(
		attribute.String("provisioning.id", req.ProvisioningID),
	))
	defer span.End()
	log := logger.WithContext(ctx, o.log)

	cred, err := o.capability.AcquireCredential(ctx)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "credential unavailable")
		log.Error("acquire credential failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrCredentialUnavailable, err)
	}

	result := &domain.ProvisioningResult{
		ProvisioningID: req.ProvisioningID,
		PurchaseID:     req.PurchaseID,
		Timestamp:      o.clock.Now().UTC(),
		Status:         domain.StatusInProgress,
	}

	if err := o.runSteps(ctx, cred, req, result); err != nil {
		log.Error("provisioning failed", zap.Error(err))
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "provisioning failed")
		result.Status = domain.StatusFailed
		result.Error = err.Error()
	} else {
		result.Status = domain.StatusCompleted
		result.Message = domain.CompletedMessage
		log.Info("provisioning completed")
	}

	o.notify(ctx, log, req.CallbackURL, *result)

	o.workerMetrics.ObserveJob(string(result.Status), time.Since(started))
	span.SetAttributes(attribute.String("provisioning.status", string(result.Status)))

	if err := o.store.Save(ctx, *result); err != nil {
		log.Error("persist provisioning result failed", zap.Error(err))
		return result, fmt.Errorf("persist result: %w", err)
	}
	return result, nil
}

// runSteps executes every step in order. Any step error or panic stops the
// loop; entries for steps that never ran stay nil.
func (o *Orchestrator) runSteps(ctx context.Context, cred domain.Credential, req domain.ProvisioningRequest, result *domain.ProvisioningResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrStepPanicked, r)
		}
	}()

	invite, err := runStep(ctx, o, domain.StepEntraInvite, func(ctx context.Context) (domain.InviteOutcome, error) {
		return o.capability.IssueGuestInvite(ctx, cred, req.User)
	})
	if err != nil {
		return err
	}
	result.StepResults.EntraInvite = &invite

	team, err := runStep(ctx, o, domain.StepTeams, func(ctx context.Context) (domain.TeamOutcome, error) {
		return o.capability.CreateTeamWithChannel(ctx, cred, req.User, req.Organization)
	})
	if err != nil {
		return err
	}
	result.StepResults.Teams = &team

	if o.shortCircuit && team.TeamID == "" {
		o.workerMetrics.IncStepResult(domain.StepSharePoint, "skipped")
		result.StepResults.SharePoint = &domain.SiteOutcome{StepStatus: domain.StepStatus{Error: skippedSiteError}}
		return nil
	}

	site, err := runStep(ctx, o, domain.StepSharePoint, func(ctx context.Context) (domain.SiteOutcome, error) {
		return o.capability.CreateSiteAndList(ctx, cred, team.TeamID, req.User, req.Organization)
	})
	if err != nil {
		return err
	}
	result.StepResults.SharePoint = &site
	return nil
}

type outcome interface {
	Succeeded() bool
}

func runStep[T outcome](ctx context.Context, o *Orchestrator, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := o.tracer.Start(ctx, "provisioning.step."+name)
	defer span.End()
	log := logger.WithContext(ctx, o.log).With(zap.String("step", name))

	out, err := fn(ctx)
	switch {
	case err != nil:
		o.workerMetrics.IncStepResult(name, "error")
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "step error")
		return out, fmt.Errorf("%s: %w", name, err)
	case out.Succeeded():
		o.workerMetrics.IncStepResult(name, "success")
		log.Info("provisioning step succeeded")
	default:
		o.workerMetrics.IncStepResult(name, "failure")
		span.SetStatus(codes.Error, "step failed")
		log.Warn("provisioning step failed", zap.Any("outcome", out))
	}
	return out, nil
}

func (o *Orchestrator) notify(ctx context.Context, log *zap.Logger, callbackURL string, result domain.ProvisioningResult) {
	if callbackURL == "" || o.notifier == nil {
		log.Warn("no callback url provided, skipping callback")
		o.metrics.RecordCallback(ctx, "skipped")
		return
	}

	if err := o.notifier.Notify(ctx, callbackURL, domain.NewCallbackPayload(result)); err != nil {
		log.Error("send provisioning callback failed", zap.String("callback_url", callbackURL), zap.Error(err))
		o.workerMetrics.IncCallbackFailure()
		o.metrics.RecordCallback(ctx, "failed")
		return
	}
	log.Info("provisioning callback sent", zap.String("callback_url", callbackURL))
	o.metrics.RecordCallback(ctx, "delivered")
}
