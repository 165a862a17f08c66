package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/otto/internal/tracing"
	"github.com/harun/otto/pkg/events"
	"github.com/harun/otto/pkg/llm"
	"github.com/harun/otto/pkg/permission"
	"github.com/harun/otto/pkg/session"
	"github.com/harun/otto/pkg/store"
	"github.com/harun/otto/pkg/task"
	"github.com/harun/otto/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// run is the state of one step
type run struct {
	exec   *Execution
	task   *task.Task
	sess   *session.Session
	logger zerolog.Logger
}

// Execute runs a Pending execution until it waits or ends. Executions in
// any other status are left alone, so duplicate jobs are harmless.
func (s *Service) Execute(ctx context.Context, id string) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerExecution, "execution.execute",
		attribute.String("execution_id", id),
	)
	defer func() { tracing.EndSpan(span, err) }()

	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != StatusPending {
		s.logger.Debug().Str("execution_id", id).Str("status", string(e.Status)).Msg("Execution not pending, skipping")
		return nil
	}

	r, err := s.prepare(ctx, e)
	if err != nil {
		return s.setStatus(tracing.Detach(ctx), e, StatusFailure, err.Error())
	}
	ctx = r.context(ctx)

	if err := s.setStatus(ctx, e, StatusRunning, ""); err != nil {
		return err
	}

	input := e.Input
	if len(input) == 0 {
		input, err = task.ResolveContext(ctx, s.runner, r.task, e.TargetDoc, task.Event(e.Event))
		if err != nil {
			return s.fail(ctx, r, err.Error())
		}
	}
	return s.loop(ctx, r, input)
}

// Resume continues a Waiting execution from its pending tool uses. The
// status check runs under the execution's waiting_check lock so that
// simultaneous decisions continue the execution once.
func (s *Service) Resume(ctx context.Context, id string) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerExecution, "execution.resume",
		attribute.String("execution_id", id),
	)
	defer func() { tracing.EndSpan(span, err) }()

	release := func() {}
	if s.locker != nil {
		release, err = s.locker.Acquire(ctx, store.KindExecution, id, waitingCheckLock)
		if err != nil {
			return fmt.Errorf("failed to acquire %s lock for %s: %w", waitingCheckLock, id, err)
		}
	}

	e, err := s.Get(ctx, id)
	if err != nil {
		release()
		return err
	}
	if e.Status != StatusWaiting {
		release()
		s.logger.Debug().Str("execution_id", id).Str("status", string(e.Status)).Msg("Execution not waiting, skipping resume")
		return nil
	}

	r, err := s.prepare(ctx, e)
	if err != nil {
		defer release()
		return s.setStatus(tracing.Detach(ctx), e, StatusFailure, err.Error())
	}
	ctx = r.context(ctx)

	err = s.setStatus(ctx, e, StatusRunning, "")
	release()
	if err != nil {
		return err
	}
	return s.runToolsAndLoop(ctx, r)
}

func (s *Service) prepare(ctx context.Context, e *Execution) (*run, error) {
	t, err := s.catalog.GetTask(ctx, e.Task)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Load(ctx, e.SessionID)
	if err != nil {
		return nil, err
	}
	return &run{
		exec: e,
		task: t,
		sess: sess,
		logger: s.logger.With().
			Str("execution_id", e.ID).
			Str("session_id", sess.ID).
			Str("task", t.Name).
			Logger(),
	}, nil
}

func (r *run) context(ctx context.Context) context.Context {
	ctx = tracing.WithExecutionID(ctx, r.exec.ID)
	ctx = tracing.WithSessionID(ctx, r.sess.ID)
	return tracing.WithTask(ctx, r.task.Name)
}

// loop interacts with input and keeps running tools and interacting until
// the execution waits or ends
func (s *Service) loop(ctx context.Context, r *run, input []string) error {
	for {
		ok, err := s.interact(ctx, r, input)
		if err != nil || !ok {
			return err
		}
		input = nil

		ok, err = s.afterInteraction(ctx, r)
		if err != nil || !ok {
			return err
		}
	}
}

// runToolsAndLoop applies pending tool results before the next interaction
func (s *Service) runToolsAndLoop(ctx context.Context, r *run) error {
	ok, err := s.afterInteraction(ctx, r)
	if err != nil || !ok {
		return err
	}
	return s.loop(ctx, r, nil)
}

// afterInteraction runs the pending tools and reports whether another
// interaction should follow
func (s *Service) afterInteraction(ctx context.Context, r *run) (bool, error) {
	waiting, err := s.safeRunTools(ctx, r)
	if err != nil {
		r.logger.Error().Err(err).Msg("Running tools failed")
		return false, s.fail(ctx, r, reasonRunToolsFailed+err.Error())
	}
	if waiting {
		return false, s.setStatus(ctx, r.exec, StatusWaiting, "")
	}
	if stop, status, reason := s.shouldStop(r.sess); stop {
		return false, s.setStatus(ctx, r.exec, status, reason)
	}
	return true, nil
}

// interact runs one provider turn. It reports false once the execution
// has failed.
func (s *Service) interact(ctx context.Context, r *run, input []string) (bool, error) {
	r.sess.IsActive = true
	r.sess.Reason = ""
	if err := s.sessions.Save(ctx, r.sess); err != nil {
		return false, err
	}

	res, err := s.interactor.Interact(ctx, llm.InteractRequest{
		Session: r.sess,
		Input:   session.ToContent(input...),
	}, func(c llm.Chunk) { s.publishChunk(ctx, c) })
	if err != nil {
		r.logger.Error().Err(err).Str("model", r.sess.Config.Model).Msg("Interaction failed")

		r.sess.IsActive = false
		r.sess.Reason = err.Error()
		if serr := s.sessions.Save(tracing.Detach(ctx), r.sess); serr != nil {
			r.logger.Warn().Err(serr).Msg("Failed to record interaction failure on session")
		}

		reason := reasonInteractionFailed + err.Error()
		if llm.IsConfigError(err) {
			reason = err.Error()
		}
		return false, s.fail(ctx, r, reason)
	}

	r.sess = res.Session
	r.sess.IsActive = false
	r.sess.Reason = ""
	if err := s.sessions.Save(ctx, r.sess); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) safeRunTools(ctx context.Context, r *run) (waiting bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.runTools(ctx, r)
}

// runTools resolves the last agent item's pending tool uses. Gated tools
// without a decision get a permission request and leave the execution
// waiting; the rest of the batch still runs.
func (s *Service) runTools(ctx context.Context, r *run) (bool, error) {
	last := r.sess.LastAgentItem()
	if last == nil {
		return false, nil
	}
	pending := last.PendingToolUses()
	if len(pending) == 0 {
		return false, nil
	}

	toolMap, err := s.catalog.ToolMap(ctx, r.task)
	if err != nil {
		return false, err
	}
	requests, err := s.permissions.ForSession(ctx, r.sess.ID)
	if err != nil {
		return false, err
	}
	decisions := make(map[string]*permission.Request, len(requests))
	for _, req := range requests {
		decisions[req.ToolUseID] = req
	}

	waiting := false
	var updates []session.ToolUseUpdate
	var notices []permission.Notice
	for _, tu := range pending {
		if toolexecutor.IsMetaTool(tu.Name) {
			now := time.Now().UTC()
			updates = append(updates, session.ToolUseUpdate{ID: tu.ID, StartTime: &now, EndTime: &now})
			continue
		}

		item, known := toolMap[tu.Name]
		req := decisions[tu.ID]
		if known && item.RequiresPermission {
			if req == nil {
				req, err = s.permissions.Create(ctx, r.sess.ID, tu.ID)
				if err != nil {
					return false, err
				}
				notices = append(notices, permission.Notice{
					Request:    req.ID,
					Task:       r.task.Name,
					Execution:  r.exec.ID,
					Session:    r.sess.ID,
					TargetKind: r.exec.TargetKind,
					Target:     r.exec.Target,
					Tool:       item.ToolName,
					ToolSlug:   tu.Name,
					ToolUseID:  tu.ID,
					ToolArgs:   tu.Args,
				})
				waiting = true
				continue
			}
			if req.Status == permission.StatusPending {
				waiting = true
				continue
			}
		}

		if !known {
			updates = append(updates, errorUpdate(tu.ID, fmt.Sprintf("Tool %s not found", tu.Name)))
			continue
		}
		updates = append(updates, s.runTool(ctx, r, tu, item, req))
	}

	if len(updates) > 0 {
		r.sess.ApplyToolUseUpdates(updates...)
		if err := s.sessions.Save(ctx, r.sess); err != nil {
			return false, err
		}
	}
	if len(notices) > 0 {
		go s.notify(tracing.Detach(ctx), r, notices)
	}
	return waiting, nil
}

// runTool executes one tool use. Failures become error updates for the
// model rather than errors.
func (s *Service) runTool(ctx context.Context, r *run, tu session.Content, item task.ToolMapItem, req *permission.Request) (update session.ToolUseUpdate) {
	start := time.Now().UTC()
	update = session.ToolUseUpdate{ID: tu.ID, StartTime: &start}
	defer func() {
		end := time.Now().UTC()
		update.EndTime = &end
	}()

	actor := r.exec.Actor
	if req != nil {
		if req.Status == permission.StatusDenied {
			update.IsError = true
			update.Result = ReasonPermissionDenied
			return update
		}
		if req.DecidedBy != "" {
			actor = req.DecidedBy
		}
	}

	tool, err := s.catalog.GetTool(ctx, item.ToolName)
	if err != nil {
		update.IsError = true
		update.Result = err.Error()
		return update
	}
	env, err := task.ParseEnv(item.Env)
	if err != nil {
		update.IsError = true
		update.Result = err.Error()
		return update
	}

	res, err := s.tools.Execute(toolexecutor.WithActor(ctx, actor), tool, tu.EffectiveArgs(), env)
	if res != nil {
		update.Stdout = &res.Stdout
		update.Stderr = &res.Stderr
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("tool", tu.Name).Str("tool_use_id", tu.ID).Msg("Tool failed")
		update.IsError = true
		update.Result = err.Error()
		return update
	}
	update.Result = res.Result
	return update
}

func errorUpdate(id, msg string) session.ToolUseUpdate {
	now := time.Now().UTC()
	return session.ToolUseUpdate{ID: id, Result: msg, IsError: true, StartTime: &now, EndTime: &now}
}

// shouldStop reports whether the execution is done after the last turn,
// and with which status
func (s *Service) shouldStop(sess *session.Session) (bool, Status, string) {
	last := sess.LastAgentItem()
	if last == nil {
		return false, "", ""
	}
	if last.HasToolUse(toolexecutor.ToolEndTask) {
		return true, StatusSuccess, ""
	}
	if s.maxLLMCalls > 0 && sess.AgentItemCount() >= s.maxLLMCalls {
		return true, StatusFailure, ReasonMaxLLMCalls
	}
	if s.failOnNoOutputTokens && last.Meta.OutputTokens == 0 {
		return true, StatusFailure, ReasonNoOutputTokens
	}
	return false, "", ""
}

func (s *Service) fail(ctx context.Context, r *run, reason string) error {
	return s.setStatus(tracing.Detach(ctx), r.exec, StatusFailure, reason)
}

func (s *Service) notify(ctx context.Context, r *run, notices []permission.Notice) {
	if err := s.permissions.Notify(ctx, notices); err != nil {
		r.logger.Error().Err(err).Int("requests", len(notices)).Msg("Failed to send permission notifications")
	}
}

func (s *Service) publishChunk(ctx context.Context, c llm.Chunk) {
	if err := s.publisher.Publish(ctx, events.TopicChunks, c); err != nil {
		s.logger.Debug().Err(err).Str("item_id", c.ItemID).Msg("Failed to publish chunk")
	}
}
