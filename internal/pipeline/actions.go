package pipeline

import (
	"errors"
	"fmt"

	"github.com/roach88/sqlpipe/internal/machine"
	"github.com/roach88/sqlpipe/internal/op"
)

func (p *Pipeline) bind() {
	p.ctrl.Bind(machine.ActionCheckDatabase, p.checkDatabase)
	p.ctrl.Bind(machine.ActionRecordState, p.recordState)
	p.ctrl.Bind(machine.ActionResetRetryCount, func(machine.ActionContext) { p.retry.Reset() })
	p.ctrl.Bind(machine.ActionResumePending, p.resumePending)
	p.ctrl.Bind(machine.ActionStartTask, p.startTask)
	p.ctrl.Bind(machine.ActionHandleError, p.handleError)
	p.ctrl.Bind(machine.ActionFailPending, func(machine.ActionContext) {
		p.retry.Stop()
		p.failPending()
	})
}

// checkDatabase opens the session and reports whether the file was there.
func (p *Pipeline) checkDatabase(machine.ActionContext) {
	if err := p.openSession(); err != nil {
		p.logger.Error().Err(err).Str("database", p.cfg.Database).Msg("database check failed")
		p.ctrl.Submit(machine.EventDBCreateFail, err.Error())
		return
	}
	if p.session.Existed() {
		p.ctrl.Submit(machine.EventDBExists, nil)
		return
	}
	p.ctrl.Submit(machine.EventDBCreateSuccess, nil)
}

// recordState appends the entered state to the audit trail. Failures are
// logged and otherwise ignored.
func (p *Pipeline) recordState(actx machine.ActionContext) {
	if p.session == nil {
		return
	}
	if err := p.session.RecordState(p.ctx, string(actx.State)); err != nil {
		p.logger.Warn().Err(err).Str("state", string(actx.State)).Msg("state record failed")
	}
}

func (p *Pipeline) resumePending(machine.ActionContext) {
	if n := p.queue.Len(); n > 0 {
		p.logger.Debug().Int("pending", n).Msg("resuming queued requests")
		p.ctrl.Submit(machine.EventStart, nil)
	}
}

func (p *Pipeline) startTask(machine.ActionContext) {
	if !p.processing {
		p.scheduleNext()
	}
}

// handleError fails the request in flight, if any, then either returns to
// idle over a healthy session or hands recovery to the retry manager.
func (p *Pipeline) handleError(actx machine.ActionContext) {
	msg := payloadMessage(actx.Payload)
	p.notify(Notification{Kind: KindError, Error: msg})

	if p.processing {
		id := p.CurrentOperationID()
		p.processing = false
		p.current.Store("")
		p.finish(op.Failed(id, msg, p.now()))
	}

	if p.session != nil {
		err := p.session.Ping(p.ctx)
		if err == nil {
			p.logger.Info().Str("cause", msg).Msg("session healthy after error")
			p.ctrl.Submit(machine.EventDBExists, nil)
			return
		}
		p.logger.Warn().Err(err).Msg("session unhealthy, reconnecting")
		if err := p.closeSession(); err != nil {
			p.logger.Debug().Err(err).Msg("close broken session")
		}
	}
	p.retry.HandleFailure(errors.New(msg))
}

func payloadMessage(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "unknown error"
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}
