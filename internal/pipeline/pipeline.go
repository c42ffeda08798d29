// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package pipeline holds the ordered stage chain every request flows through
// around the provider call. The pipeline is built and invoked by the
// dispatcher and must never reference it back; the dependency runs one way
// only.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/costwise-ai/costwise"
)

// Stage is one unit of pre/post-call logic. A stage implements PreCallStage,
// PostCallStage, or both.
type Stage interface {
	Name() string
}

// PreCallStage runs before the provider call. Returning an error rejects the
// request; the provider is never invoked.
type PreCallStage interface {
	Stage
	BeforeCall(ctx context.Context, req *costwise.Request) error
}

// PostCallStage runs after a successful provider call. Post-call failures are
// logged and absorbed; the response has already been produced and must reach
// the caller.
type PostCallStage interface {
	Stage
	AfterCall(ctx context.Context, req *costwise.Request, resp *costwise.Response) error
}

// Pipeline is an ordered chain of stages
type Pipeline struct {
	pre    []PreCallStage
	post   []PostCallStage
	logger *slog.Logger
}

// PipelineOption configures Pipeline behavior
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger for the pipeline
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline from stages in configured order. Each stage is
// registered for the hooks it implements.
func New(stages []Stage, options ...PipelineOption) *Pipeline {
	p := &Pipeline{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	for _, stage := range stages {
		if pre, ok := stage.(PreCallStage); ok {
			p.pre = append(p.pre, pre)
		}
		if post, ok := stage.(PostCallStage); ok {
			p.post = append(p.post, post)
		}
	}

	return p
}

// RunPreCall invokes pre-call hooks in order. The first error aborts the
// chain and is returned to the dispatcher.
func (p *Pipeline) RunPreCall(ctx context.Context, req *costwise.Request) error {
	for _, stage := range p.pre {
		if err := stage.BeforeCall(ctx, req); err != nil {
			p.logger.Debug("Pre-call stage rejected request",
				"stage", stage.Name(),
				"requestID", req.ID,
				"error", err)
			return err
		}
	}
	return nil
}

// RunPostCall invokes post-call hooks in order. Errors are logged and do not
// interrupt the chain.
func (p *Pipeline) RunPostCall(ctx context.Context, req *costwise.Request, resp *costwise.Response) {
	for _, stage := range p.post {
		if err := stage.AfterCall(ctx, req, resp); err != nil {
			p.logger.Error("Post-call stage failed",
				"stage", stage.Name(),
				"requestID", req.ID,
				"error", err)
		}
	}
}

// PreCallStages returns the names of registered pre-call hooks in order
func (p *Pipeline) PreCallStages() []string {
	names := make([]string, 0, len(p.pre))
	for _, s := range p.pre {
		names = append(names, s.Name())
	}
	return names
}

// PostCallStages returns the names of registered post-call hooks in order
func (p *Pipeline) PostCallStages() []string {
	names := make([]string, 0, len(p.post))
	for _, s := range p.post {
		names = append(names, s.Name())
	}
	return names
}
