package orchestrator

import (
	"context"
	"fmt"

	"github.com/runplane/runplane/internal/provider"
)

// route selects a backend from the capability table, executes, and normalizes
// the outcome. A failed primary falls back at most once, and only when the
// capability entry declares a fallback and the request carries no attachments.
// It returns the name of the backend that produced the final result.
func (s *Service) route(ctx context.Context, req provider.ExecRequest) (provider.ExecResult, string, error) {
	capability := provider.CapabilityFor(req.Language)
	if len(req.Attachments) > 0 && !capability.Attachments {
		return provider.ExecResult{}, capability.Primary,
			fmt.Errorf("%w: language %q does not support file attachments", ErrExecutionFailed, req.Language)
	}

	if req.Version == "" && s.Registry != nil {
		if desc := s.Registry.Lookup(req.Language); !desc.Zero() {
			req.Version = desc.Version
		}
	}

	primary := s.runnerFor(capability.Primary)
	if primary == nil {
		return provider.ExecResult{}, capability.Primary,
			fmt.Errorf("%w: no backend registered for %q", ErrExecutionFailed, capability.Primary)
	}

	result, err := primary.Execute(ctx, req)
	if err == nil && result.Succeeded {
		return *result, capability.Primary, nil
	}

	// Attachment-bearing requests only exercise the multipart path; there is
	// no translated fallback for them.
	canFallback := capability.Fallback != "" && len(req.Attachments) == 0
	if !canFallback {
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("execution failed", "backend", capability.Primary, "language", req.Language, "error", err)
			}
			return provider.ExecResult{}, capability.Primary, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
		}
		return *result, capability.Primary, nil
	}

	if s.Logger != nil {
		s.Logger.Warn("primary execution failed, falling back",
			"primary", capability.Primary,
			"fallback", capability.Fallback,
			"language", req.Language,
			"error", err,
		)
	}

	fallback := s.runnerFor(capability.Fallback)
	if fallback == nil {
		return provider.ExecResult{}, capability.Fallback,
			fmt.Errorf("%w: no backend registered for %q", ErrExecutionFailed, capability.Fallback)
	}
	result, err = fallback.Execute(ctx, req)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("fallback execution failed", "backend", capability.Fallback, "error", err)
		}
		return provider.ExecResult{}, capability.Fallback, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	return *result, capability.Fallback, nil
}

func (s *Service) runnerFor(name string) provider.Runner {
	switch name {
	case provider.BackendSandbox:
		if s.Sandbox == nil {
			return nil
		}
		return s.Sandbox
	case provider.BackendPiston:
		return s.Runtime
	default:
		return nil
	}
}
