package relorm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Options is passed verbatim from relation mutations to the hooks.
type Options struct {
	// SkipHooks suppresses hook dispatch in HookManager.
	SkipHooks bool

	// Extra carries free-form values for custom hooks.
	Extra map[string]any
}

// HookMediator broadcasts lifecycle notifications around relation writes.
type HookMediator interface {
	BeforeRelate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any, opts Options) error
	AfterRelate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any, opts Options) error
	BeforeUnrelate(ctx context.Context, owner Entity, relationName string, target Entity, opts Options) error
	AfterUnrelate(ctx context.Context, owner Entity, relationName string, target Entity, opts Options) error
	BeforeMassRelate(ctx context.Context, owner Entity, relationName string, query *Select, opts Options) error
	AfterMassRelate(ctx context.Context, owner Entity, relationName string, query *Select, opts Options) error
}

// Hook interfaces. A handler registered with HookManager implements any
// subset of them.
type (
	BeforeRelateHook interface {
		BeforeRelate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any, opts Options) error
	}
	AfterRelateHook interface {
		AfterRelate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any, opts Options) error
	}
	BeforeUnrelateHook interface {
		BeforeUnrelate(ctx context.Context, owner Entity, relationName string, target Entity, opts Options) error
	}
	AfterUnrelateHook interface {
		AfterUnrelate(ctx context.Context, owner Entity, relationName string, target Entity, opts Options) error
	}
	BeforeMassRelateHook interface {
		BeforeMassRelate(ctx context.Context, owner Entity, relationName string, query *Select, opts Options) error
	}
	AfterMassRelateHook interface {
		AfterMassRelate(ctx context.Context, owner Entity, relationName string, query *Select, opts Options) error
	}
)

// AllEntityTypes registers a handler for every entity type.
const AllEntityTypes = "*"

// HookManager dispatches notifications to handlers registered per owner
// entity type. Handlers run in registration order; type-wide handlers
// registered with AllEntityTypes run first. The first error stops dispatch.
type HookManager struct {
	mu       sync.RWMutex
	handlers map[string][]any
	logger   *zap.Logger
}

// NewHookManager creates an empty manager. A nil logger disables logging.
func NewHookManager(logger *zap.Logger) *HookManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookManager{
		handlers: make(map[string][]any),
		logger:   logger,
	}
}

// Register adds a handler for entityType. The handler must implement at
// least one hook interface.
func (h *HookManager) Register(entityType string, handler any) error {
	if !isHook(handler) {
		return fmt.Errorf("%w: %T implements no relation hook", ErrInvalidArgument, handler)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[entityType] = append(h.handlers[entityType], handler)
	return nil
}

func isHook(handler any) bool {
	switch handler.(type) {
	case BeforeRelateHook, AfterRelateHook, BeforeUnrelateHook, AfterUnrelateHook, BeforeMassRelateHook, AfterMassRelateHook:
		return true
	}
	return false
}

func (h *HookManager) handlersFor(entityType string) []any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]any, 0, len(h.handlers[AllEntityTypes])+len(h.handlers[entityType]))
	out = append(out, h.handlers[AllEntityTypes]...)
	if entityType != AllEntityTypes {
		out = append(out, h.handlers[entityType]...)
	}
	return out
}

func (h *HookManager) dispatch(owner Entity, relationName, phase string, opts Options, call func(handler any) error) error {
	if opts.SkipHooks {
		h.logger.Debug("hooks skipped",
			zap.String("entity", owner.EntityType()),
			zap.String("relation", relationName),
			zap.String("phase", phase))
		return nil
	}

	for _, handler := range h.handlersFor(owner.EntityType()) {
		if err := call(handler); err != nil {
			return fmt.Errorf("relorm: %s hook on %s.%s: %w", phase, owner.EntityType(), relationName, err)
		}
	}
	return nil
}

func (h *HookManager) BeforeRelate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any, opts Options) error {
	return h.dispatch(owner, relationName, "beforeRelate", opts, func(handler any) error {
		if hook, ok := handler.(BeforeRelateHook); ok {
			return hook.BeforeRelate(ctx, owner, relationName, target, columnData, opts)
		}
		return nil
	})
}

func (h *HookManager) AfterRelate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any, opts Options) error {
	return h.dispatch(owner, relationName, "afterRelate", opts, func(handler any) error {
		if hook, ok := handler.(AfterRelateHook); ok {
			return hook.AfterRelate(ctx, owner, relationName, target, columnData, opts)
		}
		return nil
	})
}

func (h *HookManager) BeforeUnrelate(ctx context.Context, owner Entity, relationName string, target Entity, opts Options) error {
	return h.dispatch(owner, relationName, "beforeUnrelate", opts, func(handler any) error {
		if hook, ok := handler.(BeforeUnrelateHook); ok {
			return hook.BeforeUnrelate(ctx, owner, relationName, target, opts)
		}
		return nil
	})
}

func (h *HookManager) AfterUnrelate(ctx context.Context, owner Entity, relationName string, target Entity, opts Options) error {
	return h.dispatch(owner, relationName, "afterUnrelate", opts, func(handler any) error {
		if hook, ok := handler.(AfterUnrelateHook); ok {
			return hook.AfterUnrelate(ctx, owner, relationName, target, opts)
		}
		return nil
	})
}

func (h *HookManager) BeforeMassRelate(ctx context.Context, owner Entity, relationName string, query *Select, opts Options) error {
	return h.dispatch(owner, relationName, "beforeMassRelate", opts, func(handler any) error {
		if hook, ok := handler.(BeforeMassRelateHook); ok {
			return hook.BeforeMassRelate(ctx, owner, relationName, query, opts)
		}
		return nil
	})
}

func (h *HookManager) AfterMassRelate(ctx context.Context, owner Entity, relationName string, query *Select, opts Options) error {
	return h.dispatch(owner, relationName, "afterMassRelate", opts, func(handler any) error {
		if hook, ok := handler.(AfterMassRelateHook); ok {
			return hook.AfterMassRelate(ctx, owner, relationName, query, opts)
		}
		return nil
	})
}

// NopHookMediator ignores every notification.
type NopHookMediator struct{}

func (NopHookMediator) BeforeRelate(context.Context, Entity, string, Entity, map[string]any, Options) error {
	return nil
}

func (NopHookMediator) AfterRelate(context.Context, Entity, string, Entity, map[string]any, Options) error {
	return nil
}

func (NopHookMediator) BeforeUnrelate(context.Context, Entity, string, Entity, Options) error {
	return nil
}

func (NopHookMediator) AfterUnrelate(context.Context, Entity, string, Entity, Options) error {
	return nil
}

func (NopHookMediator) BeforeMassRelate(context.Context, Entity, string, *Select, Options) error {
	return nil
}

func (NopHookMediator) AfterMassRelate(context.Context, Entity, string, *Select, Options) error {
	return nil
}
