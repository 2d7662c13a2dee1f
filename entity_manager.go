package relorm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EntityManager wires metadata and storage collaborators and hands out
// relation accessors.
type EntityManager struct {
	metadata *Metadata
	mapper   RelationMapper
	selecter RelationSelecter
	loader   RecordLoader
	hooks    HookMediator
	logger   *zap.Logger
}

// Option is a functional option for configuring EntityManager.
type Option func(*EntityManager)

// WithMapper sets the relation mapper. When the mapper also implements
// RelationSelecter or RecordLoader it serves those roles unless they are
// set explicitly.
func WithMapper(m RelationMapper) Option {
	return func(em *EntityManager) {
		em.mapper = m
	}
}

// WithSelecter sets the relation select executor.
func WithSelecter(s RelationSelecter) Option {
	return func(em *EntityManager) {
		em.selecter = s
	}
}

// WithLoader sets the record loader used to reload owners.
func WithLoader(l RecordLoader) Option {
	return func(em *EntityManager) {
		em.loader = l
	}
}

// WithHooks sets the hook mediator. Default is NopHookMediator.
func WithHooks(h HookMediator) Option {
	return func(em *EntityManager) {
		em.hooks = h
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(em *EntityManager) {
		em.logger = l
	}
}

// NewEntityManager creates an entity manager. A mapper and a selecter are
// required.
func NewEntityManager(md *Metadata, opts ...Option) (*EntityManager, error) {
	if md == nil {
		return nil, fmt.Errorf("%w: metadata is nil", ErrInvalidConfig)
	}

	em := &EntityManager{metadata: md}
	for _, opt := range opts {
		opt(em)
	}

	if em.mapper == nil {
		return nil, fmt.Errorf("%w: relation mapper is required", ErrInvalidConfig)
	}
	if em.selecter == nil {
		if s, ok := em.mapper.(RelationSelecter); ok {
			em.selecter = s
		} else {
			return nil, fmt.Errorf("%w: relation selecter is required", ErrInvalidConfig)
		}
	}
	if em.loader == nil {
		if l, ok := em.mapper.(RecordLoader); ok {
			em.loader = l
		}
	}
	if em.hooks == nil {
		em.hooks = NopHookMediator{}
	}
	if em.logger == nil {
		em.logger = zap.NewNop()
	}

	return em, nil
}

// Metadata returns the entity definitions.
func (em *EntityManager) Metadata() *Metadata { return em.metadata }

// Relation returns the accessor of relation name of owner.
func (em *EntityManager) Relation(owner Entity, name string) (*Relation, error) {
	return NewRelation(em, owner, name)
}

// GetEntityByID loads a record through the record loader. It returns nil
// when the record does not exist.
func (em *EntityManager) GetEntityByID(ctx context.Context, entityType, id string) (Entity, error) {
	if em.loader == nil {
		return nil, fmt.Errorf("%w: no record loader configured", ErrInvalidConfig)
	}
	return em.loader.FetchByID(ctx, entityType, id)
}
