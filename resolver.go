package relorm

import (
	"database/sql"
	"errors"
	"math/rand/v2"
	"sync/atomic"
)

// DBResolver routes relation writes to the primary and relation reads to
// replicas.
type DBResolver struct {
	primary  *sql.DB
	replicas []*sql.DB
	lb       LoadBalancer
}

// LoadBalancer picks a replica from a pool.
type LoadBalancer interface {
	Next(replicas []*sql.DB) *sql.DB
}

// RoundRobinLoadBalancer cycles through replicas.
type RoundRobinLoadBalancer struct {
	counter atomic.Uint64
}

func (r *RoundRobinLoadBalancer) Next(replicas []*sql.DB) *sql.DB {
	switch len(replicas) {
	case 0:
		return nil
	case 1:
		return replicas[0]
	}

	idx := r.counter.Add(1) - 1
	return replicas[idx%uint64(len(replicas))]
}

// RandomLoadBalancer picks a replica at random.
type RandomLoadBalancer struct{}

func (RandomLoadBalancer) Next(replicas []*sql.DB) *sql.DB {
	if len(replicas) == 0 {
		return nil
	}
	return replicas[rand.IntN(len(replicas))]
}

// ResolverOption is a functional option for configuring DBResolver.
type ResolverOption func(*DBResolver)

// WithReplicaDBs sets the replica connection pools.
func WithReplicaDBs(dbs ...*sql.DB) ResolverOption {
	return func(r *DBResolver) {
		r.replicas = dbs
	}
}

// WithLoadBalancer sets the replica selection strategy.
// Default is round-robin.
func WithLoadBalancer(lb LoadBalancer) ResolverOption {
	return func(r *DBResolver) {
		r.lb = lb
	}
}

// NewDBResolver creates a resolver around primary.
func NewDBResolver(primary *sql.DB, opts ...ResolverOption) *DBResolver {
	r := &DBResolver{primary: primary}
	for _, opt := range opts {
		opt(r)
	}
	if r.lb == nil {
		r.lb = &RoundRobinLoadBalancer{}
	}
	return r
}

func (r *DBResolver) Primary() *sql.DB { return r.primary }

// Replica returns a replica, or the primary when none is configured.
func (r *DBResolver) Replica() *sql.DB {
	if len(r.replicas) == 0 {
		return r.primary
	}
	return r.lb.Next(r.replicas)
}

func (r *DBResolver) HasReplicas() bool { return len(r.replicas) > 0 }

// Close closes the primary and every replica.
func (r *DBResolver) Close() error {
	var errs []error
	for _, db := range append([]*sql.DB{r.primary}, r.replicas...) {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
