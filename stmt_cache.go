package relorm

import (
	"container/list"
	"context"
	"database/sql"
	"sync"
)

// StmtCache is an LRU cache of prepared statements, keyed by connection
// pool and query. Statements evicted while in use are closed on release.
type StmtCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[stmtKey]*list.Element
	lru      *list.List
}

type stmtKey struct {
	db    *sql.DB
	query string
}

type cachedStmt struct {
	key     stmtKey
	stmt    *sql.Stmt
	inUse   int
	evicted bool
}

// NewStmtCache creates a cache holding up to capacity statements.
// A capacity of 0 or less defaults to 100.
func NewStmtCache(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &StmtCache{
		capacity: capacity,
		entries:  make(map[stmtKey]*list.Element),
		lru:      list.New(),
	}
}

// Prepare returns a prepared statement for query on db, preparing it on a
// miss. The caller must call release once done with the statement.
func (c *StmtCache) Prepare(ctx context.Context, db *sql.DB, query string) (stmt *sql.Stmt, release func(), err error) {
	key := stmtKey{db: db, query: query}

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		entry := c.acquire(el)
		c.mu.Unlock()
		return entry.stmt, func() { c.release(entry) }, nil
	}
	c.mu.Unlock()

	prepared, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have prepared the same query meanwhile.
	if el, ok := c.entries[key]; ok {
		_ = prepared.Close()
		entry := c.acquire(el)
		return entry.stmt, func() { c.release(entry) }, nil
	}

	entry := &cachedStmt{key: key, stmt: prepared, inUse: 1}
	c.entries[key] = c.lru.PushFront(entry)
	for c.lru.Len() > c.capacity {
		c.evict(c.lru.Back())
	}

	return entry.stmt, func() { c.release(entry) }, nil
}

// acquire must be called with c.mu held.
func (c *StmtCache) acquire(el *list.Element) *cachedStmt {
	c.lru.MoveToFront(el)
	entry := el.Value.(*cachedStmt)
	entry.inUse++
	return entry
}

// evict must be called with c.mu held.
func (c *StmtCache) evict(el *list.Element) {
	entry := el.Value.(*cachedStmt)
	c.lru.Remove(el)
	delete(c.entries, entry.key)
	entry.evicted = true
	if entry.inUse == 0 {
		_ = entry.stmt.Close()
	}
}

func (c *StmtCache) release(entry *cachedStmt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.inUse--
	if entry.evicted && entry.inUse == 0 {
		_ = entry.stmt.Close()
	}
}

// Len returns the number of cached statements.
func (c *StmtCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close evicts every statement. Statements still in use close on release.
func (c *StmtCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.lru.Len() > 0 {
		c.evict(c.lru.Back())
	}
	return nil
}
