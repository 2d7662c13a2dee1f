package relorm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// testMetadata defines a small CRM-like schema used across tests.
func testMetadata() *Metadata {
	md := NewMetadata()

	md.Define("Account").
		Attributes("name").
		HasMany("opportunities", "Opportunity", HasManyConfig{}).
		HasOne("profile", "Profile", HasOneConfig{}).
		HasChildren("notes", "Note", HasChildrenConfig{}).
		ManyMany("teams", "Team", ManyManyConfig{Columns: []string{"role"}}).
		ManyMany("portalTeams", "Team", ManyManyConfig{
			MidTable:   "entity_team",
			NearKey:    "entityId",
			Conditions: map[string]any{"entityType": "Account"},
		}).
		BelongsTo("assignedUser", "User", BelongsToConfig{})

	md.Define("Opportunity").
		Attributes("name", "amount").
		BelongsTo("account", "Account", BelongsToConfig{})

	md.Define("Team").Attributes("name")
	md.Define("User").Attributes("userName")
	md.Define("Profile").Attributes("bio", "accountId")

	md.Define("Note").
		Attributes("post").
		BelongsToParent("parent", BelongsToParentConfig{Entities: []string{"Account", "Opportunity"}})

	return md
}

// event is one recorded collaborator call.
type event struct {
	name       string
	relation   string
	target     Entity
	query      *Select
	columnData map[string]any
	opts       Options
}

type recorder struct {
	events []event
}

func (r *recorder) add(e event) { r.events = append(r.events, e) }

func (r *recorder) names() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

func (r *recorder) find(name string) []event {
	var out []event
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// fakeMapper keeps links in memory and reports whether a link is new.
type fakeMapper struct {
	rec     *recorder
	links   map[string]bool
	parent  Entity
	err     error
	columns map[string]any
	massErr error
}

func newFakeMapper(rec *recorder) *fakeMapper {
	return &fakeMapper{rec: rec, links: make(map[string]bool), columns: make(map[string]any)}
}

func (f *fakeMapper) SelectRelated(ctx context.Context, owner Entity, relationName string) (Entity, error) {
	f.rec.add(event{name: "mapper.selectRelated", relation: relationName})
	return f.parent, f.err
}

func (f *fakeMapper) Relate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any) (bool, error) {
	f.rec.add(event{name: "mapper.relate", relation: relationName, target: target, columnData: columnData})
	if f.err != nil {
		return false, f.err
	}
	key := relationName + "/" + target.ID()
	if f.links[key] {
		return false, nil
	}
	f.links[key] = true
	return true, nil
}

func (f *fakeMapper) Unrelate(ctx context.Context, owner Entity, relationName string, target Entity) error {
	f.rec.add(event{name: "mapper.unrelate", relation: relationName, target: target})
	delete(f.links, relationName+"/"+target.ID())
	return f.err
}

func (f *fakeMapper) MassRelate(ctx context.Context, owner Entity, relationName string, query *Select) error {
	f.rec.add(event{name: "mapper.massRelate", relation: relationName, query: query})
	return f.massErr
}

func (f *fakeMapper) UpdateRelationColumns(ctx context.Context, owner Entity, relationName, targetID string, columnData map[string]any) error {
	f.rec.add(event{name: "mapper.updateColumns", relation: relationName, target: NewRecordWithID("", targetID), columnData: columnData})
	for k, v := range columnData {
		f.columns[targetID+"/"+k] = v
	}
	return nil
}

func (f *fakeMapper) GetRelationColumn(ctx context.Context, owner Entity, relationName, targetID, column string) (any, error) {
	f.rec.add(event{name: "mapper.getColumn", relation: relationName, target: NewRecordWithID("", targetID)})
	return f.columns[targetID+"/"+column], nil
}

// fakeSelecter serves related records from memory. Conditions on "id" are
// honored; other conditions are ignored.
type fakeSelecter struct {
	records []Entity
	count   int

	lastQuery *Select
	lastSth   bool
	calls     int
	closed    int
}

func (f *fakeSelecter) FindRelated(ctx context.Context, owner Entity, relationName string, query *Select, sth bool) (Collection, error) {
	f.calls++
	f.lastQuery = query
	f.lastSth = sth

	var out []Entity
	for _, e := range f.records {
		if matchesID(query, e) {
			out = append(out, e)
		}
	}
	if _, limit, ok := query.LimitOffset(); ok && limit < len(out) {
		out = out[:limit]
	}
	return &closeCounter{EntityCollection: NewEntityCollection(query.From(), out...), closed: &f.closed}, nil
}

func (f *fakeSelecter) CountRelated(ctx context.Context, owner Entity, relationName string, query *Select) (int, error) {
	f.calls++
	f.lastQuery = query
	return f.count, nil
}

func matchesID(q *Select, e Entity) bool {
	for _, w := range q.WhereItems() {
		if w.Attribute == IDAttribute && w.Op == OpEq && idString(w.Value) != e.ID() {
			return false
		}
	}
	return true
}

type closeCounter struct {
	*EntityCollection
	closed *int
}

func (c *closeCounter) Close() error {
	*c.closed++
	return c.EntityCollection.Close()
}

// fakeLoader serves owners for reloads.
type fakeLoader struct {
	records map[string]Entity
	calls   int
}

func (f *fakeLoader) FetchByID(ctx context.Context, entityType, id string) (Entity, error) {
	f.calls++
	e, ok := f.records[entityType+"/"+id]
	if !ok {
		return nil, nil
	}
	return e, nil
}

// recordingHooks records every notification into the shared recorder.
type recordingHooks struct {
	rec       *recorder
	beforeErr error
}

func (h *recordingHooks) BeforeRelate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any, opts Options) error {
	h.rec.add(event{name: "beforeRelate", relation: relationName, target: target, columnData: columnData, opts: opts})
	return h.beforeErr
}

func (h *recordingHooks) AfterRelate(ctx context.Context, owner Entity, relationName string, target Entity, columnData map[string]any, opts Options) error {
	h.rec.add(event{name: "afterRelate", relation: relationName, target: target, columnData: columnData, opts: opts})
	return nil
}

func (h *recordingHooks) BeforeUnrelate(ctx context.Context, owner Entity, relationName string, target Entity, opts Options) error {
	h.rec.add(event{name: "beforeUnrelate", relation: relationName, target: target, opts: opts})
	return h.beforeErr
}

func (h *recordingHooks) AfterUnrelate(ctx context.Context, owner Entity, relationName string, target Entity, opts Options) error {
	h.rec.add(event{name: "afterUnrelate", relation: relationName, target: target, opts: opts})
	return nil
}

func (h *recordingHooks) BeforeMassRelate(ctx context.Context, owner Entity, relationName string, query *Select, opts Options) error {
	h.rec.add(event{name: "beforeMassRelate", relation: relationName, query: query, opts: opts})
	return h.beforeErr
}

func (h *recordingHooks) AfterMassRelate(ctx context.Context, owner Entity, relationName string, query *Select, opts Options) error {
	h.rec.add(event{name: "afterMassRelate", relation: relationName, query: query, opts: opts})
	return nil
}

type fakeEnv struct {
	rec      *recorder
	mapper   *fakeMapper
	selecter *fakeSelecter
	loader   *fakeLoader
	hooks    *recordingHooks
	em       *EntityManager
}

func newFakeEnv(t *testing.T) *fakeEnv {
	t.Helper()

	rec := &recorder{}
	env := &fakeEnv{
		rec:      rec,
		mapper:   newFakeMapper(rec),
		selecter: &fakeSelecter{},
		loader:   &fakeLoader{records: make(map[string]Entity)},
		hooks:    &recordingHooks{rec: rec},
	}

	em, err := NewEntityManager(testMetadata(),
		WithMapper(env.mapper),
		WithSelecter(env.selecter),
		WithLoader(env.loader),
		WithHooks(env.hooks),
	)
	require.NoError(t, err)
	env.em = em

	return env
}

func (env *fakeEnv) relation(t *testing.T, owner Entity, name string) *Relation {
	t.Helper()
	r, err := env.em.Relation(owner, name)
	require.NoError(t, err)
	return r
}
