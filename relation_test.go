package relorm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(id string) *Record {
	r := NewRecord("Account")
	if id != "" {
		r.Set(IDAttribute, id)
	}
	return r
}

func note(id string) *Record {
	r := NewRecord("Note")
	if id != "" {
		r.Set(IDAttribute, id)
	}
	return r
}

func TestNewRelation_OwnerWithoutID(t *testing.T) {
	env := newFakeEnv(t)

	for _, name := range []string{"teams", "opportunities", "assignedUser", "unknown", ""} {
		t.Run(name, func(t *testing.T) {
			_, err := env.em.Relation(account(""), name)
			require.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestNewRelation_UnknownRelation(t *testing.T) {
	env := newFakeEnv(t)

	_, err := env.em.Relation(account("1"), "contacts")
	require.ErrorIs(t, err, ErrUnknownRelation)

	var relErr *RelationError
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, "contacts", relErr.Relation)
	assert.Equal(t, "Account", relErr.EntityType)
}

func TestNewRelation_NoBuilderOnlyForBelongsToParent(t *testing.T) {
	env := newFakeEnv(t)
	md := env.em.Metadata()

	for _, entityType := range md.EntityTypes() {
		def, _ := md.Entity(entityType)
		for _, name := range def.RelationNames() {
			owner := NewRecordWithID(entityType, "1")
			r := env.relation(t, owner, name)

			assert.Equal(t, r.Kind() == RelationBelongsToParent, r.noBuilder, "%s.%s", entityType, name)

			foreign, ok := r.ForeignEntityType()
			assert.Equal(t, r.Kind() != RelationBelongsToParent, ok, "%s.%s", entityType, name)
			assert.Equal(t, def.Relations[name].Entity, foreign)
		}
	}
}

func TestRelation_BelongsToParent_BuilderOperationsUnsupported(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, note("n1"), "parent")

	builders := map[string]*RelationSelectBuilder{
		"join":         r.Join("teams", ""),
		"leftJoin":     r.LeftJoin("teams", ""),
		"distinct":     r.Distinct(),
		"sth":          r.Sth(),
		"where":        r.Where("name", "Acme"),
		"having":       r.Having("name", "Acme"),
		"order":        r.Order(),
		"limit":        r.Limit(0, 10),
		"select":       r.Select("id"),
		"groupBy":      r.GroupBy("name"),
		"columnsWhere": r.ColumnsWhere("role", "lead"),
	}
	for name, b := range builders {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, b.Err(), ErrUnsupportedOperation)

			_, err := b.Find(ctx)
			require.ErrorIs(t, err, ErrUnsupportedOperation)

			_, err = b.Count(ctx)
			require.ErrorIs(t, err, ErrUnsupportedOperation)
		})
	}

	_, err := r.CreateSelectBuilder(nil)
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = r.Clone(NewSelect("Account"))
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = r.Count(ctx)
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	require.ErrorIs(t, r.RelateByID(ctx, "a1", nil, Options{}), ErrUnsupportedOperation)
	require.ErrorIs(t, r.UnrelateByID(ctx, "a1", Options{}), ErrUnsupportedOperation)
	require.ErrorIs(t, r.MassRelate(ctx, NewSelect("Account"), Options{}), ErrUnsupportedOperation)

	_, err = r.IsRelatedByID(ctx, "a1")
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	assert.Empty(t, env.rec.events)
	assert.Zero(t, env.selecter.calls)
}

func TestRelation_BelongsToParent_Find(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		env := newFakeEnv(t)
		parent := account("a1")
		env.mapper.parent = parent
		r := env.relation(t, note("n1"), "parent")

		c, err := r.Find(ctx)
		require.NoError(t, err)

		ec, ok := c.(*EntityCollection)
		require.True(t, ok)
		assert.True(t, ec.IsFetched())
		require.Equal(t, 1, ec.Len())
		assert.Same(t, parent, ec.First())

		one, err := r.FindOne(ctx)
		require.NoError(t, err)
		assert.Same(t, parent, one)

		assert.Len(t, env.rec.find("mapper.selectRelated"), 2)
		assert.Zero(t, env.selecter.calls)
	})

	t.Run("missing", func(t *testing.T) {
		env := newFakeEnv(t)
		r := env.relation(t, note("n1"), "parent")

		c, err := r.Find(ctx)
		require.NoError(t, err)
		ec := c.(*EntityCollection)
		assert.True(t, ec.IsFetched())
		assert.Zero(t, ec.Len())
		assert.False(t, c.Next())

		one, err := r.FindOne(ctx)
		require.NoError(t, err)
		assert.Nil(t, one)
	})

	t.Run("mapper error", func(t *testing.T) {
		env := newFakeEnv(t)
		boom := errors.New("boom")
		env.mapper.err = boom
		r := env.relation(t, note("n1"), "parent")

		_, err := r.Find(ctx)
		require.ErrorIs(t, err, boom)
	})
}

func TestRelation_IsRelated_CandidateWithoutID(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()

	cases := []struct {
		owner     Entity
		relation  string
		candidate Entity
	}{
		{note("n1"), "parent", NewRecord("Account")},
		{account("1"), "assignedUser", NewRecord("User")},
		{account("1"), "teams", NewRecord("Team")},
		{account("1"), "opportunities", NewRecord("Opportunity")},
		{account("1"), "notes", NewRecord("Note")},
		{account("1"), "profile", NewRecord("Profile")},
		{account("1"), "teams", nil},
	}

	for _, tc := range cases {
		t.Run(tc.relation, func(t *testing.T) {
			r := env.relation(t, tc.owner, tc.relation)
			_, err := r.IsRelated(ctx, tc.candidate)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	assert.Zero(t, env.loader.calls)
	assert.Zero(t, env.selecter.calls)
}

func TestRelation_IsRelated_BelongsToParent(t *testing.T) {
	ctx := context.Background()

	t.Run("attributes in memory", func(t *testing.T) {
		env := newFakeEnv(t)
		owner := note("n1")
		owner.Set("parentId", "a1")
		owner.Set("parentType", "Account")
		r := env.relation(t, owner, "parent")

		ok, err := r.IsRelated(ctx, account("a1"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.IsRelated(ctx, NewRecordWithID("Opportunity", "a1"))
		require.NoError(t, err)
		assert.False(t, ok, "same id of another type is not the parent")

		ok, err = r.IsRelated(ctx, account("a2"))
		require.NoError(t, err)
		assert.False(t, ok)

		assert.Zero(t, env.loader.calls)
	})

	t.Run("reloads owner", func(t *testing.T) {
		env := newFakeEnv(t)
		stored := note("n1")
		stored.Set("parentId", "a1")
		stored.Set("parentType", "Account")
		env.loader.records["Note/n1"] = stored

		owner := note("n1")
		owner.Set("parentId", "a1") // type not loaded
		r := env.relation(t, owner, "parent")

		ok, err := r.IsRelated(ctx, account("a1"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, env.loader.calls)
	})

	t.Run("owner gone", func(t *testing.T) {
		env := newFakeEnv(t)
		r := env.relation(t, note("n1"), "parent")

		ok, err := r.IsRelated(ctx, account("a1"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, env.loader.calls)
	})
}

func TestRelation_IsRelated_BelongsTo(t *testing.T) {
	ctx := context.Background()
	user := NewRecordWithID("User", "u1")

	t.Run("key in memory", func(t *testing.T) {
		env := newFakeEnv(t)
		owner := account("1")
		owner.Set("assignedUserId", "u1")
		r := env.relation(t, owner, "assignedUser")

		ok, err := r.IsRelated(ctx, user)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.IsRelatedByID(ctx, "u2")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, env.loader.calls)
	})

	t.Run("reloads owner", func(t *testing.T) {
		env := newFakeEnv(t)
		stored := account("1")
		stored.Set("assignedUserId", "u1")
		env.loader.records["Account/1"] = stored

		r := env.relation(t, account("1"), "assignedUser")
		ok, err := r.IsRelated(ctx, user)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, env.loader.calls)
	})

	t.Run("owner gone", func(t *testing.T) {
		env := newFakeEnv(t)
		r := env.relation(t, account("1"), "assignedUser")

		ok, err := r.IsRelated(ctx, user)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("nil key in memory", func(t *testing.T) {
		env := newFakeEnv(t)
		owner := account("1")
		owner.Set("assignedUserId", nil)
		r := env.relation(t, owner, "assignedUser")

		ok, err := r.IsRelated(ctx, user)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, env.loader.calls)
	})
}

func TestRelation_IsRelated_ThroughQuery(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	env.selecter.records = []Entity{NewRecordWithID("Team", "t1"), NewRecordWithID("Team", "t2")}
	r := env.relation(t, account("1"), "teams")

	ok, err := r.IsRelated(ctx, NewRecordWithID("Team", "t2"))
	require.NoError(t, err)
	assert.True(t, ok)

	q := env.selecter.lastQuery
	assert.Equal(t, []string{IDAttribute}, q.SelectedAttributes())
	assert.Equal(t, []WhereItem{{Attribute: IDAttribute, Op: OpEq, Value: "t2"}}, q.WhereItems())
	assert.True(t, env.selecter.lastSth)
	assert.Equal(t, 1, env.selecter.closed)

	ok, err = r.IsRelatedByID(ctx, "t3")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.IsRelated(ctx, NewRecordWithID("User", "t1"))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRelation_Relate_Idempotent(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "opportunities")
	opp := NewRecordWithID("Opportunity", "o1")

	require.NoError(t, r.Relate(ctx, opp, nil, Options{}))
	require.NoError(t, r.Relate(ctx, opp, nil, Options{}))

	assert.Equal(t, []string{
		"beforeRelate", "mapper.relate", "afterRelate",
		"beforeRelate", "mapper.relate",
	}, env.rec.names())
	assert.Len(t, env.rec.find("afterRelate"), 1)
}

func TestRelation_Relate_BeforeHookErrorStops(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	denied := errors.New("denied")
	env.hooks.beforeErr = denied
	r := env.relation(t, account("1"), "teams")

	require.ErrorIs(t, r.RelateByID(ctx, "t1", nil, Options{}), denied)
	require.ErrorIs(t, r.UnrelateByID(ctx, "t1", Options{}), denied)
	require.ErrorIs(t, r.MassRelate(ctx, NewSelect("Team"), Options{}), denied)

	assert.Equal(t, []string{"beforeRelate", "beforeUnrelate", "beforeMassRelate"}, env.rec.names())
}

func TestRelation_Relate_MapperErrorPropagates(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	boom := errors.New("boom")
	env.mapper.err = boom
	r := env.relation(t, account("1"), "teams")

	err := r.RelateByID(ctx, "t1", nil, Options{})
	require.Same(t, boom, err, "mapper errors are not translated")
	assert.Empty(t, env.rec.find("afterRelate"))
}

func TestRelation_ForeignTypeMismatch(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	wrong := NewRecordWithID("Contact", "c1")

	md := env.em.Metadata()
	for _, entityType := range md.EntityTypes() {
		def, _ := md.Entity(entityType)
		for _, name := range def.RelationNames() {
			rel := def.Relations[name]
			if rel.Entity == "" {
				continue
			}

			t.Run(entityType+"."+name, func(t *testing.T) {
				r := env.relation(t, NewRecordWithID(entityType, "1"), name)

				require.ErrorIs(t, r.Relate(ctx, wrong, nil, Options{}), ErrTypeMismatch)
				require.ErrorIs(t, r.Unrelate(ctx, wrong, Options{}), ErrTypeMismatch)
				require.ErrorIs(t, r.UpdateColumns(ctx, wrong, map[string]any{"role": "x"}), ErrTypeMismatch)

				_, err := r.GetColumn(ctx, wrong, "role")
				require.ErrorIs(t, err, ErrTypeMismatch)

				_, err = r.IsRelated(ctx, wrong)
				if rel.Kind != RelationBelongsTo {
					require.ErrorIs(t, err, ErrTypeMismatch)
				}
			})
		}
	}

	assert.Empty(t, env.rec.find("mapper.relate"))
	assert.Empty(t, env.rec.find("mapper.unrelate"))
}

func TestRelation_MutationsRequireTargetID(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "teams")

	require.ErrorIs(t, r.Relate(ctx, NewRecord("Team"), nil, Options{}), ErrInvalidArgument)
	require.ErrorIs(t, r.Unrelate(ctx, NewRecord("Team"), Options{}), ErrInvalidArgument)
	require.ErrorIs(t, r.RelateByID(ctx, "", nil, Options{}), ErrInvalidArgument)
	require.ErrorIs(t, r.UnrelateByID(ctx, "", Options{}), ErrInvalidArgument)
	require.ErrorIs(t, r.UpdateColumnsByID(ctx, "", nil), ErrInvalidArgument)

	_, err := r.GetColumnByID(ctx, "", "role")
	require.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, env.rec.events)
}

func TestRelation_BelongsToParent_RelateAcceptsAnyType(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, note("n1"), "parent")

	require.NoError(t, r.Relate(ctx, NewRecordWithID("Opportunity", "o1"), nil, Options{}))
	require.NoError(t, r.Unrelate(ctx, NewRecordWithID("Opportunity", "o1"), Options{}))

	assert.Equal(t, []string{
		"beforeRelate", "mapper.relate", "afterRelate",
		"beforeUnrelate", "mapper.unrelate", "afterUnrelate",
	}, env.rec.names())
}

func TestRelation_Columns_OnlyManyMany(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()

	cases := []struct {
		owner    Entity
		relation string
		target   Entity
	}{
		{account("1"), "opportunities", NewRecordWithID("Opportunity", "o1")},
		{account("1"), "profile", NewRecordWithID("Profile", "p1")},
		{account("1"), "notes", NewRecordWithID("Note", "n1")},
		{account("1"), "assignedUser", NewRecordWithID("User", "u1")},
		{note("n1"), "parent", account("a1")},
	}

	for _, tc := range cases {
		t.Run(tc.relation, func(t *testing.T) {
			r := env.relation(t, tc.owner, tc.relation)

			require.ErrorIs(t, r.UpdateColumns(ctx, tc.target, map[string]any{"role": "lead"}), ErrUnsupportedOperation)
			_, err := r.GetColumn(ctx, tc.target, "role")
			require.ErrorIs(t, err, ErrUnsupportedOperation)
		})
	}

	assert.Empty(t, env.rec.events)
}

func TestRelation_Columns_ManyMany(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "teams")

	require.NoError(t, r.UpdateColumnsByID(ctx, "t1", map[string]any{"role": "lead"}))

	v, err := r.GetColumnByID(ctx, "t1", "role")
	require.NoError(t, err)
	assert.Equal(t, "lead", v)

	v, err = r.GetColumn(ctx, NewRecordWithID("Team", "t2"), "role")
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Empty(t, env.rec.find("beforeRelate"), "column updates run no hooks")
	assert.Equal(t, []string{"mapper.updateColumns", "mapper.getColumn", "mapper.getColumn"}, env.rec.names())
}

// A many-to-many relation "teams" on an account with id "1": relating by id
// relates a placeholder team and fires the after hook with it.
func TestRelation_RelateByID_ManyMany(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "teams")

	require.NoError(t, r.RelateByID(ctx, "2", nil, Options{}))

	relates := env.rec.find("mapper.relate")
	require.Len(t, relates, 1)
	placeholder := relates[0].target
	assert.Equal(t, "Team", placeholder.EntityType())
	assert.Equal(t, "2", placeholder.ID())
	assert.Equal(t, map[string]any{IDAttribute: "2"}, placeholder.(*Record).Attributes())

	after := env.rec.find("afterRelate")
	require.Len(t, after, 1)
	assert.Same(t, placeholder, after[0].target)
	assert.Equal(t, Options{}, after[0].opts)
	assert.Equal(t, "teams", after[0].relation)
}

// An account without opportunities: FindOne returns nothing and no error.
func TestRelation_FindOne_EmptyHasMany(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "opportunities")

	e, err := r.FindOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)

	assert.True(t, env.selecter.lastSth, "findOne streams")
	offset, limit, ok := env.selecter.lastQuery.LimitOffset()
	assert.True(t, ok)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 1, limit)
	assert.Equal(t, 1, env.selecter.closed)
}

func TestRelation_FindOne_ReturnsFirst(t *testing.T) {
	env := newFakeEnv(t)
	first := NewRecordWithID("Opportunity", "o1")
	env.selecter.records = []Entity{first, NewRecordWithID("Opportunity", "o2")}
	r := env.relation(t, account("1"), "opportunities")

	e, err := r.FindOne(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, e)
}

// Order without arguments orders by id ascending.
func TestNewRelation_NilEntityManager(t *testing.T) {
	_, err := NewRelation(nil, account("1"), "teams")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRelation_Order_TooManyArguments(t *testing.T) {
	env := newFakeEnv(t)
	r := env.relation(t, account("1"), "opportunities")

	_, err := r.Order("amount", DESC, "name").Find(context.Background())
	require.ErrorIs(t, err, ErrInvalidArgument)

	var relErr *RelationError
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, "opportunities", relErr.Relation)
	assert.Equal(t, "Account", relErr.EntityType)
	assert.Zero(t, env.selecter.calls)
}

func TestRelation_BelongsTo_ForeignKeyNeedsLoader(t *testing.T) {
	md := NewMetadata()
	md.Define("Country").Attributes("code")
	md.Define("City").BelongsTo("country", "Country", BelongsToConfig{ForeignKey: "code"})

	rec := &recorder{}
	em, err := NewEntityManager(md,
		WithMapper(newFakeMapper(rec)),
		WithSelecter(&fakeSelecter{}),
		WithHooks(&recordingHooks{rec: rec}),
	)
	require.NoError(t, err)

	r, err := em.Relation(NewRecordWithID("City", "x1"), "country")
	require.NoError(t, err)

	err = r.UnrelateByID(context.Background(), "c1", Options{})
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.Empty(t, rec.events, "no hook or mapper call without the foreign code")

	france := NewRecordWithID("Country", "c1")
	france.Set("code", "FR")
	require.NoError(t, r.Relate(context.Background(), france, nil, Options{}))
	assert.Equal(t, []string{"beforeRelate", "mapper.relate", "afterRelate"}, rec.names())
}

func TestRelation_Order_DefaultsToID(t *testing.T) {
	env := newFakeEnv(t)
	r := env.relation(t, account("1"), "opportunities")

	b := r.Order()
	require.NoError(t, b.Err())
	assert.Equal(t, []Order{{Attribute: IDAttribute, Direction: ASC}}, b.Query().Orders())

	c := &compiler{md: env.em.Metadata(), dialect: Dialects.SQLite3}
	rel, _ := env.em.Metadata().Relation("Account", "opportunities")
	sqlStr, args, err := c.compileSelect(b.Query(), account("1"), rel, modeRows)
	require.NoError(t, err)
	assert.Contains(t, sqlStr, `ORDER BY "opportunity"."id" ASC`)
	assert.Equal(t, []any{"1"}, args)
}

func TestRelation_EntryPointsCreateNewBuilders(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "opportunities")

	b1 := r.Where("name", "Big deal")
	b2 := r.Where("name", "Small deal")
	assert.NotSame(t, b1, b2)
	assert.Len(t, b1.Query().WhereItems(), 1)
	assert.Len(t, b2.Query().WhereItems(), 1)

	env.selecter.count = 7
	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Empty(t, env.selecter.lastQuery.WhereItems(), "count does not see earlier builders")
}

func TestRelation_Where_FormsAreEquivalent(t *testing.T) {
	env := newFakeEnv(t)
	r := env.relation(t, account("1"), "opportunities")

	structured := r.Where(Cond("amount>", 100)).Query().WhereItems()
	fromMap := r.Where(map[string]any{"amount>": 100}).Query().WhereItems()
	fromPair := r.Where("amount>", 100).Query().WhereItems()

	want := []WhereItem{{Attribute: "amount", Op: OpGt, Value: 100}}
	assert.Equal(t, want, structured)
	assert.Equal(t, want, fromMap)
	assert.Equal(t, want, fromPair)

	havingPair := r.Having("amount>", 100).Query().HavingItems()
	assert.Equal(t, want, havingPair)

	bad := r.Where(42)
	require.ErrorIs(t, bad.Err(), ErrInvalidArgument)
}

func TestRelation_ColumnsWhere(t *testing.T) {
	env := newFakeEnv(t)

	teams := env.relation(t, account("1"), "teams").ColumnsWhere("role", "lead")
	require.NoError(t, teams.Err())
	assert.Equal(t, []WhereItem{{Attribute: "teamsMiddle.role", Op: OpEq, Value: "lead"}}, teams.Query().WhereItems())

	opps := env.relation(t, account("1"), "opportunities").ColumnsWhere("role", "lead")
	require.ErrorIs(t, opps.Err(), ErrUnsupportedOperation)
}

func TestRelation_Clone(t *testing.T) {
	env := newFakeEnv(t)
	r := env.relation(t, account("1"), "teams")

	seed := NewSelect("Team").Where(Cond("name", "Sales"))
	b, err := r.Clone(seed)
	require.NoError(t, err)
	b.Where("name!=", "Support")
	assert.Len(t, seed.WhereItems(), 1, "seed is not modified")
	assert.Len(t, b.Query().WhereItems(), 2)

	_, err = r.Clone(NewSelect("Opportunity"))
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = r.Clone(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRelation_MassRelate(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "teams")
	opts := Options{Extra: map[string]any{"source": "import"}}

	q := NewSelect("Team").Where(Cond("name*", "Sales%"))
	require.NoError(t, r.MassRelate(ctx, q, opts))

	assert.Equal(t, []string{"beforeMassRelate", "mapper.massRelate", "afterMassRelate"}, env.rec.names())
	for _, e := range env.rec.events {
		assert.Same(t, q, e.query)
	}
	assert.Equal(t, opts, env.rec.find("afterMassRelate")[0].opts)

	require.ErrorIs(t, r.MassRelate(ctx, NewSelect("Opportunity"), Options{}), ErrTypeMismatch)
	require.ErrorIs(t, r.MassRelate(ctx, nil, Options{}), ErrInvalidArgument)
	assert.Len(t, env.rec.events, 3)
}

func TestRelation_Unrelate(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "opportunities")
	opts := Options{SkipHooks: true, Extra: map[string]any{"k": "v"}}

	require.NoError(t, r.UnrelateByID(ctx, "o1", opts))

	assert.Equal(t, []string{"beforeUnrelate", "mapper.unrelate", "afterUnrelate"}, env.rec.names())
	assert.Equal(t, opts, env.rec.events[0].opts, "options reach hooks verbatim")
	assert.Equal(t, opts, env.rec.events[2].opts)
}

func TestRelation_Relate_PassesColumnData(t *testing.T) {
	env := newFakeEnv(t)
	ctx := context.Background()
	r := env.relation(t, account("1"), "teams")
	data := map[string]any{"role": "lead"}

	require.NoError(t, r.RelateByID(ctx, "t1", data, Options{}))

	for _, e := range env.rec.events {
		assert.Equal(t, data, e.columnData, e.name)
	}
}

func TestNewEntityManager_Requirements(t *testing.T) {
	_, err := NewEntityManager(nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEntityManager(testMetadata())
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEntityManager(testMetadata(), WithMapper(newFakeMapper(&recorder{})))
	require.ErrorIs(t, err, ErrInvalidConfig, "fake mapper does not select")

	em, err := NewEntityManager(testMetadata(),
		WithMapper(newFakeMapper(&recorder{})),
		WithSelecter(&fakeSelecter{}))
	require.NoError(t, err)
	assert.IsType(t, NopHookMediator{}, em.hooks)

	_, err = em.GetEntityByID(context.Background(), "Account", "1")
	require.ErrorIs(t, err, ErrInvalidConfig)
}
