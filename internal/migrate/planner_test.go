package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/intake/internal/store"
)

var (
	m1 = New(1, "1_create_alpha.sql", `create table alpha (id integer primary key) strict;`)
	m2 = New(2, "2_create_beta.sql", `create table beta (id integer primary key) strict;
create index beta_id on beta (id);`)
	m3 = New(3, "3_create_gamma.sql", `create table gamma (id integer primary key) strict;`)
)

func openTestDatabase(t *testing.T) *store.Database {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustPlan(t *testing.T, p *Planner, migrations ...Migration) Plan {
	t.Helper()
	plan, err := p.Plan(context.Background(), migrations)
	require.NoError(t, err)
	return plan
}

func mustAct(t *testing.T, p *Planner, plan Plan) {
	t.Helper()
	s, ok := Peek(plan)
	require.True(t, ok, "plan is not viable: %v", plan)
	require.NoError(t, p.Act(context.Background(), s))
}

func TestPlanLifecycle(t *testing.T) {
	p := NewPlanner(openTestDatabase(t))

	plan := mustPlan(t, p, m1)
	require.True(t, Viable(plan))
	s, _ := Peek(plan)
	assert.Equal(t, Initial, s.Kind)
	assert.Equal(t, []Migration{m1}, s.Pending)

	mustAct(t, p, plan)

	s, _ = Peek(mustPlan(t, p, m1))
	assert.Equal(t, Inert, s.Kind)
	assert.Empty(t, s.Pending)

	s, _ = Peek(mustPlan(t, p, m2, m1))
	assert.Equal(t, Subsequent, s.Kind)
	assert.Equal(t, []Migration{m2}, s.Pending)
}

func TestPlanSortsPending(t *testing.T) {
	p := NewPlanner(openTestDatabase(t))

	s, ok := Peek(mustPlan(t, p, m3, m1, m2))
	require.True(t, ok)
	assert.Equal(t, []Migration{m1, m2, m3}, s.Pending)
}

func TestPlanDuplicateIdentifier(t *testing.T) {
	db := openTestDatabase(t)
	p := NewPlanner(db)

	duplicate := New(1, "1_other.sql", `select 1;`)
	plan := mustPlan(t, p, m1, duplicate)
	require.False(t, Viable(plan))

	failure := plan.(*Failure)
	assert.Equal(t, DuplicateIdentifier, failure.Kind)
	assert.Equal(t, duplicate, *failure.Migration)

	exists, err := db.TableExists(context.Background(), LedgerTable)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPlanMalformedMigration(t *testing.T) {
	p := NewPlanner(openTestDatabase(t))

	negative := New(-1, "negative.sql", `select 1;`)
	plan := mustPlan(t, p, m1, negative)

	failure, ok := plan.(*Failure)
	require.True(t, ok)
	assert.Equal(t, MalformedMigration, failure.Kind)
	assert.Equal(t, int64(-1), failure.Migration.ID)
}

func TestPlanUnexpectedMigration(t *testing.T) {
	p := NewPlanner(openTestDatabase(t))
	mustAct(t, p, mustPlan(t, p, m1))

	changed := New(1, m1.Name, `create table alpha (id integer primary key, extra text) strict;`)
	plan := mustPlan(t, p, changed)

	failure, ok := plan.(*Failure)
	require.True(t, ok)
	assert.Equal(t, UnexpectedMigration, failure.Kind)
	assert.Equal(t, m1.Descriptor, *failure.Expected)
	assert.Equal(t, changed, *failure.Migration)
	assert.Contains(t, failure.Error(), "unexpected-migration")
}

func TestPlanTableIntegrityViolation(t *testing.T) {
	db := openTestDatabase(t)
	p := NewPlanner(db)
	mustAct(t, p, mustPlan(t, p, m1))

	require.NoError(t, db.Exec(context.Background(), `update migration set id = -1 where id = 1`))

	plan := mustPlan(t, p, m1)
	failure, ok := plan.(*Failure)
	require.True(t, ok)
	assert.Equal(t, TableIntegrityViolation, failure.Kind)
	assert.Equal(t, int64(-1), failure.Found["id"])
}

func TestActRecordsLedger(t *testing.T) {
	db := openTestDatabase(t)
	epoch := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewPlanner(db, WithClock(testclock.NewClock(epoch)))
	mustAct(t, p, mustPlan(t, p, m1, m2))

	rows, err := db.Query(context.Background(),
		`select id, name, hash, created_at from migration order by rowid`)
	require.NoError(t, err)
	defer rows.Close()

	var got []Descriptor
	for rows.Next() {
		var d Descriptor
		var createdAt int64
		require.NoError(t, rows.Scan(&d.ID, &d.Name, &d.Hash, &createdAt))
		assert.Equal(t, epoch.Unix(), createdAt)
		got = append(got, d)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []Descriptor{m1.Descriptor, m2.Descriptor}, got)

	for _, table := range []string{"alpha", "beta"} {
		exists, err := db.TableExists(context.Background(), table)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}

func TestActStopsAtFailingMigration(t *testing.T) {
	db := openTestDatabase(t)
	p := NewPlanner(db)

	broken := New(2, "2_broken.sql", `create table half (id integer) strict; insert into nowhere values (1);`)
	s, ok := Peek(mustPlan(t, p, m1, broken, m3))
	require.True(t, ok)

	err := p.Act(context.Background(), s)
	var actErr *ActError
	require.True(t, errors.As(err, &actErr))
	assert.Equal(t, broken.Descriptor, actErr.Migration)

	ctx := context.Background()
	for table, want := range map[string]bool{"alpha": true, "half": false, "gamma": false} {
		exists, err := db.TableExists(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, exists, table)
	}

	// Fixing the migration resumes where the failure left off.
	fixed := New(2, "2_broken.sql", `create table half (id integer) strict;`)
	s, ok = Peek(mustPlan(t, p, m1, fixed, m3))
	require.True(t, ok)
	assert.Equal(t, Subsequent, s.Kind)
	assert.Equal(t, []Migration{fixed, m3}, s.Pending)
}

func TestMigrate(t *testing.T) {
	p := NewPlanner(openTestDatabase(t))
	ctx := context.Background()

	s, err := p.Migrate(ctx, []Migration{m1})
	require.NoError(t, err)
	assert.Equal(t, Initial, s.Kind)

	_, err = p.Migrate(ctx, []Migration{m1, New(1, "1_again.sql", "")})
	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, DuplicateIdentifier, failure.Kind)
}

func TestDiscover(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_init.sql":     {Data: []byte(`create table a (id integer) strict;`)},
		"0002-more.sql":     {Data: []byte(`create table b (id integer) strict;`)},
		"README.md":         {Data: []byte(`notes`)},
		"draft.sql":         {Data: []byte(`select 1;`)},
		"nested/0003_x.sql": {Data: []byte(`select 1;`)},
	}

	migrations, err := Discover(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, int64(1), migrations[0].ID)
	assert.Equal(t, "0001_init.sql", migrations[0].Name)
	assert.Equal(t, Hash([]byte(`create table a (id integer) strict;`)), migrations[0].Hash)
	assert.Len(t, migrations[0].Hash, 64)

	assert.Equal(t, int64(2), migrations[1].ID)
	assert.Equal(t, "0002-more.sql", migrations[1].Name)
}
