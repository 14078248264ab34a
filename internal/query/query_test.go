package query

import (
	"database/sql"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModePermits(t *testing.T) {
	assert.True(t, Write.Permits(Write))
	assert.True(t, Write.Permits(Read))
	assert.True(t, Read.Permits(Read))
	assert.False(t, Read.Permits(Write))
}

func TestBindNamedOrdersParameters(t *testing.T) {
	d := Define("insert", None, Write, `insert into t (a, b) values (:a, :b)`)

	b := d.BindNamed(map[string]any{"b": 2, "a": 1})

	require.Len(t, b.Args, 2)
	assert.Equal(t, sql.Named("a", 1), b.Args[0])
	assert.Equal(t, sql.Named("b", 2), b.Args[1])
}

func TestBindCopiesArguments(t *testing.T) {
	d := Define("select", One, Read, `select ?`)
	args := []any{1}

	b := d.Bind(args...)
	args[0] = 2

	assert.Equal(t, []any{1}, b.Args)
}

func TestBoundOptionsDoNotMutateReceiver(t *testing.T) {
	b := Define("select", Many, Read, `select 1`).Bind()

	tuples := b.Tuples().BigIntegers().Background()

	assert.Equal(t, RowRecord, b.RowMode)
	assert.Equal(t, IntegerWord, b.IntegerMode)
	assert.Equal(t, Default, b.Priority)
	assert.Equal(t, RowTuple, tuples.RowMode)
	assert.Equal(t, IntegerBig, tuples.IntegerMode)
	assert.Equal(t, Background, tuples.Priority)
}

func TestEncode(t *testing.T) {
	d := Define("select", One, Read, `select 1 as a, 'x' as b`)

	t.Run("record", func(t *testing.T) {
		row := d.Bind().Encode([]string{"a", "b"}, []any{int64(1), "x"})
		assert.Equal(t, Record{"a": int64(1), "b": "x"}, row)
	})

	t.Run("tuple", func(t *testing.T) {
		row := d.Bind().Tuples().Encode([]string{"a", "b"}, []any{int64(1), "x"})
		assert.Equal(t, Tuple{int64(1), "x"}, row)
	})

	t.Run("big integers", func(t *testing.T) {
		row := d.Bind().Tuples().BigIntegers().Encode([]string{"a", "b"}, []any{int64(1), "x"})
		tuple := row.(Tuple)
		require.IsType(t, &big.Int{}, tuple[0])
		assert.Equal(t, 0, tuple[0].(*big.Int).Cmp(big.NewInt(1)))
		assert.Equal(t, "x", tuple[1])
	})
}

func TestExpect(t *testing.T) {
	b := Define("select", Many, Read, `select 1`).Bind()

	require.NoError(t, b.Expect(Many))

	err := b.Expect(One)
	var ce *CardinalityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, `query "select" has cardinality many, called as one`, err.Error())
}

func TestMoreThanOneError(t *testing.T) {
	err := &MoreThanOneError{Query: Define("pick", One, Read, `select 1`), Rows: 3}
	assert.Equal(t, `query "pick": expected at most one row, received 3`, err.Error())
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "one", One.String())
	assert.Equal(t, "many", Many.String())
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "r", Read.String())
	assert.Equal(t, "w", Write.String())
	assert.Equal(t, "default", Default.String())
	assert.Equal(t, "background", Background.String())
}
