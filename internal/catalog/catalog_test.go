package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlpipe/internal/executor"
	"github.com/roach88/sqlpipe/internal/op"
	"github.com/roach88/sqlpipe/internal/store"
	"github.com/roach88/sqlpipe/internal/value"
)

type runner struct {
	t    *testing.T
	exec *executor.Executor
	sess executor.Session
}

func newRunner(t *testing.T) *runner {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &runner{t: t, exec: executor.New(), sess: s.Conn()}
}

func (r *runner) run(o Operation) op.Result {
	r.t.Helper()
	req := op.NewQuery(o.Name, o.SQL, o.Params, time.Time{})
	res, err := r.exec.Execute(context.Background(), r.sess, req)
	require.NoError(r.t, err, o.SQL)
	require.True(r.t, res.Success, res.Error)
	return res
}

func (r *runner) rows(o Operation) value.List {
	r.t.Helper()
	list, ok := value.AsList(r.run(o).Data)
	require.True(r.t, ok)
	return list
}

func col(t *testing.T, row value.Value, key string) value.Value {
	t.Helper()
	m, ok := value.AsMap(row)
	require.True(t, ok)
	v, ok := m.Get(key)
	require.True(t, ok, "missing column %s", key)
	return v
}

func affected(t *testing.T, res op.Result) value.Value {
	return col(t, res.Data, "affected_rows")
}

func TestUsers_Lifecycle(t *testing.T) {
	r := newRunner(t)

	r.run(NewAddUser("Ada Lovelace", "ada@example.com", 36))
	r.run(NewAddUser("Grace Hopper", "grace@navy.mil", 85))

	all := r.rows(NewGetAllUsers())
	require.Len(t, all, 2)
	assert.Equal(t, value.String("Ada Lovelace"), col(t, all[0], "name"))

	found := r.rows(NewFindUsersByName("Hop"))
	require.Len(t, found, 1)
	assert.Equal(t, value.String("grace@navy.mil"), col(t, found[0], "email"))

	assert.Len(t, r.rows(NewFindUsersByEmail("example.com")), 1)

	upd, err := NewUpdateUser(1, map[string]any{"age": 37, "name": "Ada King"})
	require.NoError(t, err)
	assert.Equal(t, value.Int(1), affected(t, r.run(upd)))

	got := r.rows(NewGetUserByID(1))
	require.Len(t, got, 1)
	assert.Equal(t, value.String("Ada King"), col(t, got[0], "name"))
	assert.Equal(t, value.Int(37), col(t, got[0], "age"))

	assert.Equal(t, value.Int(1), affected(t, r.run(NewDeleteUser(2))))
	assert.Empty(t, r.rows(NewGetUserByID(2)))
}

func TestProducts_StockAndPriceRange(t *testing.T) {
	r := newRunner(t)

	r.run(NewAddProduct("Laptop", 5999.99, 10))
	r.run(NewAddProduct("Phone", 2999.5, 3))
	r.run(NewAddProduct("Tablet", 1999, 0))

	ranged := r.rows(NewFindProductsByPriceRange(2000, 6000))
	require.Len(t, ranged, 2)
	assert.Equal(t, value.String("Phone"), col(t, ranged[0], "name"))

	r.run(NewUpdateProductStock(3, 5))
	r.run(NewIncreaseProductStock(3, 2))
	assert.Equal(t, value.Int(1), affected(t, r.run(NewDecreaseProductStock(1, 3))))
	assert.Equal(t, value.Int(0), affected(t, r.run(NewDecreaseProductStock(1, 1000))))

	laptop := r.rows(NewGetProductByID(1))
	assert.Equal(t, value.Int(7), col(t, laptop[0], "stock"))
	tablet := r.rows(NewFindProductsByName("Tab"))
	assert.Equal(t, value.Int(7), col(t, tablet[0], "stock"))

	upd, err := NewUpdateProduct(2, map[string]any{"price": 2499.0})
	require.NoError(t, err)
	r.run(upd)
	assert.Equal(t, value.Double(2499), col(t, r.rows(NewGetProductByID(2))[0], "price"))

	r.run(NewDeleteProduct(2))
	assert.Len(t, r.rows(NewGetAllProducts()), 2)
}

func TestUpdate_Validation(t *testing.T) {
	_, err := NewUpdateUser(1, nil)
	assert.ErrorContains(t, err, "no fields")

	_, err = NewUpdateUser(1, map[string]any{"id": 2})
	assert.ErrorContains(t, err, `unknown column "id"`)

	_, err = NewUpdateProduct(1, map[string]any{"name": struct{}{}})
	assert.Error(t, err)
}

func TestUpdate_SortsColumns(t *testing.T) {
	o, err := NewUpdateProduct(4, map[string]any{"stock": 1, "name": "x", "price": 2.5})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE products SET name = :name, price = :price, stock = :stock WHERE id = :id", o.SQL)
	assert.Equal(t, int64(4), o.Params.Ints["id"])
}

func TestBatchInsert(t *testing.T) {
	r := newRunner(t)

	users, err := NewBatchInsertUsers([]User{
		{Name: "Ada", Email: "ada@example.com", Age: 36},
		{Name: "Alan", Email: "alan@example.com", Age: 41},
	})
	require.NoError(t, err)
	assert.Equal(t, BatchUsers, users.Name)
	assert.Equal(t, value.Int(2), affected(t, r.run(users)))

	products, err := NewBatchInsertProducts([]Product{{Name: "Pen", Price: 1.5, Stock: 100}})
	require.NoError(t, err)
	r.run(products)
	assert.Len(t, r.rows(NewGetAllProducts()), 1)

	_, err = NewBatchInsertUsers(nil)
	assert.Error(t, err)
	_, err = NewBatchInsertProducts([]Product{})
	assert.Error(t, err)
}

func TestBatchInsert_FailsAsWhole(t *testing.T) {
	r := newRunner(t)

	dup, err := NewBatchInsertUsers([]User{
		{Name: "Ada", Email: "same@example.com", Age: 36},
		{Name: "Eve", Email: "same@example.com", Age: 30},
	})
	require.NoError(t, err)

	res, err := r.exec.Execute(context.Background(), r.sess, op.NewQuery("b", dup.SQL, dup.Params, time.Time{}))
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, r.rows(NewGetAllUsers()))
}

func TestCustomQuery_ClonesParams(t *testing.T) {
	var p op.Params
	p.SetInt("n", 1)

	o := NewCustomQuery("SELECT :n AS n", p)
	p.SetInt("n", 2)

	assert.Equal(t, int64(1), o.Params.Ints["n"])
	assert.Equal(t, CustomQuery, o.Name)
}

func TestTopic(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{AddUser, TopicUserAdded},
		{UpdateUser, TopicUserUpdated},
		{DeleteUser, TopicUserDeleted},
		{GetUserByID, TopicUserRetrieved},
		{GetAllUsers, TopicUserRetrieved},
		{FindUsersByName, TopicUserRetrieved},
		{FindUsersByEmail, TopicUserRetrieved},
		{AddProduct, TopicProductAdded},
		{UpdateProduct, TopicProductUpdated},
		{DeleteProduct, TopicProductDeleted},
		{GetProductByID, TopicProductRetrieved},
		{GetAllProducts, TopicProductRetrieved},
		{FindProductsByPriceRange, TopicProductRetrieved},
		{FindProductsByName, TopicProductRetrieved},
		{UpdateProductStock, TopicStockUpdated},
		{IncreaseProductStock, TopicStockUpdated},
		{DecreaseProductStock, TopicStockUpdated},
		{BatchUsers, TopicBatchUsersCompleted},
		{BatchProducts, TopicBatchProductsCompleted},
		{CustomQuery, ""},
		{"unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Topic(tt.name))
		})
	}
}
