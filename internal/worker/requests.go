package worker

import (
	"context"

	"github.com/roach88/sqlpipe/internal/catalog"
	"github.com/roach88/sqlpipe/internal/op"
)

// Submit queues o and returns its id. The result arrives later as a
// KindCompleted event carrying the same id.
func (c *Client) Submit(o catalog.Operation) (string, error) {
	if !c.started.Load() {
		return "", ErrNotStarted
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()
	if c.closed.Load() {
		return "", ErrClosed
	}

	id := c.ids.Generate()
	req := op.NewQuery(id, o.SQL, o.Params, c.now())
	c.registry.Set(id, o.Name)

	p := c.p
	if !c.loop.box.push(func() { p.Enqueue(req) }) {
		c.registry.Delete(id)
		return "", ErrClosed
	}
	return id, nil
}

// Query queues caller-supplied SQL.
func (c *Client) Query(sql string, params op.Params) (string, error) {
	return c.Submit(catalog.NewCustomQuery(sql, params))
}

// AddUser queues catalog.NewAddUser.
func (c *Client) AddUser(name, email string, age int64) (string, error) {
	return c.Submit(catalog.NewAddUser(name, email, age))
}

// UpdateUser queues catalog.NewUpdateUser.
func (c *Client) UpdateUser(id int64, fields map[string]any) (string, error) {
	o, err := catalog.NewUpdateUser(id, fields)
	if err != nil {
		return "", err
	}
	return c.Submit(o)
}

// DeleteUser queues catalog.NewDeleteUser.
func (c *Client) DeleteUser(id int64) (string, error) {
	return c.Submit(catalog.NewDeleteUser(id))
}

// GetUserByID queues catalog.NewGetUserByID.
func (c *Client) GetUserByID(id int64) (string, error) {
	return c.Submit(catalog.NewGetUserByID(id))
}

// GetAllUsers queues catalog.NewGetAllUsers.
func (c *Client) GetAllUsers() (string, error) {
	return c.Submit(catalog.NewGetAllUsers())
}

// FindUsersByName queues catalog.NewFindUsersByName.
func (c *Client) FindUsersByName(name string) (string, error) {
	return c.Submit(catalog.NewFindUsersByName(name))
}

// FindUsersByEmail queues catalog.NewFindUsersByEmail.
func (c *Client) FindUsersByEmail(email string) (string, error) {
	return c.Submit(catalog.NewFindUsersByEmail(email))
}

// AddProduct queues catalog.NewAddProduct.
func (c *Client) AddProduct(name string, price float64, stock int64) (string, error) {
	return c.Submit(catalog.NewAddProduct(name, price, stock))
}

// UpdateProduct queues catalog.NewUpdateProduct.
func (c *Client) UpdateProduct(id int64, fields map[string]any) (string, error) {
	o, err := catalog.NewUpdateProduct(id, fields)
	if err != nil {
		return "", err
	}
	return c.Submit(o)
}

// DeleteProduct queues catalog.NewDeleteProduct.
func (c *Client) DeleteProduct(id int64) (string, error) {
	return c.Submit(catalog.NewDeleteProduct(id))
}

// GetProductByID queues catalog.NewGetProductByID.
func (c *Client) GetProductByID(id int64) (string, error) {
	return c.Submit(catalog.NewGetProductByID(id))
}

// GetAllProducts queues catalog.NewGetAllProducts.
func (c *Client) GetAllProducts() (string, error) {
	return c.Submit(catalog.NewGetAllProducts())
}

// FindProductsByPriceRange queues catalog.NewFindProductsByPriceRange.
func (c *Client) FindProductsByPriceRange(lo, hi float64) (string, error) {
	return c.Submit(catalog.NewFindProductsByPriceRange(lo, hi))
}

// FindProductsByName queues catalog.NewFindProductsByName.
func (c *Client) FindProductsByName(name string) (string, error) {
	return c.Submit(catalog.NewFindProductsByName(name))
}

// UpdateProductStock queues catalog.NewUpdateProductStock.
func (c *Client) UpdateProductStock(id, stock int64) (string, error) {
	return c.Submit(catalog.NewUpdateProductStock(id, stock))
}

// IncreaseProductStock queues catalog.NewIncreaseProductStock.
func (c *Client) IncreaseProductStock(id, quantity int64) (string, error) {
	return c.Submit(catalog.NewIncreaseProductStock(id, quantity))
}

// DecreaseProductStock queues catalog.NewDecreaseProductStock.
func (c *Client) DecreaseProductStock(id, quantity int64) (string, error) {
	return c.Submit(catalog.NewDecreaseProductStock(id, quantity))
}

// BatchInsertUsers queues catalog.NewBatchInsertUsers.
func (c *Client) BatchInsertUsers(users []catalog.User) (string, error) {
	o, err := catalog.NewBatchInsertUsers(users)
	if err != nil {
		return "", err
	}
	return c.Submit(o)
}

// BatchInsertProducts queues catalog.NewBatchInsertProducts.
func (c *Client) BatchInsertProducts(products []catalog.Product) (string, error) {
	o, err := catalog.NewBatchInsertProducts(products)
	if err != nil {
		return "", err
	}
	return c.Submit(o)
}

// Exec runs command on the worker outside the queue and waits for it. It
// reports false when the worker is not connected, the command fails, or ctx
// ends first.
func (c *Client) Exec(ctx context.Context, command string, params op.Params) bool {
	if !c.started.Load() {
		return false
	}

	reply := make(chan bool, 1)
	p := c.p
	c.submitMu.Lock()
	ok := !c.closed.Load() && c.loop.box.push(func() { reply <- p.Exec(command, params) })
	c.submitMu.Unlock()
	if !ok {
		return false
	}

	select {
	case ok := <-reply:
		return ok
	case <-ctx.Done():
		return false
	case <-c.done:
		select {
		case ok := <-reply:
			return ok
		default:
			return false
		}
	}
}

// Begin starts a transaction on the session.
func (c *Client) Begin(ctx context.Context) bool {
	return c.Exec(ctx, "BEGIN TRANSACTION", op.Params{})
}

// Commit commits the open transaction.
func (c *Client) Commit(ctx context.Context) bool {
	return c.Exec(ctx, "COMMIT", op.Params{})
}

// Rollback rolls back the open transaction.
func (c *Client) Rollback(ctx context.Context) bool {
	return c.Exec(ctx, "ROLLBACK", op.Params{})
}
