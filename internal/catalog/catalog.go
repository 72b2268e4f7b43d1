// Package catalog builds the named operations callers issue through the
// worker client: user and product CRUD, stock adjustments and batch inserts.
//
// Each builder returns an Operation holding the SQL text and its named
// parameters. Nothing here touches the database.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/sqlpipe/internal/op"
)

// Operation names recorded in the registry.
const (
	AddUser          = "addUser"
	UpdateUser       = "updateUser"
	DeleteUser       = "deleteUser"
	GetUserByID      = "getUserById"
	GetAllUsers      = "getAllUsers"
	FindUsersByName  = "findUsersByName"
	FindUsersByEmail = "findUsersByEmail"

	AddProduct               = "addProduct"
	UpdateProduct            = "updateProduct"
	DeleteProduct            = "deleteProduct"
	GetProductByID           = "getProductById"
	GetAllProducts           = "getAllProducts"
	FindProductsByPriceRange = "findProductsByPriceRange"
	FindProductsByName       = "findProductsByName"
	UpdateProductStock       = "updateProductStock"
	IncreaseProductStock     = "increaseProductStock"
	DecreaseProductStock     = "decreaseProductStock"

	CustomQuery   = "customQuery"
	BatchUsers    = "batchUsers"
	BatchProducts = "batchProducts"
)

// Operation is one request ready to be queued.
type Operation struct {
	Name   string
	SQL    string
	Params op.Params
}

// User is one row for BatchInsertUsers.
type User struct {
	Name  string
	Email string
	Age   int64
}

// Product is one row for BatchInsertProducts.
type Product struct {
	Name  string
	Price float64
	Stock int64
}

var (
	userColumns    = map[string]bool{"name": true, "email": true, "age": true}
	productColumns = map[string]bool{"name": true, "price": true, "stock": true}
)

func build(name, sql string, set func(p *op.Params)) Operation {
	var p op.Params
	if set != nil {
		set(&p)
	}
	return Operation{Name: name, SQL: sql, Params: p}
}

func byID(name, sql string, id int64) Operation {
	return build(name, sql, func(p *op.Params) { p.SetInt("id", id) })
}

func contains(s string) string {
	return "%" + s + "%"
}

// NewAddUser inserts a user.
func NewAddUser(name, email string, age int64) Operation {
	return build(AddUser, "INSERT INTO users (name, email, age) VALUES (:name, :email, :age)", func(p *op.Params) {
		p.SetString("name", name).SetString("email", email).SetInt("age", age)
	})
}

// NewUpdateUser sets the given columns of user id. Only name, email and age
// may be updated.
func NewUpdateUser(id int64, fields map[string]any) (Operation, error) {
	return update(UpdateUser, "users", userColumns, id, fields)
}

// NewDeleteUser deletes user id.
func NewDeleteUser(id int64) Operation {
	return byID(DeleteUser, "DELETE FROM users WHERE id = :id", id)
}

// NewGetUserByID selects user id.
func NewGetUserByID(id int64) Operation {
	return byID(GetUserByID, "SELECT * FROM users WHERE id = :id", id)
}

// NewGetAllUsers selects every user.
func NewGetAllUsers() Operation {
	return build(GetAllUsers, "SELECT * FROM users ORDER BY id", nil)
}

// NewFindUsersByName selects users whose name contains name.
func NewFindUsersByName(name string) Operation {
	return build(FindUsersByName, "SELECT * FROM users WHERE name LIKE :name ORDER BY id", func(p *op.Params) {
		p.SetString("name", contains(name))
	})
}

// NewFindUsersByEmail selects users whose email contains email.
func NewFindUsersByEmail(email string) Operation {
	return build(FindUsersByEmail, "SELECT * FROM users WHERE email LIKE :email ORDER BY id", func(p *op.Params) {
		p.SetString("email", contains(email))
	})
}

// NewAddProduct inserts a product.
func NewAddProduct(name string, price float64, stock int64) Operation {
	return build(AddProduct, "INSERT INTO products (name, price, stock) VALUES (:name, :price, :stock)", func(p *op.Params) {
		p.SetString("name", name).SetDouble("price", price).SetInt("stock", stock)
	})
}

// NewUpdateProduct sets the given columns of product id. Only name, price
// and stock may be updated.
func NewUpdateProduct(id int64, fields map[string]any) (Operation, error) {
	return update(UpdateProduct, "products", productColumns, id, fields)
}

// NewDeleteProduct deletes product id.
func NewDeleteProduct(id int64) Operation {
	return byID(DeleteProduct, "DELETE FROM products WHERE id = :id", id)
}

// NewGetProductByID selects product id.
func NewGetProductByID(id int64) Operation {
	return byID(GetProductByID, "SELECT * FROM products WHERE id = :id", id)
}

// NewGetAllProducts selects every product.
func NewGetAllProducts() Operation {
	return build(GetAllProducts, "SELECT * FROM products ORDER BY id", nil)
}

// NewFindProductsByPriceRange selects products priced within [lo, hi],
// cheapest first.
func NewFindProductsByPriceRange(lo, hi float64) Operation {
	return build(FindProductsByPriceRange,
		"SELECT * FROM products WHERE price BETWEEN :minPrice AND :maxPrice ORDER BY price",
		func(p *op.Params) { p.SetDouble("minPrice", lo).SetDouble("maxPrice", hi) })
}

// NewFindProductsByName selects products whose name contains name.
func NewFindProductsByName(name string) Operation {
	return build(FindProductsByName, "SELECT * FROM products WHERE name LIKE :name ORDER BY id", func(p *op.Params) {
		p.SetString("name", contains(name))
	})
}

// NewUpdateProductStock sets the stock of product id.
func NewUpdateProductStock(id, stock int64) Operation {
	return build(UpdateProductStock, "UPDATE products SET stock = :stock WHERE id = :id", func(p *op.Params) {
		p.SetInt("id", id).SetInt("stock", stock)
	})
}

// NewIncreaseProductStock adds quantity to the stock of product id.
func NewIncreaseProductStock(id, quantity int64) Operation {
	return build(IncreaseProductStock, "UPDATE products SET stock = stock + :quantity WHERE id = :id", func(p *op.Params) {
		p.SetInt("id", id).SetInt("quantity", quantity)
	})
}

// NewDecreaseProductStock removes quantity from the stock of product id.
// The row is left alone, and zero rows are reported, when stock is short.
func NewDecreaseProductStock(id, quantity int64) Operation {
	return build(DecreaseProductStock,
		"UPDATE products SET stock = stock - :quantity WHERE id = :id AND stock >= :quantity",
		func(p *op.Params) { p.SetInt("id", id).SetInt("quantity", quantity) })
}

// NewCustomQuery wraps caller-supplied SQL.
func NewCustomQuery(sql string, params op.Params) Operation {
	return Operation{Name: CustomQuery, SQL: sql, Params: params.Clone()}
}

// NewBatchInsertUsers inserts every user with one statement, so the batch
// succeeds or fails as a whole.
func NewBatchInsertUsers(users []User) (Operation, error) {
	if len(users) == 0 {
		return Operation{}, fmt.Errorf("batch insert users: no rows")
	}
	var (
		p      op.Params
		tuples = make([]string, len(users))
	)
	for i, u := range users {
		tuples[i] = fmt.Sprintf("(:name%d, :email%d, :age%d)", i, i, i)
		p.SetString(fmt.Sprintf("name%d", i), u.Name).
			SetString(fmt.Sprintf("email%d", i), u.Email).
			SetInt(fmt.Sprintf("age%d", i), u.Age)
	}
	sql := "INSERT INTO users (name, email, age) VALUES " + strings.Join(tuples, ", ")
	return Operation{Name: BatchUsers, SQL: sql, Params: p}, nil
}

// NewBatchInsertProducts inserts every product with one statement.
func NewBatchInsertProducts(products []Product) (Operation, error) {
	if len(products) == 0 {
		return Operation{}, fmt.Errorf("batch insert products: no rows")
	}
	var (
		p      op.Params
		tuples = make([]string, len(products))
	)
	for i, pr := range products {
		tuples[i] = fmt.Sprintf("(:name%d, :price%d, :stock%d)", i, i, i)
		p.SetString(fmt.Sprintf("name%d", i), pr.Name).
			SetDouble(fmt.Sprintf("price%d", i), pr.Price).
			SetInt(fmt.Sprintf("stock%d", i), pr.Stock)
	}
	sql := "INSERT INTO products (name, price, stock) VALUES " + strings.Join(tuples, ", ")
	return Operation{Name: BatchProducts, SQL: sql, Params: p}, nil
}

// update builds "UPDATE table SET col = :col, ... WHERE id = :id" with the
// columns in sorted order.
func update(name, table string, allowed map[string]bool, id int64, fields map[string]any) (Operation, error) {
	if len(fields) == 0 {
		return Operation{}, fmt.Errorf("%s: no fields to update", name)
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !allowed[col] {
			return Operation{}, fmt.Errorf("%s: unknown column %q", name, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var p op.Params
	sets := make([]string, len(cols))
	for i, col := range cols {
		if err := p.Set(col, fields[col]); err != nil {
			return Operation{}, fmt.Errorf("%s: %w", name, err)
		}
		sets[i] = fmt.Sprintf("%s = :%s", col, col)
	}
	p.SetInt("id", id)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = :id", table, strings.Join(sets, ", "))
	return Operation{Name: name, SQL: sql, Params: p}, nil
}
