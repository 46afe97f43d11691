// Package memory implements every storefront repository and the checkout
// transaction on top of in-process maps. It backs the service and handler
// tests.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/analytics"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

// DB is the shared state behind the repositories. A single mutex guards
// everything; a checkout transaction holds it for its whole duration,
// which makes transactions serializable.
type DB struct {
	mu        sync.Mutex
	products  map[string]product.Product
	users     map[string]user.User
	carts     map[string][]cart.Line
	coupons   map[string]coupon.Coupon
	orders    map[string]order.Order
	snapshots map[time.Time]analytics.Snapshot
	apiKeys   map[string]auth.APIKeyInfo
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		products:  make(map[string]product.Product),
		users:     make(map[string]user.User),
		carts:     make(map[string][]cart.Line),
		coupons:   make(map[string]coupon.Coupon),
		orders:    make(map[string]order.Order),
		snapshots: make(map[time.Time]analytics.Snapshot),
		apiKeys:   make(map[string]auth.APIKeyInfo),
	}
}

// PutProduct inserts or replaces a product.
func (db *DB) PutProduct(p product.Product) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.products[p.ID] = p
}

// PutUser inserts or replaces a user.
func (db *DB) PutUser(u user.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[u.ID] = u
}

// PutCoupon inserts or replaces a coupon.
func (db *DB) PutCoupon(c coupon.Coupon) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.coupons[couponKey(c.Code)] = c
}

// PutAPIKey stores key info under its hash.
func (db *DB) PutAPIKey(info auth.APIKeyInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.apiKeys[info.KeyHash] = info
}

// PutOrder inserts or replaces an order.
func (db *DB) PutOrder(o order.Order) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.orders[o.ID] = copyOrder(o)
}

// Products returns a product.Repository view.
func (db *DB) Products() *ProductRepository { return &ProductRepository{db: db} }

// Users returns a user.Repository view.
func (db *DB) Users() *UserRepository { return &UserRepository{db: db} }

// Carts returns a cart.Repository view.
func (db *DB) Carts() *CartRepository { return &CartRepository{db: db} }

// Coupons returns a coupon.Repository view.
func (db *DB) Coupons() *CouponRepository { return &CouponRepository{db: db} }

// Orders returns an order.Repository view that also serves analytics reads.
func (db *DB) Orders() *OrderRepository { return &OrderRepository{db: db} }

// Snapshots returns an analytics.Repository view.
func (db *DB) Snapshots() *SnapshotRepository { return &SnapshotRepository{db: db} }

// APIKeys returns an auth.Repository view.
func (db *DB) APIKeys() *APIKeyRepository { return &APIKeyRepository{db: db} }

func couponKey(code string) string {
	return strings.ToUpper(code)
}

func copyOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	o.StatusHistory = append([]order.StatusChange(nil), o.StatusHistory...)
	return o
}
