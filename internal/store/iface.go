package store

import "github.com/Iron-Ham/autostore/internal/model"

// StoreInterface defines the full set of store operations. The concrete
// *Store implements it; the cmd layer depends on the interface so tests
// can substitute a fake.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// Provision inserts configured bots, bins and products if absent.
	Provision(bots []model.Bot, bins []model.Bin, products []model.Product) error

	// --- Bots ---

	SaveBot(b model.Bot) error
	GetBot(id int64) (*model.Bot, error)
	ListBots() ([]model.Bot, error)

	// --- Bins and products ---

	SaveBin(b model.Bin) error
	GetBin(id int64) (*model.Bin, error)
	ListBins() ([]model.Bin, error)
	GetProduct(sku string) (*model.Product, error)
	ListProducts() ([]model.Product, error)

	// --- Orders ---

	CreateOrder(o model.Order) (int64, error)
	SaveOrder(o model.Order) error
	GetOrder(id int64) (*model.Order, error)
	ListOrders(statuses ...model.OrderStatus) ([]model.Order, error)
	ClearOrders() (int64, error)

	// --- Bin locks ---

	SaveBinLock(l model.BinLock) error
	ListBinLocks() ([]model.BinLock, error)
	DeleteBinLocks() error

	// --- Events ---

	AppendEvent(rec model.EventRecord) (int64, error)
	ListEvents(sinceID int64, limit int) ([]model.EventRecord, error)
	CountEvents() int64
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
