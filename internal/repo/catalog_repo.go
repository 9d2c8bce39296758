package repo

import (
	"context"
	"errors"

	"github.com/shelfwise/services/ledger/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrCollectionNotFound is returned when a collection is not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when a collection with the same name already exists
	ErrCollectionExists = errors.New("collection name already exists")

	// ErrCollectionNotEmpty is returned when deleting a collection that still owns items
	ErrCollectionNotEmpty = errors.New("collection still has items")

	// ErrItemNotFound is returned when an item is not found
	ErrItemNotFound = errors.New("item not found")
)

// CatalogRepository handles collection and item catalog operations. Stock and
// reservation quantities are deliberately out of its reach: only the ledger
// mutates those together.
type CatalogRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(database *db.DB, logger *zap.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:  database,
		log: logger,
	}
}

// ListCollections returns all collections ordered by name
func (r *CatalogRepository) ListCollections(ctx context.Context) ([]db.Collection, error) {
	var collections []db.Collection
	if err := r.db.WithContext(ctx).Order("name").Find(&collections).Error; err != nil {
		r.log.Error("Failed to list collections", zap.Error(err))
		return nil, err
	}
	return collections, nil
}

// GetCollection retrieves a collection by ID
func (r *CatalogRepository) GetCollection(ctx context.Context, collectionID uint) (*db.Collection, error) {
	var collection db.Collection
	err := r.db.WithContext(ctx).First(&collection, collectionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCollectionNotFound
		}
		r.log.Error("Failed to get collection", zap.Uint("collection_id", collectionID), zap.Error(err))
		return nil, err
	}
	return &collection, nil
}

// CreateCollection creates a new collection
func (r *CatalogRepository) CreateCollection(ctx context.Context, collection *db.Collection) error {
	if err := r.db.WithContext(ctx).Create(collection).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCollectionExists
		}
		r.log.Error("Failed to create collection", zap.String("name", collection.Name), zap.Error(err))
		return err
	}

	r.log.Info("Collection created", zap.Uint("collection_id", collection.CollectionID), zap.String("name", collection.Name))
	return nil
}

// UpdateCollection updates a collection's name and description
func (r *CatalogRepository) UpdateCollection(ctx context.Context, collection *db.Collection) error {
	result := r.db.WithContext(ctx).Model(&db.Collection{}).
		Where("collection_id = ?", collection.CollectionID).
		Updates(map[string]interface{}{
			"name":        collection.Name,
			"description": collection.Description,
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrCollectionExists
		}
		r.log.Error("Failed to update collection", zap.Uint("collection_id", collection.CollectionID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}

	r.log.Info("Collection updated", zap.Uint("collection_id", collection.CollectionID))
	return nil
}

// DeleteCollection deletes a collection. A collection that still owns items
// cannot be removed.
func (r *CatalogRepository) DeleteCollection(ctx context.Context, collectionID uint) error {
	var itemCount int64
	if err := r.db.WithContext(ctx).Model(&db.Item{}).Where("collection_id = ?", collectionID).Count(&itemCount).Error; err != nil {
		r.log.Error("Failed to count collection items", zap.Uint("collection_id", collectionID), zap.Error(err))
		return err
	}
	if itemCount > 0 {
		return ErrCollectionNotEmpty
	}

	result := r.db.WithContext(ctx).Delete(&db.Collection{}, collectionID)
	if result.Error != nil {
		r.log.Error("Failed to delete collection", zap.Uint("collection_id", collectionID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCollectionNotFound
	}

	r.log.Info("Collection deleted", zap.Uint("collection_id", collectionID))
	return nil
}

// ListItems returns catalog items, optionally filtered by collection and by
// whether stock is still available.
func (r *CatalogRepository) ListItems(ctx context.Context, collectionID uint, inStockOnly bool) ([]db.Item, error) {
	query := r.db.WithContext(ctx).Model(&db.Item{})

	if collectionID != 0 {
		query = query.Where("collection_id = ?", collectionID)
	}
	if inStockOnly {
		query = query.Where("stock_quantity > 0")
	}

	var items []db.Item
	if err := query.Order("name").Find(&items).Error; err != nil {
		r.log.Error("Failed to list items", zap.Error(err))
		return nil, err
	}
	return items, nil
}

// GetItem retrieves an item by ID
func (r *CatalogRepository) GetItem(ctx context.Context, itemID uint) (*db.Item, error) {
	var item db.Item
	err := r.db.WithContext(ctx).First(&item, itemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		r.log.Error("Failed to get item", zap.Uint("item_id", itemID), zap.Error(err))
		return nil, err
	}
	return &item, nil
}

// CreateItem creates a new item in the catalog
func (r *CatalogRepository) CreateItem(ctx context.Context, item *db.Item) error {
	var collection db.Collection
	if err := r.db.WithContext(ctx).First(&collection, item.CollectionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCollectionNotFound
		}
		return err
	}

	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		r.log.Error("Failed to create item", zap.String("name", item.Name), zap.Error(err))
		return err
	}

	r.log.Info("Item created",
		zap.Uint("item_id", item.ItemID),
		zap.String("name", item.Name),
		zap.Int("stock_quantity", item.StockQuantity))
	return nil
}

// UpdateItem updates an item's catalog fields and its total stock. Editing
// the stock here sets the available count directly, matching the admin's
// restock flow; held reservation quantities are unaffected.
func (r *CatalogRepository) UpdateItem(ctx context.Context, item *db.Item) error {
	result := r.db.WithContext(ctx).Model(&db.Item{}).
		Where("item_id = ?", item.ItemID).
		Updates(map[string]interface{}{
			"collection_id":  item.CollectionID,
			"name":           item.Name,
			"description":    item.Description,
			"price":          item.Price,
			"stock_quantity": item.StockQuantity,
		})
	if result.Error != nil {
		r.log.Error("Failed to update item", zap.Uint("item_id", item.ItemID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}

	r.log.Info("Item updated", zap.Uint("item_id", item.ItemID))
	return nil
}

// GetStats returns the total and in-stock item counts. Exposed as gauges on
// the metrics endpoint.
func (r *CatalogRepository) GetStats(ctx context.Context) (items, inStock int64, err error) {
	if err := r.db.WithContext(ctx).Model(&db.Item{}).Count(&items).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.WithContext(ctx).Model(&db.Item{}).Where("stock_quantity > 0").Count(&inStock).Error; err != nil {
		return 0, 0, err
	}
	return items, inStock, nil
}
