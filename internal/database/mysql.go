package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
	"car-deal-hunter/internal/pricing"
	"car-deal-hunter/internal/snapshot"
)

type GormDB struct {
	db *gorm.DB
}

func NewGormDB(host, port, user, password, dbname string) (*GormDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, apperr.NewStorage("mysql", "failed to open connection", err)
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, apperr.NewStorage("mysql", "ping failed", err)
	}

	return &GormDB{db: db}, nil
}

// NewGormDBFromDB creates a GormDB wrapper from an existing gorm.DB instance
func NewGormDBFromDB(db *gorm.DB) *GormDB {
	return &GormDB{db: db}
}

func (gdb *GormDB) Close() error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSchema creates tables using GORM AutoMigrate
func (gdb *GormDB) InitSchema() error {
	return gdb.db.AutoMigrate(
		&models.Listing{},
		&models.ListingChange{},
	)
}

// StoreListings upserts the batch by canonical_url inside one transaction,
// so a storage failure never leaves a partial commit.
func (gdb *GormDB) StoreListings(listings []models.Listing) (StoreResult, error) {
	var result StoreResult

	err := gdb.db.Transaction(func(tx *gorm.DB) error {
		for i := range listings {
			inserted, err := storeListing(tx, &listings[i])
			if err != nil {
				return err
			}
			if inserted {
				result.Inserted++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return StoreResult{}, apperr.NewStorage("mysql", "failed to store listings", err)
	}

	return result, nil
}

func storeListing(tx *gorm.DB, incoming *models.Listing) (bool, error) {
	if incoming.ID == "" {
		incoming.ID = models.ListingID(incoming.CanonicalURL)
	}
	if incoming.ScrapedAt == "" {
		incoming.ScrapedAt = time.Now().UTC().Format(time.RFC3339)
	}

	var existing models.Listing
	err := tx.Where("canonical_url = ?", incoming.CanonicalURL).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if createErr := tx.Create(incoming).Error; createErr != nil {
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				// Lost an insert race with a concurrent batch; settle it
				// as a plain merge update.
				if err := tx.Where("canonical_url = ?", incoming.CanonicalURL).First(&existing).Error; err != nil {
					return false, err
				}
				return false, mergeAndSave(tx, &existing, incoming)
			}
			return false, createErr
		}
		change := snapshot.NewListingChange(incoming)
		return true, tx.Create(&change).Error
	} else if err != nil {
		return false, err
	}

	return false, mergeAndSave(tx, &existing, incoming)
}

func mergeAndSave(tx *gorm.DB, existing, incoming *models.Listing) error {
	changes := snapshot.DetectChanges(existing, incoming)

	merged := MergeListing(existing, incoming)
	if err := tx.Save(&merged).Error; err != nil {
		return err
	}

	if len(changes) > 0 {
		if err := tx.Create(&changes).Error; err != nil {
			return err
		}
	}
	return nil
}

// FindByURL retrieves a listing by its canonical URL
func (gdb *GormDB) FindByURL(canonicalURL string) (*models.Listing, error) {
	var listing models.Listing
	err := gdb.db.Where("canonical_url = ?", canonicalURL).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, apperr.NewStorage("mysql", "failed to find listing", err)
	}
	return &listing, nil
}

// GetListingByID retrieves a listing by ID
func (gdb *GormDB) GetListingByID(id string) (*models.Listing, error) {
	var listing models.Listing
	err := gdb.db.Where("id = ?", id).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, apperr.NewStorage("mysql", "failed to find listing", err)
	}
	return &listing, nil
}

// GetAllListings retrieves listings, newest first
func (gdb *GormDB) GetAllListings(limit int) ([]models.Listing, error) {
	var listings []models.Listing
	query := gdb.db.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&listings).Error; err != nil {
		return nil, apperr.NewStorage("mysql", "failed to list listings", err)
	}
	return listings, nil
}

// FetchUnestimated retrieves listings that still need a valuation
func (gdb *GormDB) FetchUnestimated(limit int) ([]models.Listing, error) {
	var listings []models.Listing
	query := gdb.db.Where("estimated_value IS NULL").
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&listings).Error; err != nil {
		return nil, apperr.NewStorage("mysql", "failed to fetch unestimated listings", err)
	}
	return listings, nil
}

// FetchUnpriced retrieves estimated listings without a computed offer
func (gdb *GormDB) FetchUnpriced(limit int) ([]models.Listing, error) {
	var listings []models.Listing
	query := gdb.db.Where("estimated_value IS NOT NULL AND suggested_offer IS NULL").
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&listings).Error; err != nil {
		return nil, apperr.NewStorage("mysql", "failed to fetch unpriced listings", err)
	}
	return listings, nil
}

// FetchBestDeals retrieves uncontacted listings at or above the discount
// threshold, best discount first
func (gdb *GormDB) FetchBestDeals(minDiscountPct float64, limit int) ([]models.Listing, error) {
	var listings []models.Listing
	query := gdb.db.Where("discount_percentage >= ? AND contacted = ?", minDiscountPct, false).
		Order("discount_percentage DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&listings).Error; err != nil {
		return nil, apperr.NewStorage("mysql", "failed to fetch best deals", err)
	}
	return listings, nil
}

// UpdateEstimatedValue records the market valuation for a listing
func (gdb *GormDB) UpdateEstimatedValue(canonicalURL string, value float64) error {
	if _, err := gdb.FindByURL(canonicalURL); err != nil {
		return err
	}
	err := gdb.db.Model(&models.Listing{}).
		Where("canonical_url = ?", canonicalURL).
		Update("estimated_value", value).Error
	if err != nil {
		return apperr.NewStorage("mysql", "failed to update estimated value", err)
	}
	return nil
}

// UpdateOffer records the computed offer for a listing
func (gdb *GormDB) UpdateOffer(canonicalURL string, offer pricing.OfferResult) error {
	if offer.SuggestedOffer == nil || offer.DiscountPercentage == nil {
		return apperr.NewValidation("mysql", "offer result carries no values")
	}
	if _, err := gdb.FindByURL(canonicalURL); err != nil {
		return err
	}
	err := gdb.db.Model(&models.Listing{}).
		Where("canonical_url = ?", canonicalURL).
		Updates(map[string]interface{}{
			"suggested_offer":     *offer.SuggestedOffer,
			"discount_percentage": *offer.DiscountPercentage,
		}).Error
	if err != nil {
		return apperr.NewStorage("mysql", "failed to update offer", err)
	}
	return nil
}

// MarkContacted flips the outreach flag once; repeat calls keep the
// original contact date
func (gdb *GormDB) MarkContacted(canonicalURL string) error {
	if _, err := gdb.FindByURL(canonicalURL); err != nil {
		return err
	}
	err := gdb.db.Model(&models.Listing{}).
		Where("canonical_url = ? AND contacted = ?", canonicalURL, false).
		Updates(map[string]interface{}{
			"contacted":    true,
			"contact_date": time.Now(),
		}).Error
	if err != nil {
		return apperr.NewStorage("mysql", "failed to mark contacted", err)
	}
	return nil
}

// MarkVisited flips the visited flag
func (gdb *GormDB) MarkVisited(canonicalURL string) error {
	if _, err := gdb.FindByURL(canonicalURL); err != nil {
		return err
	}
	err := gdb.db.Model(&models.Listing{}).
		Where("canonical_url = ?", canonicalURL).
		Update("visited", true).Error
	if err != nil {
		return apperr.NewStorage("mysql", "failed to mark visited", err)
	}
	return nil
}

// GetRecentChanges retrieves recent listing changes, newest first
func (gdb *GormDB) GetRecentChanges(limit int) ([]models.ListingChange, error) {
	var changes []models.ListingChange
	query := gdb.db.Order("detected_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&changes).Error; err != nil {
		return nil, apperr.NewStorage("mysql", "failed to fetch changes", err)
	}
	return changes, nil
}

// PruneChangesBefore deletes change rows older than cutoff
func (gdb *GormDB) PruneChangesBefore(cutoff time.Time) (int64, error) {
	res := gdb.db.Where("detected_at < ?", cutoff).Delete(&models.ListingChange{})
	if res.Error != nil {
		return 0, apperr.NewStorage("mysql", "failed to prune changes", res.Error)
	}
	return res.RowsAffected, nil
}

// GetStats aggregates pipeline progress counters
func (gdb *GormDB) GetStats(minDiscountPct float64) (Stats, error) {
	var stats Stats

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.Total, gdb.db.Model(&models.Listing{})},
		{&stats.Estimated, gdb.db.Model(&models.Listing{}).Where("estimated_value IS NOT NULL")},
		{&stats.WithOffer, gdb.db.Model(&models.Listing{}).Where("suggested_offer IS NOT NULL")},
		{&stats.Contacted, gdb.db.Model(&models.Listing{}).Where("contacted = ?", true)},
		{&stats.DealsSeen, gdb.db.Model(&models.Listing{}).Where("discount_percentage >= ? AND contacted = ?", minDiscountPct, false)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return Stats{}, apperr.NewStorage("mysql", "failed to count listings", err)
		}
	}

	return stats, nil
}
