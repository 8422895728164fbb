package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
	"car-deal-hunter/internal/pricing"
	"car-deal-hunter/internal/snapshot"
)

type PostgresDB struct {
	conn *sql.DB
}

func NewPostgresDB(host, port, user, password, dbname string) (*PostgresDB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, apperr.NewStorage("postgres", "failed to open connection", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, apperr.NewStorage("postgres", "ping failed", err)
	}

	return &PostgresDB{conn: conn}, nil
}

func (db *PostgresDB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the listings tables if they don't exist
func (db *PostgresDB) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS listings (
		id VARCHAR(32) PRIMARY KEY,
		canonical_url VARCHAR(500) NOT NULL UNIQUE,
		title TEXT NOT NULL,
		make VARCHAR(50),
		model VARCHAR(100),

		-- Extracted attributes
		price DECIMAL(12, 2),
		mileage DECIMAL(12, 2),
		year INTEGER,
		price_text VARCHAR(100),
		details_text TEXT,
		image_url TEXT,
		source VARCHAR(30) NOT NULL,
		scraped_at VARCHAR(40),

		-- Computed downstream
		estimated_value DECIMAL(12, 2),
		suggested_offer DECIMAL(12, 2),
		discount_percentage DECIMAL(5, 2),

		-- Outreach state
		contacted BOOLEAN NOT NULL DEFAULT FALSE,
		visited BOOLEAN NOT NULL DEFAULT FALSE,
		contact_date TIMESTAMP,

		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	-- Indexes for the pipeline queries
	CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_listings_make ON listings(make);
	CREATE INDEX IF NOT EXISTS idx_listings_discount ON listings(discount_percentage);
	CREATE INDEX IF NOT EXISTS idx_listings_contacted ON listings(contacted);

	CREATE TABLE IF NOT EXISTS listing_changes (
		id SERIAL PRIMARY KEY,
		listing_id VARCHAR(32) NOT NULL,
		canonical_url VARCHAR(500) NOT NULL,
		change_type VARCHAR(50) NOT NULL,
		old_value TEXT,
		new_value TEXT,
		change_magnitude DECIMAL(12, 2),
		detected_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_listing_changes_listing ON listing_changes(listing_id);
	CREATE INDEX IF NOT EXISTS idx_listing_changes_detected ON listing_changes(detected_at);
	`
	if _, err := db.conn.Exec(query); err != nil {
		return apperr.NewStorage("postgres", "failed to init schema", err)
	}
	return nil
}

const listingColumns = `id, canonical_url, title, make, model,
	price, mileage, year, price_text, details_text, image_url, source, scraped_at,
	estimated_value, suggested_offer, discount_percentage,
	contacted, visited, contact_date, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.CanonicalURL, &l.Title, &l.Make, &l.Model,
		&l.Price, &l.Mileage, &l.Year, &l.PriceText, &l.DetailsText, &l.ImageURL, &l.Source, &l.ScrapedAt,
		&l.EstimatedValue, &l.SuggestedOffer, &l.DiscountPercentage,
		&l.Contacted, &l.Visited, &l.ContactDate, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

// StoreListings upserts the batch by canonical_url inside one transaction.
// The unique constraint settles insert races: a row that appears between
// the lookup and the insert turns the insert into a merge update.
func (db *PostgresDB) StoreListings(listings []models.Listing) (StoreResult, error) {
	var result StoreResult

	tx, err := db.conn.Begin()
	if err != nil {
		return StoreResult{}, apperr.NewStorage("postgres", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for i := range listings {
		inserted, err := db.storeListing(tx, &listings[i])
		if err != nil {
			return StoreResult{}, apperr.NewStorage("postgres", "failed to store listings", err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return StoreResult{}, apperr.NewStorage("postgres", "failed to commit", err)
	}
	return result, nil
}

func (db *PostgresDB) storeListing(tx *sql.Tx, incoming *models.Listing) (bool, error) {
	if incoming.ID == "" {
		incoming.ID = models.ListingID(incoming.CanonicalURL)
	}
	if incoming.ScrapedAt == "" {
		incoming.ScrapedAt = time.Now().UTC().Format(time.RFC3339)
	}

	existing, err := scanListing(tx.QueryRow(
		`SELECT `+listingColumns+` FROM listings WHERE canonical_url = $1`,
		incoming.CanonicalURL))

	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.Exec(`
			INSERT INTO listings (
				id, canonical_url, title, make, model,
				price, mileage, year, price_text, details_text, image_url, source, scraped_at,
				contacted, visited
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, FALSE)
			ON CONFLICT (canonical_url) DO NOTHING`,
			incoming.ID, incoming.CanonicalURL, incoming.Title, incoming.Make, incoming.Model,
			incoming.Price, incoming.Mileage, incoming.Year, incoming.PriceText, incoming.DetailsText,
			incoming.ImageURL, incoming.Source, incoming.ScrapedAt)
		if err != nil {
			return false, err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if affected == 0 {
			// Lost an insert race with a concurrent batch
			existing, err = scanListing(tx.QueryRow(
				`SELECT `+listingColumns+` FROM listings WHERE canonical_url = $1`,
				incoming.CanonicalURL))
			if err != nil {
				return false, err
			}
			return false, db.mergeAndUpdate(tx, &existing, incoming)
		}

		change := snapshot.NewListingChange(incoming)
		return true, db.insertChange(tx, &change)
	} else if err != nil {
		return false, err
	}

	return false, db.mergeAndUpdate(tx, &existing, incoming)
}

func (db *PostgresDB) mergeAndUpdate(tx *sql.Tx, existing, incoming *models.Listing) error {
	changes := snapshot.DetectChanges(existing, incoming)

	merged := MergeListing(existing, incoming)
	_, err := tx.Exec(`
		UPDATE listings SET
			title = $2, make = $3, model = $4,
			price = $5, mileage = $6, year = $7,
			price_text = $8, details_text = $9, image_url = $10,
			source = $11, scraped_at = $12,
			estimated_value = $13, suggested_offer = $14, discount_percentage = $15,
			contacted = $16, visited = $17, contact_date = $18,
			updated_at = NOW()
		WHERE canonical_url = $1`,
		merged.CanonicalURL, merged.Title, merged.Make, merged.Model,
		merged.Price, merged.Mileage, merged.Year,
		merged.PriceText, merged.DetailsText, merged.ImageURL,
		merged.Source, merged.ScrapedAt,
		merged.EstimatedValue, merged.SuggestedOffer, merged.DiscountPercentage,
		merged.Contacted, merged.Visited, merged.ContactDate)
	if err != nil {
		return err
	}

	for i := range changes {
		if err := db.insertChange(tx, &changes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (db *PostgresDB) insertChange(tx *sql.Tx, change *models.ListingChange) error {
	_, err := tx.Exec(`
		INSERT INTO listing_changes (listing_id, canonical_url, change_type, old_value, new_value, change_magnitude, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		change.ListingID, change.CanonicalURL, change.ChangeType,
		change.OldValue, change.NewValue, change.ChangeMagnitude, change.DetectedAt)
	return err
}

// FindByURL retrieves a listing by its canonical URL
func (db *PostgresDB) FindByURL(canonicalURL string) (*models.Listing, error) {
	listing, err := scanListing(db.conn.QueryRow(
		`SELECT `+listingColumns+` FROM listings WHERE canonical_url = $1`, canonicalURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, apperr.NewStorage("postgres", "failed to find listing", err)
	}
	return &listing, nil
}

// GetListingByID retrieves a listing by ID
func (db *PostgresDB) GetListingByID(id string) (*models.Listing, error) {
	listing, err := scanListing(db.conn.QueryRow(
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, apperr.NewStorage("postgres", "failed to find listing", err)
	}
	return &listing, nil
}

func (db *PostgresDB) queryListings(query string, args ...interface{}) ([]models.Listing, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, apperr.NewStorage("postgres", "query failed", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, apperr.NewStorage("postgres", "scan failed", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// GetAllListings retrieves listings, newest first
func (db *PostgresDB) GetAllListings(limit int) ([]models.Listing, error) {
	if limit <= 0 {
		return db.queryListings(`SELECT ` + listingColumns + ` FROM listings ORDER BY created_at DESC`)
	}
	return db.queryListings(
		`SELECT `+listingColumns+` FROM listings ORDER BY created_at DESC LIMIT $1`, limit)
}

// FetchUnestimated retrieves listings that still need a valuation.
// A limit of zero or less means no limit.
func (db *PostgresDB) FetchUnestimated(limit int) ([]models.Listing, error) {
	return db.queryListings(`
		SELECT `+listingColumns+`
		FROM listings
		WHERE estimated_value IS NULL
		ORDER BY created_at DESC
		LIMIT NULLIF($1, 0)`, clampLimit(limit))
}

// FetchUnpriced retrieves estimated listings without a computed offer
func (db *PostgresDB) FetchUnpriced(limit int) ([]models.Listing, error) {
	return db.queryListings(`
		SELECT `+listingColumns+`
		FROM listings
		WHERE estimated_value IS NOT NULL AND suggested_offer IS NULL
		ORDER BY created_at DESC
		LIMIT NULLIF($1, 0)`, clampLimit(limit))
}

// FetchBestDeals retrieves uncontacted listings at or above the discount
// threshold, best discount first
func (db *PostgresDB) FetchBestDeals(minDiscountPct float64, limit int) ([]models.Listing, error) {
	return db.queryListings(`
		SELECT `+listingColumns+`
		FROM listings
		WHERE discount_percentage >= $1 AND contacted = FALSE
		ORDER BY discount_percentage DESC
		LIMIT NULLIF($2, 0)`, minDiscountPct, clampLimit(limit))
}

// clampLimit maps "no limit" requests onto the NULLIF(0) convention.
func clampLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	return limit
}

// UpdateEstimatedValue records the market valuation for a listing
func (db *PostgresDB) UpdateEstimatedValue(canonicalURL string, value float64) error {
	res, err := db.conn.Exec(`
		UPDATE listings SET estimated_value = $2, updated_at = NOW()
		WHERE canonical_url = $1`, canonicalURL, value)
	if err != nil {
		return apperr.NewStorage("postgres", "failed to update estimated value", err)
	}
	return requireAffected(res)
}

// UpdateOffer records the computed offer for a listing
func (db *PostgresDB) UpdateOffer(canonicalURL string, offer pricing.OfferResult) error {
	if offer.SuggestedOffer == nil || offer.DiscountPercentage == nil {
		return apperr.NewValidation("postgres", "offer result carries no values")
	}
	res, err := db.conn.Exec(`
		UPDATE listings SET suggested_offer = $2, discount_percentage = $3, updated_at = NOW()
		WHERE canonical_url = $1`, canonicalURL, *offer.SuggestedOffer, *offer.DiscountPercentage)
	if err != nil {
		return apperr.NewStorage("postgres", "failed to update offer", err)
	}
	return requireAffected(res)
}

// MarkContacted flips the outreach flag once; repeat calls keep the
// original contact date
func (db *PostgresDB) MarkContacted(canonicalURL string) error {
	res, err := db.conn.Exec(`
		UPDATE listings SET contacted = TRUE, contact_date = NOW(), updated_at = NOW()
		WHERE canonical_url = $1 AND contacted = FALSE`, canonicalURL)
	if err != nil {
		return apperr.NewStorage("postgres", "failed to mark contacted", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Already contacted is fine; a missing listing is not.
		if _, err := db.FindByURL(canonicalURL); err != nil {
			return err
		}
	}
	return nil
}

// MarkVisited flips the visited flag
func (db *PostgresDB) MarkVisited(canonicalURL string) error {
	res, err := db.conn.Exec(`
		UPDATE listings SET visited = TRUE, updated_at = NOW()
		WHERE canonical_url = $1`, canonicalURL)
	if err != nil {
		return apperr.NewStorage("postgres", "failed to mark visited", err)
	}
	return requireAffected(res)
}

// GetRecentChanges retrieves recent listing changes, newest first
func (db *PostgresDB) GetRecentChanges(limit int) ([]models.ListingChange, error) {
	rows, err := db.conn.Query(`
		SELECT id, listing_id, canonical_url, change_type, old_value, new_value, change_magnitude, detected_at
		FROM listing_changes
		ORDER BY detected_at DESC
		LIMIT NULLIF($1, 0)`, clampLimit(limit))
	if err != nil {
		return nil, apperr.NewStorage("postgres", "failed to fetch changes", err)
	}
	defer rows.Close()

	var changes []models.ListingChange
	for rows.Next() {
		var c models.ListingChange
		err := rows.Scan(&c.ID, &c.ListingID, &c.CanonicalURL, &c.ChangeType,
			&c.OldValue, &c.NewValue, &c.ChangeMagnitude, &c.DetectedAt)
		if err != nil {
			return nil, apperr.NewStorage("postgres", "scan failed", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// PruneChangesBefore deletes change rows older than cutoff
func (db *PostgresDB) PruneChangesBefore(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM listing_changes WHERE detected_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.NewStorage("postgres", "failed to prune changes", err)
	}
	return res.RowsAffected()
}

// GetStats aggregates pipeline progress counters
func (db *PostgresDB) GetStats(minDiscountPct float64) (Stats, error) {
	var stats Stats
	err := db.conn.QueryRow(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE estimated_value IS NOT NULL),
		       COUNT(*) FILTER (WHERE suggested_offer IS NOT NULL),
		       COUNT(*) FILTER (WHERE contacted),
		       COUNT(*) FILTER (WHERE discount_percentage >= $1 AND NOT contacted)
		FROM listings`, minDiscountPct).
		Scan(&stats.Total, &stats.Estimated, &stats.WithOffer, &stats.Contacted, &stats.DealsSeen)
	if err != nil {
		return Stats{}, apperr.NewStorage("postgres", "failed to aggregate stats", err)
	}
	return stats, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
