package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatrelay/internal/migrations"
	"chatrelay/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// UpsertSource creates or updates a source keyed by slug.
func (d *Database) UpsertSource(ctx context.Context, source *models.Source) error {
	if source.ID == "" {
		source.ID = uuid.NewString()
	}

	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, upsertSourceQuery,
			source.ID, source.Slug, source.DisplayName,
			source.InboundSecret, source.OutboundEndpointTemplate, source.Active)
		return err
	}, "upsert source")
	if err != nil {
		return err
	}

	// The insert is a no-op on conflict, so re-read to pick up the stored ID.
	stored, err := d.GetSourceBySlug(ctx, source.Slug)
	if err != nil {
		return err
	}
	if stored != nil {
		*source = *stored
	}
	return nil
}

// GetSourceBySlug retrieves a source by slug; returns nil if not found.
func (d *Database) GetSourceBySlug(ctx context.Context, slug string) (*models.Source, error) {
	return d.scanSource(d.db.QueryRowContext(ctx, selectSourceBySlugQuery, slug))
}

// GetSource retrieves a source by ID; returns nil if not found.
func (d *Database) GetSource(ctx context.Context, id string) (*models.Source, error) {
	return d.scanSource(d.db.QueryRowContext(ctx, selectSourceByIDQuery, id))
}

func (d *Database) scanSource(row *sql.Row) (*models.Source, error) {
	source := &models.Source{}
	err := row.Scan(&source.ID, &source.Slug, &source.DisplayName,
		&source.InboundSecret, &source.OutboundEndpointTemplate, &source.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}
	return source, nil
}

// GetOrCreateContact finds the contact for (source, externalID), inserting it
// if absent. Races are resolved by the unique constraint: the insert is a
// no-op on conflict and the following select returns whichever row won.
func (d *Database) GetOrCreateContact(ctx context.Context, sourceID, externalID string) (*models.ExternalContact, error) {
	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertContactIgnoreQuery,
			uuid.NewString(), sourceID, externalID, nil, "{}")
		return err
	}, "insert contact")
	if err != nil {
		return nil, err
	}

	contact := &models.ExternalContact{}
	var metadataJSON string
	err = d.db.QueryRowContext(ctx, selectContactByExternalIDQuery, sourceID, externalID).Scan(
		&contact.ID, &contact.SourceID, &contact.ExternalID, &contact.DisplayName, &metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &contact.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode contact metadata: %w", err)
		}
	}
	return contact, nil
}

// CleanupOldRecords removes audit rows older than the retention window.
// Message and conversation rows are kept; only append-only audit trails age out.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	if _, err := d.db.ExecContext(ctx, deleteOldWebhookEventsQuery, retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup webhook events: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, deleteOldDeliveryReceiptsQuery, retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup delivery receipts: %w", err)
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// GetContactByID retrieves a contact by primary key; returns nil if not found.
func (d *Database) GetContactByID(ctx context.Context, id string) (*models.ExternalContact, error) {
	contact := &models.ExternalContact{}
	var metadataJSON string
	err := d.db.QueryRowContext(ctx, selectContactByIDQuery, id).Scan(
		&contact.ID, &contact.SourceID, &contact.ExternalID, &contact.DisplayName, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &contact.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode contact metadata: %w", err)
		}
	}
	return contact, nil
}
