package importer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

// ArtifactSource loads the invoices a successful run produced.
type ArtifactSource interface {
	Load(ctx context.Context, cfg model.ImportConfig) ([]model.ImportedInvoice, error)
}

// xmlArtifactDB is the tracking database the automation process writes
// next to the extracted XML files.
const xmlArtifactDB = "invoices_xml.db"

// SQLiteArtifacts reads imported invoices from the automation process's
// XML tracking database.
type SQLiteArtifacts struct{}

// Load reads all artifacts from the run's XML database. A missing
// database means the run produced nothing.
func (SQLiteArtifacts) Load(ctx context.Context, cfg model.ImportConfig) ([]model.ImportedInvoice, error) {
	dbPath := filepath.Join(cfg.XMLPath, xmlArtifactDB)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact database: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx,
		`SELECT numero_documento, emisor, valor_total, xml_content FROM downloaded_invoices`)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []model.ImportedInvoice
	for rows.Next() {
		var artifact model.ImportedInvoice
		var xmlContent sql.NullString
		if err := rows.Scan(&artifact.DocumentNumber, &artifact.Issuer, &artifact.TotalValue, &xmlContent); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifact.XMLContent = xmlContent.String
		artifacts = append(artifacts, artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}
	return artifacts, nil
}
