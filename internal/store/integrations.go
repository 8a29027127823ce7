package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"teampulse/internal/db"
	"teampulse/internal/logging"
	"teampulse/internal/models"
	"teampulse/internal/security"
)

var ErrNotFound = errors.New("integration_not_found")

// Store is the credential store: one row per (user_id, service), tokens
// AES-GCM encrypted at rest. Rows are never hard-deleted; disconnect clears
// the tokens and flips is_active so the audit history survives.
type Store struct {
	db            *db.DB
	logger        *slog.Logger
	encryptionKey []byte
}

func New(logger *slog.Logger, dbConn *db.DB, encryptionKey []byte) (*Store, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	return &Store{
		db:            dbConn,
		logger:        logger,
		encryptionKey: encryptionKey,
	}, nil
}

const integrationColumns = `id, user_id, service, access_token_encrypted,
	COALESCE(refresh_token_encrypted, ''), team_id, team_name, is_active, created_at, updated_at`

// GetActiveIntegrations returns the user's connected integrations with
// decrypted tokens, optionally filtered to a subset of services.
func (s *Store) GetActiveIntegrations(ctx context.Context, userID string, services ...models.Service) ([]models.Integration, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(services) == 0 {
		rows, err = s.db.Pool.Query(ctx,
			`SELECT `+integrationColumns+`
			 FROM integrations
			 WHERE user_id = $1 AND is_active
			 ORDER BY service`,
			userID,
		)
	} else {
		names := make([]string, 0, len(services))
		for _, svc := range services {
			names = append(names, string(svc))
		}
		rows, err = s.db.Pool.Query(ctx,
			`SELECT `+integrationColumns+`
			 FROM integrations
			 WHERE user_id = $1 AND is_active AND service = ANY($2)
			 ORDER BY service`,
			userID, names,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("integration_query_failed: %w", err)
	}
	defer rows.Close()

	out := make([]models.Integration, 0, 4)
	for rows.Next() {
		integ, err := s.scanIntegration(rows)
		if err != nil {
			s.logger.Warn("integration_scan_failed", "user_id", userID, "error", err)
			continue
		}
		out = append(out, integ)
	}
	return out, rows.Err()
}

// GetIntegration returns one integration (active or not) for lifecycle calls.
func (s *Store) GetIntegration(ctx context.Context, userID string, service models.Service) (*models.Integration, error) {
	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+integrationColumns+`
		 FROM integrations
		 WHERE user_id = $1 AND service = $2`,
		userID, string(service),
	)
	integ, err := s.scanIntegration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &integ, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanIntegration(row rowScanner) (models.Integration, error) {
	var integ models.Integration
	var encAccess, encRefresh string
	if err := row.Scan(
		&integ.ID,
		&integ.UserID,
		&integ.Service,
		&encAccess,
		&encRefresh,
		&integ.TeamID,
		&integ.TeamName,
		&integ.IsActive,
		&integ.CreatedAt,
		&integ.UpdatedAt,
	); err != nil {
		return models.Integration{}, err
	}

	if encAccess != "" {
		decrypted, err := security.DecryptToken(encAccess, s.encryptionKey)
		if err != nil {
			return models.Integration{}, fmt.Errorf("token_decrypt_failed: %w", err)
		}
		integ.AccessToken = decrypted
	}
	if encRefresh != "" {
		decrypted, err := security.DecryptToken(encRefresh, s.encryptionKey)
		if err != nil {
			return models.Integration{}, fmt.Errorf("refresh_token_decrypt_failed: %w", err)
		}
		integ.RefreshToken = decrypted
	}
	return integ, nil
}

// Upsert records a successful OAuth callback (or reconnect): creates the
// (user, service) row or re-activates it with fresh tokens.
func (s *Store) Upsert(ctx context.Context, userID string, service models.Service, accessToken, refreshToken string, teamID, teamName *string) error {
	if accessToken == "" {
		return errors.New("empty_access_token")
	}

	encAccess, err := security.EncryptToken(accessToken, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("token_encrypt_failed: %w", err)
	}
	var encRefresh *string
	if refreshToken != "" {
		enc, err := security.EncryptToken(refreshToken, s.encryptionKey)
		if err != nil {
			return fmt.Errorf("refresh_token_encrypt_failed: %w", err)
		}
		encRefresh = &enc
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO integrations
			(user_id, service, access_token_encrypted, refresh_token_encrypted, team_id, team_name, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
		 ON CONFLICT (user_id, service) DO UPDATE SET
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = COALESCE(EXCLUDED.refresh_token_encrypted, integrations.refresh_token_encrypted),
			team_id = COALESCE(EXCLUDED.team_id, integrations.team_id),
			team_name = COALESCE(EXCLUDED.team_name, integrations.team_name),
			is_active = TRUE,
			updated_at = NOW()`,
		userID, string(service), encAccess, encRefresh, teamID, teamName,
	)
	if err != nil {
		return fmt.Errorf("integration_upsert_failed: %w", err)
	}

	s.logger.Info("integration_connected",
		"user_id", userID,
		"service", service,
		"token", logging.MaskToken(accessToken),
	)
	return nil
}

// UpdateTokens stores tokens obtained from a refresh grant.
func (s *Store) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	encAccess, err := security.EncryptToken(accessToken, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("token_encrypt_failed: %w", err)
	}

	if refreshToken != "" {
		encRefresh, err := security.EncryptToken(refreshToken, s.encryptionKey)
		if err != nil {
			return fmt.Errorf("refresh_token_encrypt_failed: %w", err)
		}
		_, err = s.db.Pool.Exec(ctx,
			`UPDATE integrations
			 SET access_token_encrypted = $1, refresh_token_encrypted = $2, updated_at = NOW()
			 WHERE id = $3`,
			encAccess, encRefresh, id,
		)
		return err
	}

	_, err = s.db.Pool.Exec(ctx,
		`UPDATE integrations
		 SET access_token_encrypted = $1, updated_at = NOW()
		 WHERE id = $2`,
		encAccess, id,
	)
	return err
}

// Disconnect soft-deletes: clears tokens, flips is_active, keeps the row.
func (s *Store) Disconnect(ctx context.Context, userID string, service models.Service) error {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE integrations
		 SET is_active = FALSE, access_token_encrypted = '', refresh_token_encrypted = NULL, updated_at = NOW()
		 WHERE user_id = $1 AND service = $2`,
		userID, string(service),
	)
	if err != nil {
		return fmt.Errorf("integration_disconnect_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Info("integration_disconnected", "user_id", userID, "service", service)
	return nil
}

// MarkInvalid handles a detected dead token (upstream 401 with no usable
// refresh): same soft-delete path as an explicit disconnect, different log.
func (s *Store) MarkInvalid(ctx context.Context, integ *models.Integration, reason string) {
	_, err := s.db.Pool.Exec(ctx,
		`UPDATE integrations
		 SET is_active = FALSE, access_token_encrypted = '', updated_at = NOW()
		 WHERE id = $1`,
		integ.ID,
	)
	if err != nil {
		s.logger.Warn("integration_invalidate_failed", "integration_id", integ.ID, "error", err)
		return
	}
	s.logger.Warn("integration_invalidated",
		"integration_id", integ.ID,
		"user_id", integ.UserID,
		"service", integ.Service,
		"reason", reason,
	)
}

// ListUsersWithIntegrations returns distinct user ids having at least one
// active integration; used by the snapshot worker.
func (s *Store) ListUsersWithIntegrations(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT DISTINCT user_id FROM integrations WHERE is_active ORDER BY user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]string, 0, 64)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			continue
		}
		users = append(users, uid)
	}
	return users, rows.Err()
}

// ListIntegrations returns all of a user's integrations, active or not, with
// tokens masked for API exposure.
func (s *Store) ListIntegrations(ctx context.Context, userID string) ([]models.Integration, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+integrationColumns+`
		 FROM integrations
		 WHERE user_id = $1
		 ORDER BY service`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Integration, 0, 8)
	for rows.Next() {
		integ, err := s.scanIntegration(rows)
		if err != nil {
			// token rows from an older key rotation still list, just masked out
			s.logger.Debug("integration_list_scan_failed", "user_id", userID, "error", err)
			continue
		}
		integ.AccessToken = logging.MaskToken(integ.AccessToken)
		integ.RefreshToken = ""
		out = append(out, integ)
	}
	return out, rows.Err()
}
