package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/charlykso/vibe-tribe-backend-sub004/internal/domain/social"
)

// Compile-time interface assertions.
var (
	_ LinkedAccountRepository = (*PostgresLinkedAccountRepo)(nil)
	_ AuditRepository         = (*PostgresAuditRepo)(nil)
)

// PostgresLinkedAccountRepo implements LinkedAccountRepository on pgx.
type PostgresLinkedAccountRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresLinkedAccountRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresLinkedAccountRepo {
	return &PostgresLinkedAccountRepo{db: pool, node: node}
}

const linkedAccountColumns = `id, user_id, organization_id, platform, platform_user_id,
access_token, refresh_token, token_expires_at, username, display_name, avatar_url,
permissions, metadata, is_active, created_at, updated_at`

const upsertLinkedAccountSQL = `INSERT INTO linked_accounts (
	id, user_id, organization_id, platform, platform_user_id,
	access_token, refresh_token, token_expires_at, username, display_name, avatar_url,
	permissions, metadata, is_active, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, TRUE, now(), now())
ON CONFLICT (platform, platform_user_id, organization_id) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	token_expires_at = EXCLUDED.token_expires_at,
	username = EXCLUDED.username,
	display_name = EXCLUDED.display_name,
	avatar_url = EXCLUDED.avatar_url,
	permissions = EXCLUDED.permissions,
	metadata = EXCLUDED.metadata,
	is_active = TRUE,
	updated_at = now()
RETURNING ` + linkedAccountColumns

// Upsert inserts or updates on the identity triple. The row's id, created_at
// and original user_id are preserved on conflict.
func (r *PostgresLinkedAccountRepo) Upsert(ctx context.Context, account social.LinkedAccount) (social.LinkedAccount, error) {
	permissions, err := json.Marshal(account.Permissions)
	if err != nil {
		return social.LinkedAccount{}, fmt.Errorf("marshal permissions: %w", err)
	}
	metadata, err := json.Marshal(account.Metadata)
	if err != nil {
		return social.LinkedAccount{}, fmt.Errorf("marshal metadata: %w", err)
	}

	row := r.db.QueryRow(ctx, upsertLinkedAccountSQL,
		r.node.Generate().Int64(),
		account.UserID,
		account.OrganizationID,
		string(account.Platform),
		account.PlatformUserID,
		account.AccessToken,
		account.RefreshToken,
		account.TokenExpiresAt,
		account.Username,
		account.DisplayName,
		account.AvatarURL,
		permissions,
		metadata,
	)
	saved, err := scanLinkedAccount(row)
	if err != nil {
		return social.LinkedAccount{}, fmt.Errorf("upsert linked account: %w", err)
	}
	return saved, nil
}

const getLinkedAccountSQL = `SELECT ` + linkedAccountColumns + ` FROM linked_accounts WHERE id = $1`

func (r *PostgresLinkedAccountRepo) GetByID(ctx context.Context, id int64) (social.LinkedAccount, error) {
	row := r.db.QueryRow(ctx, getLinkedAccountSQL, id)
	account, err := scanLinkedAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return social.LinkedAccount{}, social.ErrAccountNotFound
		}
		return social.LinkedAccount{}, fmt.Errorf("get linked account: %w", err)
	}
	return account, nil
}

const listActiveByOrgSQL = `SELECT ` + linkedAccountColumns + ` FROM linked_accounts
WHERE organization_id = $1 AND is_active AND ($2 = '' OR platform = $2)
ORDER BY created_at`

func (r *PostgresLinkedAccountRepo) ListActiveByOrg(ctx context.Context, organizationID int64, platform social.Platform) ([]social.LinkedAccount, error) {
	rows, err := r.db.Query(ctx, listActiveByOrgSQL, organizationID, string(platform))
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}
	defer rows.Close()
	return collectLinkedAccounts(rows)
}

const listRefreshableSQL = `SELECT ` + linkedAccountColumns + ` FROM linked_accounts
WHERE is_active AND refresh_token IS NOT NULL`

func (r *PostgresLinkedAccountRepo) ListRefreshable(ctx context.Context) ([]social.LinkedAccount, error) {
	rows, err := r.db.Query(ctx, listRefreshableSQL)
	if err != nil {
		return nil, fmt.Errorf("list refreshable accounts: %w", err)
	}
	defer rows.Close()
	return collectLinkedAccounts(rows)
}

const updateTokensSQL = `UPDATE linked_accounts
SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = now()
WHERE id = $1 AND is_active`

func (r *PostgresLinkedAccountRepo) UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx, updateTokensSQL, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return social.ErrAccountNotFound
	}
	return nil
}

const deactivateSQL = `UPDATE linked_accounts
SET is_active = FALSE, access_token = '', refresh_token = NULL, updated_at = now()
WHERE id = $1 AND is_active`

func (r *PostgresLinkedAccountRepo) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, deactivateSQL, id)
	if err != nil {
		return fmt.Errorf("deactivate linked account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return social.ErrAccountNotFound
	}
	return nil
}

func collectLinkedAccounts(rows pgx.Rows) ([]social.LinkedAccount, error) {
	var accounts []social.LinkedAccount
	for rows.Next() {
		account, err := scanLinkedAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan linked account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked accounts: %w", err)
	}
	return accounts, nil
}

func scanLinkedAccount(row pgx.Row) (social.LinkedAccount, error) {
	var (
		account     social.LinkedAccount
		platform    string
		permissions []byte
		metadata    []byte
	)
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.OrganizationID,
		&platform,
		&account.PlatformUserID,
		&account.AccessToken,
		&account.RefreshToken,
		&account.TokenExpiresAt,
		&account.Username,
		&account.DisplayName,
		&account.AvatarURL,
		&permissions,
		&metadata,
		&account.IsActive,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return social.LinkedAccount{}, err
	}
	account.Platform = social.Platform(platform)
	if len(permissions) > 0 {
		_ = json.Unmarshal(permissions, &account.Permissions)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &account.Metadata)
	}
	return account, nil
}

// PostgresAuditRepo implements AuditRepository on pgx.
type PostgresAuditRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresAuditRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: pool, node: node}
}

const insertAuditEventSQL = `INSERT INTO oauth_audit_events (
	id, user_id, organization_id, platform, action, success,
	ip_address, user_agent, error, metadata, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (r *PostgresAuditRepo) Insert(ctx context.Context, event social.AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	id := event.ID
	if id == 0 {
		id = r.node.Generate().Int64()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := r.db.Exec(ctx, insertAuditEventSQL,
		id,
		event.UserID,
		event.OrganizationID,
		string(event.Platform),
		string(event.Action),
		event.Success,
		event.IPAddress,
		event.UserAgent,
		event.Error,
		metadata,
		createdAt,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
