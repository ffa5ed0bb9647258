package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grantmatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the PostgreSQL persistence layer: linked companies, the SIC
// reference table, search history and saved grants.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Linked companies

const companyCols = `id, user_id, company_number, company_name, company_status, company_type,
	date_of_creation, registered_address, raw_profile, created_at, updated_at`

func (s *Store) GetLinkedCompany(ctx context.Context, userID uuid.UUID) (*models.LinkedCompany, error) {
	var c models.LinkedCompany
	err := s.pool.QueryRow(ctx, `SELECT `+companyCols+` FROM user_companies WHERE user_id = $1`, userID).Scan(
		&c.ID, &c.UserID, &c.CompanyNumber, &c.CompanyName, &c.CompanyStatus, &c.CompanyType,
		&c.DateOfCreation, &c.RegisteredAddress, &c.RawProfile, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading linked company: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT code, description, section, division
		FROM company_sic_codes
		WHERE company_id = $1
		ORDER BY position, code
	`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("loading company sic codes: %w", err)
	}
	defer rows.Close()

	c.SICCodes = []models.LinkedSICCode{}
	for rows.Next() {
		var sc models.LinkedSICCode
		if err := rows.Scan(&sc.Code, &sc.Description, &sc.Section, &sc.Division); err != nil {
			return nil, err
		}
		c.SICCodes = append(c.SICCodes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindLinkedCompany returns the matcher's view of the user's company, or nil
// when none is linked.
func (s *Store) FindLinkedCompany(ctx context.Context, userID uuid.UUID) (*models.CompanyContext, error) {
	c, err := s.GetLinkedCompany(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.Context(), nil
}

// UpsertLinkedCompany links c to its user, replacing any previous link and
// its SIC codes.
func (s *Store) UpsertLinkedCompany(ctx context.Context, c *models.LinkedCompany) (*models.LinkedCompany, error) {
	out := *c
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO user_companies (user_id, company_number, company_name, company_status, company_type,
				date_of_creation, registered_address, raw_profile)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id) DO UPDATE SET
				company_number = EXCLUDED.company_number,
				company_name = EXCLUDED.company_name,
				company_status = EXCLUDED.company_status,
				company_type = EXCLUDED.company_type,
				date_of_creation = EXCLUDED.date_of_creation,
				registered_address = EXCLUDED.registered_address,
				raw_profile = EXCLUDED.raw_profile,
				updated_at = NOW()
			RETURNING id, created_at, updated_at
		`, c.UserID, c.CompanyNumber, c.CompanyName, c.CompanyStatus, c.CompanyType,
			c.DateOfCreation, c.RegisteredAddress, nullJSON(c.RawProfile),
		).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upserting company: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM company_sic_codes WHERE company_id = $1`, out.ID); err != nil {
			return fmt.Errorf("clearing sic codes: %w", err)
		}

		batch := &pgx.Batch{}
		for i, sc := range c.SICCodes {
			batch.Queue(`
				INSERT INTO company_sic_codes (company_id, code, description, section, division, position)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (company_id, code) DO NOTHING
			`, out.ID, sc.Code, sc.Description, sc.Section, sc.Division, i)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting sic codes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UnlinkCompany removes the user's company link. It reports whether a link existed.
func (s *Store) UnlinkCompany(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_companies WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("unlinking company: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SIC reference

// LookupDescriptions returns the reference rows for codes in input order.
// Unknown codes are skipped.
func (s *Store) LookupDescriptions(ctx context.Context, codes []string) ([]models.IndustryCodeDescription, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT code, description, section, section_name, division, division_name
		FROM sic_code_reference
		WHERE code = ANY($1)
	`, codes)
	if err != nil {
		return nil, fmt.Errorf("looking up sic codes: %w", err)
	}
	defer rows.Close()

	var found []models.IndustryCodeDescription
	for rows.Next() {
		var r models.IndustryCodeDescription
		if err := rows.Scan(&r.Code, &r.Description, &r.Section, &r.SectionName, &r.Division, &r.DivisionName); err != nil {
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderByCodes(found, codes), nil
}

// UpsertSICReference writes reference rows, replacing existing codes.
func (s *Store) UpsertSICReference(ctx context.Context, rows []models.IndustryCodeDescription) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		if strings.TrimSpace(r.Code) == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO sic_code_reference (code, description, section, section_name, division, division_name)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (code) DO UPDATE SET
				description = EXCLUDED.description,
				section = EXCLUDED.section,
				section_name = EXCLUDED.section_name,
				division = EXCLUDED.division,
				division_name = EXCLUDED.division_name
		`, r.Code, r.Description, r.Section, r.SectionName, r.Division, r.DivisionName)
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("upserting sic reference: %w", err)
	}
	return batch.Len(), nil
}

func orderByCodes(rows []models.IndustryCodeDescription, codes []string) []models.IndustryCodeDescription {
	byCode := make(map[string]models.IndustryCodeDescription, len(rows))
	for _, r := range rows {
		byCode[r.Code] = r
	}
	out := make([]models.IndustryCodeDescription, 0, len(rows))
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		if r, ok := byCode[c]; ok && !seen[c] {
			out = append(out, r)
			seen[c] = true
		}
	}
	return out
}

// Search history

func (s *Store) RecordSearch(ctx context.Context, userID uuid.UUID, query string, filters models.GrantSearchParams, resultCount int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO search_history (user_id, query, filters, result_count)
		VALUES ($1, $2, $3, $4)
	`, userID, query, filters, resultCount)
	if err != nil {
		return fmt.Errorf("recording search: %w", err)
	}
	return nil
}

func (s *Store) CountSearchesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM search_history WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting searches: %w", err)
	}
	return n, nil
}

// RecentSearches lists the newest searches, for one user or for everyone when
// userID is uuid.Nil.
func (s *Store) RecentSearches(ctx context.Context, userID uuid.UUID, limit int) ([]models.SearchHistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	sql := `SELECT id, user_id, query, filters, result_count, created_at FROM search_history`
	args := []any{limit}
	if userID != uuid.Nil {
		sql += ` WHERE user_id = $2`
		args = append(args, userID)
	}
	sql += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing searches: %w", err)
	}
	defer rows.Close()

	entries := []models.SearchHistoryEntry{}
	for rows.Next() {
		var e models.SearchHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Query, &e.Filters, &e.ResultCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Saved grants

const savedCols = `id, user_id, grant_source, external_id, title, description, funding_body,
	amount_min, amount_max, currency, open_date, close_date, application_url, categories, raw_data, created_at`

func scanSavedGrant(scan func(dest ...any) error) (models.SavedGrant, error) {
	var g models.SavedGrant
	var source string
	err := scan(
		&g.ID, &g.UserID, &source, &g.ExternalID, &g.Title, &g.Description, &g.FundingBody,
		&g.AmountMin, &g.AmountMax, &g.Currency, &g.OpenDate, &g.CloseDate, &g.ApplicationURL,
		&g.Categories, &g.RawData, &g.CreatedAt,
	)
	g.Source = models.Source(source)
	if g.Categories == nil {
		g.Categories = []string{}
	}
	return g, err
}

// SaveGrant stores a bookmark. Saving the same grant again refreshes its snapshot.
func (s *Store) SaveGrant(ctx context.Context, userID uuid.UUID, g models.SavedGrant) (*models.SavedGrant, error) {
	categories := g.Categories
	if categories == nil {
		categories = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO saved_grants (user_id, grant_source, external_id, title, description, funding_body,
			amount_min, amount_max, currency, open_date, close_date, application_url, categories, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, grant_source, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			funding_body = EXCLUDED.funding_body,
			amount_min = EXCLUDED.amount_min,
			amount_max = EXCLUDED.amount_max,
			currency = EXCLUDED.currency,
			open_date = EXCLUDED.open_date,
			close_date = EXCLUDED.close_date,
			application_url = EXCLUDED.application_url,
			categories = EXCLUDED.categories,
			raw_data = EXCLUDED.raw_data
		RETURNING `+savedCols,
		userID, string(g.Source), g.ExternalID, g.Title, g.Description, g.FundingBody,
		g.AmountMin, g.AmountMax, g.Currency, g.OpenDate, g.CloseDate, g.ApplicationURL,
		categories, nullJSON(g.RawData),
	)
	saved, err := scanSavedGrant(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("saving grant: %w", err)
	}
	return &saved, nil
}

func (s *Store) ListSavedGrants(ctx context.Context, userID uuid.UUID) ([]models.SavedGrant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+savedCols+` FROM saved_grants WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing saved grants: %w", err)
	}
	defer rows.Close()

	grants := []models.SavedGrant{}
	for rows.Next() {
		g, err := scanSavedGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *Store) IsGrantSaved(ctx context.Context, userID uuid.UUID, source models.Source, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM saved_grants WHERE user_id = $1 AND grant_source = $2 AND external_id = $3)
	`, userID, string(source), externalID).Scan(&exists)
	return exists, err
}

func (s *Store) CountSavedGrants(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM saved_grants WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting saved grants: %w", err)
	}
	return n, nil
}

// DeleteSavedGrant removes a bookmark and reports whether one existed.
func (s *Store) DeleteSavedGrant(ctx context.Context, userID uuid.UUID, source models.Source, externalID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM saved_grants WHERE user_id = $1 AND grant_source = $2 AND external_id = $3
	`, userID, string(source), externalID)
	if err != nil {
		return false, fmt.Errorf("deleting saved grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// nullJSON maps an empty raw message to SQL NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
