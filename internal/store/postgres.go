package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brvmchallenge/engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (id, user_id, wallet, cash, initial_balance, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		p.ID, p.UserID, string(p.Wallet),
		p.Cash.String(), p.InitialBalance.String(), p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID string, wallet model.WalletMode) (*model.Portfolio, error) {
	var p model.Portfolio
	var walletS, cashS, initialS string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, wallet, cash::TEXT, initial_balance::TEXT, created_at
		 FROM portfolios WHERE user_id = $1 AND wallet = $2`,
		userID, string(wallet)).
		Scan(&p.ID, &p.UserID, &walletS, &cashS, &initialS, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s/%s: %w", userID, wallet, err)
	}

	p.Wallet = model.WalletMode(walletS)
	p.Cash, _ = decimal.NewFromString(cashS)
	p.InitialBalance, _ = decimal.NewFromString(initialS)
	return &p, nil
}

func (s *PostgresStore) UpdatePortfolioCash(ctx context.Context, portfolioID string, cash decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portfolios SET cash = $2::NUMERIC WHERE id = $1`,
		portfolioID, cash.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPortfoliosByWallet(ctx context.Context, wallet model.WalletMode) ([]model.Portfolio, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, wallet, cash::TEXT, initial_balance::TEXT, created_at
		 FROM portfolios WHERE wallet = $1 ORDER BY user_id`,
		string(wallet))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var portfolios []model.Portfolio
	for rows.Next() {
		var p model.Portfolio
		var walletS, cashS, initialS string
		if err := rows.Scan(&p.ID, &p.UserID, &walletS, &cashS, &initialS, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Wallet = model.WalletMode(walletS)
		p.Cash, _ = decimal.NewFromString(cashS)
		p.InitialBalance, _ = decimal.NewFromString(initialS)
		portfolios = append(portfolios, p)
	}
	return portfolios, rows.Err()
}

func (s *PostgresStore) GetPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT portfolio_id, ticker, quantity, avg_buy_price::TEXT
		 FROM positions WHERE portfolio_id = $1 ORDER BY ticker`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avgS string
		if err := rows.Scan(&p.PortfolioID, &p.Ticker, &p.Quantity, &avgS); err != nil {
			return nil, err
		}
		p.AvgBuyPrice, _ = decimal.NewFromString(avgS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if p.Quantity == 0 {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM positions WHERE portfolio_id = $1 AND ticker = $2`,
			p.PortfolioID, p.Ticker)
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (portfolio_id, ticker, quantity, avg_buy_price)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (portfolio_id, ticker)
		 DO UPDATE SET quantity = EXCLUDED.quantity, avg_buy_price = EXCLUDED.avg_buy_price`,
		p.PortfolioID, p.Ticker, p.Quantity, p.AvgBuyPrice.String(),
	)
	return err
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, portfolio_id, user_id, wallet, ticker, side, quantity, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9)`,
		tx.ID, tx.PortfolioID, tx.UserID, string(tx.Wallet), tx.Ticker, tx.Side,
		tx.Quantity, tx.Price.String(), tx.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetTransactionsByUser(ctx context.Context, userID string, wallet model.WalletMode) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, portfolio_id, user_id, wallet, ticker, side, quantity, price::TEXT, timestamp
		 FROM transactions WHERE user_id = $1 AND wallet = $2 ORDER BY timestamp`,
		userID, string(wallet))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var walletS, priceS string
		if err := rows.Scan(&tx.ID, &tx.PortfolioID, &tx.UserID, &walletS, &tx.Ticker,
			&tx.Side, &tx.Quantity, &priceS, &tx.Timestamp); err != nil {
			return nil, err
		}
		tx.Wallet = model.WalletMode(walletS)
		tx.Price, _ = decimal.NewFromString(priceS)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) GetVolumesSince(ctx context.Context, since time.Time) ([]model.TickerVolume, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, COALESCE(SUM(quantity), 0), COUNT(*)
		 FROM transactions WHERE timestamp >= $1
		 GROUP BY ticker
		 ORDER BY SUM(quantity) DESC, ticker`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var volumes []model.TickerVolume
	for rows.Next() {
		var tv model.TickerVolume
		if err := rows.Scan(&tv.Ticker, &tv.Shares, &tv.Trades); err != nil {
			return nil, err
		}
		volumes = append(volumes, tv)
	}
	return volumes, rows.Err()
}

func (s *PostgresStore) InsertEnrollment(ctx context.Context, e *model.Enrollment) error {
	questionnaire, err := json.Marshal(e.Questionnaire)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrollments (user_id, rules_accepted, questionnaire, enrolled_at)
		 VALUES ($1, $2, $3, $4)`,
		e.UserID, e.RulesAccepted, questionnaire, e.EnrolledAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrAlreadyEnrolled
	}
	return err
}

func (s *PostgresStore) GetEnrollment(ctx context.Context, userID string) (*model.Enrollment, error) {
	var e model.Enrollment
	var questionnaire []byte

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, rules_accepted, questionnaire, enrolled_at
		 FROM enrollments WHERE user_id = $1`, userID).
		Scan(&e.UserID, &e.RulesAccepted, &questionnaire, &e.EnrolledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment %s: %w", userID, err)
	}

	if len(questionnaire) > 0 {
		_ = json.Unmarshal(questionnaire, &e.Questionnaire)
	}
	return &e, nil
}

func (s *PostgresStore) SetRulesAccepted(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrollments SET rules_accepted = TRUE WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListEnrollments(ctx context.Context) ([]model.Enrollment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, rules_accepted, questionnaire, enrolled_at
		 FROM enrollments ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		var e model.Enrollment
		var questionnaire []byte
		if err := rows.Scan(&e.UserID, &e.RulesAccepted, &questionnaire, &e.EnrolledAt); err != nil {
			return nil, err
		}
		if len(questionnaire) > 0 {
			_ = json.Unmarshal(questionnaire, &e.Questionnaire)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

func (s *PostgresStore) UpsertPrice(ctx context.Context, p *model.PricePoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_bars (ticker, day, close)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (ticker, day) DO UPDATE SET close = EXCLUDED.close`,
		p.Ticker, p.Day.Truncate(24*time.Hour), p.Close.String(),
	)
	return err
}

func (s *PostgresStore) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var closeS string
	err := s.pool.QueryRow(ctx,
		`SELECT close::TEXT FROM price_bars
		 WHERE ticker = $1 ORDER BY day DESC LIMIT 1`, ticker).
		Scan(&closeS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("current price %s: %w", ticker, err)
	}
	price, _ := decimal.NewFromString(closeS)
	return price, nil
}

func (s *PostgresStore) PriceAt(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	var closeS string
	err := s.pool.QueryRow(ctx,
		`SELECT close::TEXT FROM price_bars WHERE ticker = $1 AND day = $2`,
		ticker, day.Truncate(24*time.Hour)).
		Scan(&closeS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("price at %s %s: %w", ticker, day.Format("2006-01-02"), err)
	}
	price, _ := decimal.NewFromString(closeS)
	return price, nil
}

func (s *PostgresStore) ListCurrentPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (ticker) ticker, close::TEXT
		 FROM price_bars ORDER BY ticker, day DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(map[string]decimal.Decimal)
	for rows.Next() {
		var ticker, closeS string
		if err := rows.Scan(&ticker, &closeS); err != nil {
			return nil, err
		}
		price, _ := decimal.NewFromString(closeS)
		prices[ticker] = price
	}
	return prices, rows.Err()
}
