package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferreirogomes/aether/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB representa a conexão com o banco de dados PostgreSQL.
type DB struct {
	*sqlx.DB
	log *zap.SugaredLogger
}

// NewDB conecta-se ao PostgreSQL. As migrações são aplicadas só se migrateOnStart.
func NewDB(ctx context.Context, dataSourceName string, migrateOnStart bool, log *zap.SugaredLogger) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar ao banco de dados: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("falha ao pingar o banco de dados: %w", err)
	}
	log.Infow("conexão com PostgreSQL estabelecida")

	d := &DB{DB: db, log: log}
	if migrateOnStart {
		if _, err := d.Migrate(migrate.Up); err != nil {
			db.Close()
			return nil, err
		}
	}
	return d, nil
}

// Migrate aplica (ou desfaz) as migrações embutidas usando sql-migrate.
func (d *DB) Migrate(dir migrate.MigrationDirection) (int, error) {
	return runMigrations(d.DB.DB, dir, d.log)
}

func runMigrations(db *sql.DB, dir migrate.MigrationDirection, log *zap.SugaredLogger) (int, error) {
	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       "migrations",
	}

	n, err := migrate.Exec(db, "postgres", migrations, dir)
	if err != nil {
		return 0, fmt.Errorf("erro ao aplicar migrações: %w", err)
	}
	if n > 0 {
		log.Infow("migrações aplicadas", "count", n)
	} else {
		log.Infow("nenhuma migração nova para aplicar")
	}
	return n, nil
}

// InTx executa fn dentro de uma transação. Erro ou panic em fn fazem rollback.
func (d *DB) InTx(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("falha ao iniciar transação: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				d.log.Warnw("falha no rollback", "error", rbErr)
			}
		}
	}()

	if err = fn(&pgQueries{ext: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("falha ao confirmar transação: %w", err)
	}
	return nil
}

// pgQueries implementa Queries sobre *sqlx.DB ou *sqlx.Tx.
type pgQueries struct {
	ext sqlx.ExtContext
}

const propertyColumns = `id, address, title, symbol, valuation_usd, total_supply, yield_rate, created_at, updated_at`

func (q *pgQueries) GetProperty(ctx context.Context, address string) (models.Property, bool, error) {
	var p models.Property
	err := sqlx.GetContext(ctx, q.ext, &p, `SELECT `+propertyColumns+` FROM properties WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Property{}, false, nil
	}
	if err != nil {
		return models.Property{}, false, fmt.Errorf("falha ao buscar imóvel: %w", err)
	}
	return p, true, nil
}

// SaveProperty insere ou atualiza um imóvel. O supply total nunca é alterado.
func (q *pgQueries) SaveProperty(ctx context.Context, p models.Property) error {
	query := `
		INSERT INTO properties (id, address, title, symbol, valuation_usd, total_supply, yield_rate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			title = EXCLUDED.title,
			symbol = EXCLUDED.symbol,
			valuation_usd = EXCLUDED.valuation_usd,
			yield_rate = EXCLUDED.yield_rate,
			updated_at = EXCLUDED.updated_at`
	_, err := q.ext.ExecContext(ctx, query, p.ID, p.Address, p.Title, p.Symbol,
		p.ValuationUSD, p.TotalSupply, p.YieldRate, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("falha ao salvar imóvel: %w", err)
	}
	return nil
}

func (q *pgQueries) ListProperties(ctx context.Context) ([]models.Property, error) {
	props := []models.Property{}
	if err := sqlx.SelectContext(ctx, q.ext, &props, `SELECT `+propertyColumns+` FROM properties ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("falha ao listar imóveis: %w", err)
	}
	return props, nil
}

const orderColumns = `id, maker_address, property_address, side, price, amount, filled_amount, status, created_at, updated_at`

func (q *pgQueries) CreateOrder(ctx context.Context, o models.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.ext.ExecContext(ctx, query, o.ID, o.MakerAddress, o.PropertyAddress, o.Side,
		o.Price, o.Amount, o.FilledAmount, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("falha ao criar ordem: %w", err)
	}
	return nil
}

func (q *pgQueries) GetOrderForUpdate(ctx context.Context, id string) (models.Order, bool, error) {
	var o models.Order
	err := sqlx.GetContext(ctx, q.ext, &o, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, fmt.Errorf("falha ao buscar ordem: %w", err)
	}
	return o, true, nil
}

func (q *pgQueries) UpdateOrder(ctx context.Context, o models.Order) error {
	query := `UPDATE orders SET filled_amount = $1, status = $2, updated_at = $3 WHERE id = $4`
	res, err := q.ext.ExecContext(ctx, query, o.FilledAmount, o.Status, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("falha ao atualizar ordem: %w", err)
	}
	return expectOneRow(res)
}

func (q *pgQueries) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PropertyAddress != "" {
		add("property_address = $%d", f.PropertyAddress)
	}
	if f.Side != "" {
		add("side = $%d", f.Side)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	// Compras: maior preço primeiro. Vendas: menor preço primeiro.
	if f.Side == models.SideBuy {
		query += ` ORDER BY price DESC, created_at`
	} else {
		query += ` ORDER BY price ASC, created_at`
	}

	orders := []models.Order{}
	if err := sqlx.SelectContext(ctx, q.ext, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("falha ao listar ordens: %w", err)
	}
	return orders, nil
}

func (q *pgQueries) ListRecentFills(ctx context.Context, limit int) ([]models.Order, error) {
	orders := []models.Order{}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = 'FILLED' ORDER BY updated_at DESC LIMIT $1`
	if err := sqlx.SelectContext(ctx, q.ext, &orders, query, limit); err != nil {
		return nil, fmt.Errorf("falha ao listar execuções: %w", err)
	}
	return orders, nil
}

const investmentColumns = `id, holder_address, property_address, token_amount, amount_paid, status, tx_hash, escrow_id, created_at, updated_at`

func (q *pgQueries) GetHoldingsForUpdate(ctx context.Context, holder, property string) ([]models.Investment, error) {
	invs := []models.Investment{}
	query := `SELECT ` + investmentColumns + ` FROM investments
		WHERE holder_address = $1 AND property_address = $2 AND status = 'CONFIRMED'
		ORDER BY created_at, id
		FOR UPDATE`
	if err := sqlx.SelectContext(ctx, q.ext, &invs, query, holder, property); err != nil {
		return nil, fmt.Errorf("falha ao buscar posições: %w", err)
	}
	return invs, nil
}

func (q *pgQueries) CreateInvestment(ctx context.Context, inv models.Investment) error {
	query := `INSERT INTO investments (` + investmentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.ext.ExecContext(ctx, query, inv.ID, inv.HolderAddress, inv.PropertyAddress, inv.TokenAmount,
		inv.AmountPaid, inv.Status, inv.TxHash, inv.EscrowID, inv.CreatedAt, inv.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateTxHash
	}
	if err != nil {
		return fmt.Errorf("falha ao criar investimento: %w", err)
	}
	return nil
}

func (q *pgQueries) UpdateInvestment(ctx context.Context, inv models.Investment) error {
	query := `UPDATE investments SET token_amount = $1, amount_paid = $2, status = $3, escrow_id = $4, updated_at = $5 WHERE id = $6`
	res, err := q.ext.ExecContext(ctx, query, inv.TokenAmount, inv.AmountPaid, inv.Status, inv.EscrowID, inv.UpdatedAt, inv.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateTxHash
	}
	if err != nil {
		return fmt.Errorf("falha ao atualizar investimento: %w", err)
	}
	return expectOneRow(res)
}

func (q *pgQueries) FindPendingInvestment(ctx context.Context, holder, property, escrowID string) (models.Investment, bool, error) {
	var inv models.Investment
	query := `SELECT ` + investmentColumns + ` FROM investments
		WHERE holder_address = $1 AND property_address = $2 AND status = 'PENDING'
		ORDER BY (escrow_id IS NOT DISTINCT FROM $3::text) DESC, created_at, id
		LIMIT 1
		FOR UPDATE`
	err := sqlx.GetContext(ctx, q.ext, &inv, query, holder, property, escrowID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Investment{}, false, nil
	}
	if err != nil {
		return models.Investment{}, false, fmt.Errorf("falha ao buscar investimento pendente: %w", err)
	}
	return inv, true, nil
}

func (q *pgQueries) FindInvestmentByEscrow(ctx context.Context, escrowID string) (models.Investment, bool, error) {
	var inv models.Investment
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE escrow_id = $1 FOR UPDATE`
	err := sqlx.GetContext(ctx, q.ext, &inv, query, escrowID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Investment{}, false, nil
	}
	if err != nil {
		return models.Investment{}, false, fmt.Errorf("falha ao buscar investimento do escrow: %w", err)
	}
	return inv, true, nil
}

func (q *pgQueries) ListInvestmentsByTxHash(ctx context.Context, txHash string) ([]models.Investment, error) {
	invs := []models.Investment{}
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE tx_hash = $1 ORDER BY created_at, id FOR UPDATE`
	if err := sqlx.SelectContext(ctx, q.ext, &invs, query, txHash); err != nil {
		return nil, fmt.Errorf("falha ao buscar investimentos da transação: %w", err)
	}
	return invs, nil
}

func (q *pgQueries) ListInvestments(ctx context.Context, property string, status models.InvestmentStatus) ([]models.Investment, error) {
	invs := []models.Investment{}
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE property_address = $1 AND status = $2 ORDER BY holder_address, created_at`
	if err := sqlx.SelectContext(ctx, q.ext, &invs, query, property, status); err != nil {
		return nil, fmt.Errorf("falha ao listar investimentos: %w", err)
	}
	return invs, nil
}

func (q *pgQueries) ListInvestmentsByHolder(ctx context.Context, holder string) ([]models.Investment, error) {
	invs := []models.Investment{}
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE holder_address = $1 ORDER BY created_at DESC`
	if err := sqlx.SelectContext(ctx, q.ext, &invs, query, holder); err != nil {
		return nil, fmt.Errorf("falha ao listar investimentos do usuário: %w", err)
	}
	return invs, nil
}

func (q *pgQueries) AppendPayout(ctx context.Context, p models.YieldPayout) error {
	query := `INSERT INTO yield_payouts (id, run_id, property_address, holder_address, amount, status, tx_hash, distributed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := q.ext.ExecContext(ctx, query, p.ID, p.RunID, p.PropertyAddress, p.HolderAddress,
		p.Amount, p.Status, p.TxHash, p.DistributedAt)
	if err != nil {
		return fmt.Errorf("falha ao registrar pagamento de rendimento: %w", err)
	}
	return nil
}

func (q *pgQueries) ListPayoutsByHolder(ctx context.Context, holder string) ([]models.YieldPayout, error) {
	payouts := []models.YieldPayout{}
	query := `SELECT id, run_id, property_address, holder_address, amount, status, tx_hash, distributed_at
		FROM yield_payouts WHERE holder_address = $1 ORDER BY distributed_at DESC`
	if err := sqlx.SelectContext(ctx, q.ext, &payouts, query, holder); err != nil {
		return nil, fmt.Errorf("falha ao listar rendimentos: %w", err)
	}
	return payouts, nil
}

func (q *pgQueries) PayoutTotals(ctx context.Context) (models.PayoutTotals, error) {
	var t models.PayoutTotals
	query := `SELECT
		(SELECT COUNT(*) FROM properties) AS properties,
		(SELECT COALESCE(SUM(valuation_usd), 0) FROM properties) AS total_tvl,
		(SELECT COUNT(DISTINCT holder_address) FROM investments) AS investors,
		(SELECT COALESCE(SUM(amount), 0) FROM yield_payouts WHERE status = 'SUCCESS') AS total_paid`
	if err := sqlx.GetContext(ctx, q.ext, &t, query); err != nil {
		return models.PayoutTotals{}, fmt.Errorf("falha ao calcular estatísticas: %w", err)
	}
	return t, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
