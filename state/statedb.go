package state

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/FusionX-io/bridge-go/auction"
	"github.com/FusionX-io/bridge-go/common"
	"github.com/FusionX-io/bridge-go/database"
)

// StateDB persists orders and fragments in sqlite. It does no
// serialization of writers; that is the Store's job.
type StateDB struct {
	stmtCache *database.StmtCache
}

func NewStateDB(db *sql.DB) (*StateDB, error) {
	if _, err := db.Exec(orderTable + fragmentTable); err != nil {
		return nil, err
	}
	return &StateDB{
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (stdb *StateDB) Close() {
	stdb.stmtCache.Clear()
}

// sqlOrder shadows Order for scanning; all columns are driver-native.
type sqlOrder struct {
	ID                string
	SrcChain          string
	DstChain          string
	SrcAsset          string
	SrcAmount         string
	DstAsset          string
	DstAmount         string
	Hashlock          string
	Timelock          int64
	Sender            string
	Beneficiary       string
	SrcRefundAddr     sql.NullString
	DstRefundAddr     sql.NullString
	SafetyDeposit     sql.NullString
	AllowPartialFills int
	FragmentCount     int
	Status            string
	FilledAmount      string
	RemainingAmount   string
	SrcOnchainID      sql.NullString
	DstOnchainID      sql.NullString
	SrcLockTxHash     sql.NullString
	DstLockTxHash     sql.NullString
	Auction           sql.NullString
	CreatedAt         int64
}

const orderColumns = `id, srcChain, dstChain, srcAsset, srcAmount, dstAsset, dstAmount,
	hashlock, timelock, sender, beneficiary, srcRefundAddr, dstRefundAddr,
	safetyDeposit, allowPartialFills, fragmentCount, status, filledAmount,
	remainingAmount, srcOnchainId, dstOnchainId, srcLockTxHash, dstLockTxHash,
	auction, createdAt`

func (s *sqlOrder) decode() *Order {
	o := &Order{
		ID:                s.ID,
		SrcChain:          s.SrcChain,
		DstChain:          s.DstChain,
		SrcAsset:          s.SrcAsset,
		SrcAmount:         common.DecStrToBigInt(s.SrcAmount),
		DstAsset:          s.DstAsset,
		DstAmount:         common.DecStrToBigInt(s.DstAmount),
		Hashlock:          ethcommon.HexToHash(s.Hashlock),
		Timelock:          time.Unix(s.Timelock, 0).UTC(),
		Sender:            s.Sender,
		Beneficiary:       s.Beneficiary,
		SrcRefundAddr:     s.SrcRefundAddr.String,
		DstRefundAddr:     s.DstRefundAddr.String,
		AllowPartialFills: s.AllowPartialFills != 0,
		FragmentCount:     s.FragmentCount,
		Status:            OrderStatus(s.Status),
		FilledAmount:      common.DecStrToBigInt(s.FilledAmount),
		RemainingAmount:   common.DecStrToBigInt(s.RemainingAmount),
		SrcOnchainID:      s.SrcOnchainID.String,
		DstOnchainID:      s.DstOnchainID.String,
		SrcLockTxHash:     s.SrcLockTxHash.String,
		DstLockTxHash:     s.DstLockTxHash.String,
		CreatedAt:         time.Unix(s.CreatedAt, 0).UTC(),
	}
	if s.SafetyDeposit.Valid {
		o.SafetyDeposit = common.DecStrToBigInt(s.SafetyDeposit.String)
	}
	o.Auction = decodeAuction(s.Auction)
	return o
}

func (stdb *StateDB) scanOrder(row *sql.Row) (*Order, error) {
	var s sqlOrder
	err := row.Scan(
		&s.ID, &s.SrcChain, &s.DstChain, &s.SrcAsset, &s.SrcAmount, &s.DstAsset,
		&s.DstAmount, &s.Hashlock, &s.Timelock, &s.Sender, &s.Beneficiary,
		&s.SrcRefundAddr, &s.DstRefundAddr, &s.SafetyDeposit, &s.AllowPartialFills,
		&s.FragmentCount, &s.Status, &s.FilledAmount, &s.RemainingAmount,
		&s.SrcOnchainID, &s.DstOnchainID, &s.SrcLockTxHash, &s.DstLockTxHash,
		&s.Auction, &s.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return s.decode(), nil
}

// InsertOrder writes the order and all its fragments in one sql tx.
// Fragments and secrets are created exactly once, here.
func (stdb *StateDB) InsertOrder(o *Order, frags []*Fragment) error {
	tx, err := stdb.stmtCache.DB().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var safety interface{}
	if o.SafetyDeposit != nil {
		safety = o.SafetyDeposit.String()
	}
	partial := 0
	if o.AllowPartialFills {
		partial = 1
	}

	_, err = tx.Exec(
		`INSERT INTO orders (`+orderColumns+`) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SrcChain, o.DstChain, o.SrcAsset, o.SrcAmount.String(), o.DstAsset,
		o.DstAmount.String(), hashHex(o.Hashlock), o.Timelock.Unix(), o.Sender,
		o.Beneficiary, o.SrcRefundAddr, o.DstRefundAddr, safety, partial,
		o.FragmentCount, string(o.Status), o.FilledAmount.String(),
		o.RemainingAmount.String(), o.SrcOnchainID, o.DstOnchainID,
		o.SrcLockTxHash, o.DstLockTxHash, encodeAuction(o.Auction), o.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrOrderExists
		}
		return err
	}

	for _, f := range frags {
		_, err = tx.Exec(
			`INSERT INTO fragments (orderId, idx, secret, secretHash, fillAmount,
			cumulative, proof, status, resolver, fillTxHash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.OrderID, f.Index, common.ByteSliceToPureHexStr(f.Secret[:]),
			hashHex(f.SecretHash), f.FillAmount.String(), f.Cumulative.String(),
			encodeProof(f.Proof), string(f.Status), f.Resolver, f.FillTxHash,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (stdb *StateDB) GetOrder(id string) (*Order, error) {
	stmt, err := stdb.stmtCache.Prepare(`SELECT ` + orderColumns + ` FROM orders WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	return stdb.scanOrder(stmt.QueryRow(id))
}

func (stdb *StateDB) ListByStatus(statuses ...OrderStatus) ([]*Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status IN (` + placeholders + `) ORDER BY createdAt`
	stmt, err := stdb.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var s sqlOrder
		if err := rows.Scan(
			&s.ID, &s.SrcChain, &s.DstChain, &s.SrcAsset, &s.SrcAmount, &s.DstAsset,
			&s.DstAmount, &s.Hashlock, &s.Timelock, &s.Sender, &s.Beneficiary,
			&s.SrcRefundAddr, &s.DstRefundAddr, &s.SafetyDeposit, &s.AllowPartialFills,
			&s.FragmentCount, &s.Status, &s.FilledAmount, &s.RemainingAmount,
			&s.SrcOnchainID, &s.DstOnchainID, &s.SrcLockTxHash, &s.DstLockTxHash,
			&s.Auction, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		orders = append(orders, s.decode())
	}
	return orders, rows.Err()
}

// ListActive returns every order not yet in a terminal status.
func (stdb *StateDB) ListActive() ([]*Order, error) {
	return stdb.ListByStatus(
		OrderStatusCreated, OrderStatusEthereumPending, OrderStatusStellarPending,
		OrderStatusBothActive, OrderStatusPartiallyFilled, OrderStatusExpired,
	)
}

func (stdb *StateDB) UpdateOrderStatus(id string, status OrderStatus) error {
	stmt, err := stdb.stmtCache.Prepare(`UPDATE orders SET status = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(string(status), id)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

// UpdateOrderLocks records the on-chain handles after a successful lock.
func (stdb *StateDB) UpdateOrderLocks(id, srcID, srcTx, dstID, dstTx string) error {
	stmt, err := stdb.stmtCache.Prepare(
		`UPDATE orders SET srcOnchainId = ?, srcLockTxHash = ?, dstOnchainId = ?, dstLockTxHash = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(srcID, srcTx, dstID, dstTx, id)
	if err != nil {
		return err
	}
	return checkOneRow(res)
}

func checkOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func hashHex(h ethcommon.Hash) string {
	return h.String()[2:]
}

func encodeAuction(cfg *auction.Config) interface{} {
	if cfg == nil {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	return string(raw)
}

func decodeAuction(s sql.NullString) *auction.Config {
	if !s.Valid || s.String == "" {
		return nil
	}
	var cfg auction.Config
	if err := json.Unmarshal([]byte(s.String), &cfg); err != nil {
		return nil
	}
	return &cfg
}

func encodeProof(proof []ethcommon.Hash) string {
	parts := make([]string, len(proof))
	for i, p := range proof {
		parts[i] = hashHex(p)
	}
	return strings.Join(parts, ",")
}

func decodeProof(s string) []ethcommon.Hash {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	proof := make([]ethcommon.Hash, len(parts))
	for i, p := range parts {
		proof[i] = ethcommon.HexToHash(p)
	}
	return proof
}
