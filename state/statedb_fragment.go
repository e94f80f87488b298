package state

import (
	"database/sql"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/FusionX-io/bridge-go/common"
)

type sqlFragment struct {
	OrderID    string
	Index      int
	Secret     string
	SecretHash string
	FillAmount string
	Cumulative string
	Proof      sql.NullString
	Status     string
	Revealed   int
	Resolver   sql.NullString
	FillTxHash sql.NullString
}

const fragmentColumns = `orderId, idx, secret, secretHash, fillAmount, cumulative, proof, status, revealed, resolver, fillTxHash`

func (s *sqlFragment) decode() *Fragment {
	var secret [32]byte
	copy(secret[:], common.HexStrToByteSlice(s.Secret))

	return &Fragment{
		OrderID:    s.OrderID,
		Index:      s.Index,
		Secret:     secret,
		SecretHash: ethcommon.HexToHash(s.SecretHash),
		FillAmount: common.DecStrToBigInt(s.FillAmount),
		Cumulative: common.DecStrToBigInt(s.Cumulative),
		Proof:      decodeProof(s.Proof.String),
		Status:     FragmentStatus(s.Status),
		Revealed:   s.Revealed != 0,
		Resolver:   s.Resolver.String,
		FillTxHash: s.FillTxHash.String,
	}
}

// GetFragments returns an order's fragments ordered by index.
func (stdb *StateDB) GetFragments(orderID string) ([]*Fragment, error) {
	stmt, err := stdb.stmtCache.Prepare(
		`SELECT ` + fragmentColumns + ` FROM fragments WHERE orderId = ? ORDER BY idx`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frags []*Fragment
	for rows.Next() {
		var s sqlFragment
		if err := rows.Scan(
			&s.OrderID, &s.Index, &s.Secret, &s.SecretHash, &s.FillAmount,
			&s.Cumulative, &s.Proof, &s.Status, &s.Revealed, &s.Resolver, &s.FillTxHash,
		); err != nil {
			return nil, err
		}
		frags = append(frags, s.decode())
	}
	return frags, rows.Err()
}

func (stdb *StateDB) GetFragment(orderID string, index int) (*Fragment, error) {
	stmt, err := stdb.stmtCache.Prepare(
		`SELECT ` + fragmentColumns + ` FROM fragments WHERE orderId = ? AND idx = ?`)
	if err != nil {
		return nil, err
	}

	var s sqlFragment
	err = stmt.QueryRow(orderID, index).Scan(
		&s.OrderID, &s.Index, &s.Secret, &s.SecretHash, &s.FillAmount,
		&s.Cumulative, &s.Proof, &s.Status, &s.Revealed, &s.Resolver, &s.FillTxHash,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrFragmentNotFound
		}
		return nil, err
	}
	return s.decode(), nil
}

// applyFillTx marks the fragment filled and bumps the order's fill
// counters inside one sql tx, so a crash never leaves them split.
func (stdb *StateDB) applyFillTx(o *Order, f *Fragment) error {
	tx, err := stdb.stmtCache.DB().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE fragments SET status = ?, resolver = ?, fillTxHash = ? WHERE orderId = ? AND idx = ?`,
		string(f.Status), f.Resolver, f.FillTxHash, f.OrderID, f.Index,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		`UPDATE orders SET status = ?, filledAmount = ?, remainingAmount = ? WHERE id = ?`,
		string(o.Status), o.FilledAmount.String(), o.RemainingAmount.String(), o.ID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateFragmentStatus flips a fragment from one status to another.
// The from guard makes the flip a compare-and-swap; a lost race reports
// ErrFragmentNotFound.
func (stdb *StateDB) UpdateFragmentStatus(orderID string, index int, from, to FragmentStatus) error {
	stmt, err := stdb.stmtCache.Prepare(
		`UPDATE fragments SET status = ? WHERE orderId = ? AND idx = ? AND status = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(string(to), orderID, index, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFragmentNotFound
	}
	return nil
}

// MarkFragmentRevealed records that the pre-image left the coordinator.
func (stdb *StateDB) MarkFragmentRevealed(orderID string, index int) error {
	stmt, err := stdb.stmtCache.Prepare(
		`UPDATE fragments SET revealed = 1 WHERE orderId = ? AND idx = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(orderID, index)
	return err
}

// ExpireFragments flips every pending fragment of the order to expired.
func (stdb *StateDB) ExpireFragments(orderID string) error {
	stmt, err := stdb.stmtCache.Prepare(
		`UPDATE fragments SET status = ? WHERE orderId = ? AND status = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(string(FragmentStatusExpired), orderID, string(FragmentStatusPending))
	return err
}
