package db

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/russross/meddler"
)

func init() {
	meddler.Register("bigint", BigIntMeddler{})
}

// BigIntMeddler converts between *big.Int and the decimal string stored in
// the database. Share amounts and distribution totals are uint256 values on
// chain, which do not fit in SQLite integers. NULL columns read back as zero.
type BigIntMeddler struct{}

func (b BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (b BigIntMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(**big.Int)
	if !ok {
		return fmt.Errorf("expected **big.Int, got %T", fieldAddr)
	}

	if !ns.Valid {
		*ptr = new(big.Int)
		return nil
	}

	value, ok := new(big.Int).SetString(ns.String, 10)
	if !ok {
		return fmt.Errorf("invalid decimal value %q", ns.String)
	}
	*ptr = value

	return nil
}

func (b BigIntMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	value, ok := field.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", field)
	}

	if value == nil {
		return "0", nil
	}

	return value.String(), nil
}
