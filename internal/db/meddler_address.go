package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("address", AddressMeddler{})
}

// AddressMeddler converts between common.Address and the checksummed hex
// string stored in the database. NULL columns read back as the zero address
// (or nil for pointer fields).
type AddressMeddler struct{}

func (a AddressMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (a AddressMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Address:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		addr := common.HexToAddress(ns.String)
		*ptr = &addr
	case *common.Address:
		if !ns.Valid {
			*ptr = common.Address{}
			return nil
		}
		*ptr = common.HexToAddress(ns.String)
	default:
		return fmt.Errorf("expected *common.Address or **common.Address, got %T", fieldAddr)
	}

	return nil
}

func (a AddressMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *common.Address:
		if v == nil {
			return nil, nil
		}
		return v.Hex(), nil
	case common.Address:
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("expected common.Address or *common.Address, got %T", field)
	}
}
