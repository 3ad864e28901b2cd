package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", HashMeddler{})
}

// HashMeddler converts between common.Hash and the hex string stored in the
// database. NULL columns read back as the zero hash (or nil for pointer fields).
type HashMeddler struct{}

func (h HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (h HashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **common.Hash:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		hash := common.HexToHash(ns.String)
		*ptr = &hash
	case *common.Hash:
		if !ns.Valid {
			*ptr = common.Hash{}
			return nil
		}
		*ptr = common.HexToHash(ns.String)
	default:
		return fmt.Errorf("expected *common.Hash or **common.Hash, got %T", fieldAddr)
	}

	return nil
}

func (h HashMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *common.Hash:
		if v == nil {
			return nil, nil
		}
		return v.Hex(), nil
	case common.Hash:
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("expected common.Hash or *common.Hash, got %T", field)
	}
}
