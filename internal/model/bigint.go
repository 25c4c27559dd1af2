package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt 以十进制字符串持久化的大整数（wei），避免浮点与 int64 溢出
type BigInt struct {
	v big.Int
}

// NewBigInt 从 *big.Int 构造，nil 视为 0
func NewBigInt(x *big.Int) BigInt {
	var b BigInt
	if x != nil {
		b.v.Set(x)
	}
	return b
}

// Int 返回副本
func (b BigInt) Int() *big.Int {
	return new(big.Int).Set(&b.v)
}

func (b BigInt) String() string {
	return b.v.String()
}

// Value 实现 driver.Valuer
func (b BigInt) Value() (driver.Value, error) {
	return b.v.String(), nil
}

// Scan 实现 sql.Scanner
func (b *BigInt) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		b.v.SetInt64(0)
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		b.v.SetInt64(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into BigInt", src)
	}

	if s == "" {
		b.v.SetInt64(0)
		return nil
	}
	if _, ok := b.v.SetString(s, 10); !ok {
		return fmt.Errorf("invalid BigInt value %q", s)
	}
	return nil
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.v.String())
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return b.Scan(s)
}
