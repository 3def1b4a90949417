package service

import (
	"github.com/holiman/uint256"
	"google.golang.org/protobuf/encoding/protowire"

	"hybridbook/domain/market"
	"hybridbook/domain/orderbook"
	"hybridbook/infra/wal/entry"
	"hybridbook/pkg/errors"
)

// command is the journal payload of every record type. Only the fields a
// type uses are encoded. Amounts travel as minimal big-endian bytes.
type command struct {
	Pool    market.PoolID
	User    market.UserID
	Asset   market.Asset
	Side    market.Side
	Price   uint256.Int
	Amount  uint256.Int
	OrderID orderbook.OrderID

	// swap outcome reported by the curve
	Spot        uint256.Int
	Reference   uint256.Int
	AmmProceeds uint256.Int

	// pool creation
	Config market.Config
}

const (
	fieldPool protowire.Number = iota + 1
	fieldUser
	fieldAsset
	fieldSide
	fieldPrice
	fieldAmount
	fieldOrderID
	fieldSpot
	fieldReference
	fieldAmmProceeds
	fieldBase
	fieldQuote
	fieldTickSpacing
	fieldWords
	fieldMinPrice
	fieldMaxPrice
	fieldDustBuy
	fieldDustSell
	fieldTreasury
	fieldMaxDeviation
)

func appendString(b []byte, n protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, n protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendAmount(b []byte, n protowire.Number, v *uint256.Int) []byte {
	if v.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendBytes(b, v.Bytes())
}

func (c *command) marshal() []byte {
	var b []byte
	b = appendString(b, fieldPool, string(c.Pool))
	b = appendString(b, fieldUser, string(c.User))
	b = appendString(b, fieldAsset, string(c.Asset))
	b = appendUint(b, fieldSide, uint64(c.Side))
	b = appendAmount(b, fieldPrice, &c.Price)
	b = appendAmount(b, fieldAmount, &c.Amount)
	b = appendUint(b, fieldOrderID, uint64(c.OrderID))
	b = appendAmount(b, fieldSpot, &c.Spot)
	b = appendAmount(b, fieldReference, &c.Reference)
	b = appendAmount(b, fieldAmmProceeds, &c.AmmProceeds)

	cfg := &c.Config
	b = appendString(b, fieldBase, string(cfg.Base))
	b = appendString(b, fieldQuote, string(cfg.Quote))
	b = appendAmount(b, fieldTickSpacing, &cfg.TickSpacing)
	b = appendUint(b, fieldWords, uint64(cfg.Words))
	b = appendAmount(b, fieldMinPrice, &cfg.MinPrice)
	b = appendAmount(b, fieldMaxPrice, &cfg.MaxPrice)
	b = appendAmount(b, fieldDustBuy, &cfg.DustThresholdBuy)
	b = appendAmount(b, fieldDustSell, &cfg.DustThresholdSell)
	b = appendString(b, fieldTreasury, string(cfg.Treasury))
	b = appendAmount(b, fieldMaxDeviation, &cfg.MaxDeviation)
	return b
}

func (c *command) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "command tag")
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "command field %d", num)
			}
			b = b[n:]
			switch num {
			case fieldSide:
				c.Side = market.Side(v)
			case fieldOrderID:
				c.OrderID = orderbook.OrderID(v)
			case fieldWords:
				c.Config.Words = int(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "command field %d", num)
			}
			b = b[n:]
			if err := c.setBytes(num, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "command field %d", num)
			}
			b = b[n:]
		}
	}
	c.Config.ID = c.Pool
	return nil
}

func (c *command) setBytes(num protowire.Number, v []byte) error {
	amount := func(dst *uint256.Int) error {
		if len(v) > 32 {
			return errors.Wrapf(errors.ErrOverflow, "command field %d is %d bytes", num, len(v))
		}
		dst.SetBytes(v)
		return nil
	}
	switch num {
	case fieldPool:
		c.Pool = market.PoolID(v)
	case fieldUser:
		c.User = market.UserID(v)
	case fieldAsset:
		c.Asset = market.Asset(v)
	case fieldBase:
		c.Config.Base = market.Asset(v)
	case fieldQuote:
		c.Config.Quote = market.Asset(v)
	case fieldTreasury:
		c.Config.Treasury = market.UserID(v)
	case fieldPrice:
		return amount(&c.Price)
	case fieldAmount:
		return amount(&c.Amount)
	case fieldSpot:
		return amount(&c.Spot)
	case fieldReference:
		return amount(&c.Reference)
	case fieldAmmProceeds:
		return amount(&c.AmmProceeds)
	case fieldTickSpacing:
		return amount(&c.Config.TickSpacing)
	case fieldMinPrice:
		return amount(&c.Config.MinPrice)
	case fieldMaxPrice:
		return amount(&c.Config.MaxPrice)
	case fieldDustBuy:
		return amount(&c.Config.DustThresholdBuy)
	case fieldDustSell:
		return amount(&c.Config.DustThresholdSell)
	case fieldMaxDeviation:
		return amount(&c.Config.MaxDeviation)
	}
	return nil
}

func decodeCommand(rec *entry.Record) (command, error) {
	var c command
	if err := c.unmarshal(rec.Data); err != nil {
		return command{}, errors.Cause(errors.ErrJournal, err)
	}
	return c, nil
}
