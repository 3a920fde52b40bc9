package config

import (
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var ErrOffTick = errors.New("price is not a multiple of the tick size")

// Instrument maps a tradable symbol to the numeric id the engine uses and
// to the tick size its integer prices count in.
type Instrument struct {
	Symbol   string          `yaml:"symbol"`
	ID       uint32          `yaml:"id"`
	TickSize decimal.Decimal `yaml:"tick_size"`
}

// ToTicks converts a decimal price to whole ticks.
func (in Instrument) ToTicks(price decimal.Decimal) (int64, error) {
	ticks := price.Div(in.TickSize)
	if !ticks.IsInteger() {
		return 0, errors.Wrapf(ErrOffTick, "%s at tick %s", price, in.TickSize)
	}
	if !ticks.BigInt().IsInt64() {
		return 0, errors.Newf("price %s out of range", price)
	}
	return ticks.IntPart(), nil
}

func (in Instrument) FromTicks(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(in.TickSize)
}

// Instruments indexes the configured instruments both ways.
type Instruments struct {
	bySymbol map[string]Instrument
	byID     map[uint32]Instrument
	ids      []uint32
}

func NewInstruments(list []Instrument) *Instruments {
	r := &Instruments{
		bySymbol: make(map[string]Instrument, len(list)),
		byID:     make(map[uint32]Instrument, len(list)),
	}
	for _, in := range list {
		r.bySymbol[in.Symbol] = in
		r.byID[in.ID] = in
		r.ids = append(r.ids, in.ID)
	}
	return r
}

func (r *Instruments) BySymbol(symbol string) (Instrument, bool) {
	in, ok := r.bySymbol[symbol]
	return in, ok
}

func (r *Instruments) ByID(id uint32) (Instrument, bool) {
	in, ok := r.byID[id]
	return in, ok
}

// IDs lists instrument ids in configuration order.
func (r *Instruments) IDs() []uint32 { return r.ids }
