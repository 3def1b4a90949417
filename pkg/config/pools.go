package config

import (
	"os"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"hybridbook/domain/market"
	"hybridbook/pkg/errors"
	"hybridbook/pkg/fixed"
)

// PoolFile is the YAML pool definition file. Prices are decimals; dust
// thresholds and reserves are whole-unit decimals with 18 fractional
// digits.
type PoolFile struct {
	Pools []PoolSpec `yaml:"pools"`
}

type PoolSpec struct {
	ID                string    `yaml:"id"`
	Base              string    `yaml:"base"`
	Quote             string    `yaml:"quote"`
	TickSpacing       string    `yaml:"tick_spacing"`
	Words             int       `yaml:"words"`
	MinPrice          string    `yaml:"min_price"`
	MaxPrice          string    `yaml:"max_price"`
	DustThresholdBuy  string    `yaml:"dust_threshold_buy"`
	DustThresholdSell string    `yaml:"dust_threshold_sell"`
	Treasury          string    `yaml:"treasury"`
	MaxDeviation      string    `yaml:"max_deviation"`
	Curve             CurveSpec `yaml:"curve"`
}

// CurveSpec seeds the built-in constant-product curve.
type CurveSpec struct {
	BaseReserve  string `yaml:"base_reserve"`
	QuoteReserve string `yaml:"quote_reserve"`
}

// Pool is a parsed pool definition.
type Pool struct {
	Config       market.Config
	BaseReserve  uint256.Int
	QuoteReserve uint256.Int
}

// LoadPools reads and validates the pool file at path.
func LoadPools(path string) ([]Pool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read pool file %s", path)
	}
	return ParsePools(b)
}

func ParsePools(b []byte) ([]Pool, error) {
	var f PoolFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err.Error())
	}

	seen := make(map[string]bool, len(f.Pools))
	out := make([]Pool, 0, len(f.Pools))
	for _, spec := range f.Pools {
		if seen[spec.ID] {
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "duplicate pool %s", spec.ID)
		}
		seen[spec.ID] = true

		p, err := spec.parse()
		if err != nil {
			return nil, errors.Wrapf(err, "pool %s", spec.ID)
		}
		out = append(out, p)
	}
	return out, nil
}

type parser struct {
	field string
	err   error
}

func (p *parser) price(field, s string) uint256.Int {
	return p.do(field, s, fixed.ParsePrice)
}

func (p *parser) amount(field, s string) uint256.Int {
	if s == "" {
		return uint256.Int{}
	}
	return p.do(field, s, func(s string) (uint256.Int, error) {
		return fixed.ParseAmount(s, fixed.Decimals)
	})
}

func (p *parser) do(field, s string, parse func(string) (uint256.Int, error)) uint256.Int {
	if p.err != nil {
		return uint256.Int{}
	}
	v, err := parse(s)
	if err != nil {
		p.field, p.err = field, err
	}
	return v
}

func (s *PoolSpec) parse() (Pool, error) {
	var p parser
	cfg := market.Config{
		ID:                market.PoolID(s.ID),
		Base:              market.Asset(s.Base),
		Quote:             market.Asset(s.Quote),
		TickSpacing:       p.price("tick_spacing", s.TickSpacing),
		Words:             s.Words,
		MinPrice:          p.price("min_price", s.MinPrice),
		MaxPrice:          p.price("max_price", s.MaxPrice),
		DustThresholdBuy:  p.amount("dust_threshold_buy", s.DustThresholdBuy),
		DustThresholdSell: p.amount("dust_threshold_sell", s.DustThresholdSell),
		Treasury:          market.UserID(s.Treasury),
		MaxDeviation:      p.price("max_deviation", s.MaxDeviation),
	}
	pool := Pool{
		Config:       cfg,
		BaseReserve:  p.amount("curve.base_reserve", s.Curve.BaseReserve),
		QuoteReserve: p.amount("curve.quote_reserve", s.Curve.QuoteReserve),
	}
	if p.err != nil {
		return Pool{}, errors.Wrap(p.err, p.field)
	}
	if err := cfg.Validate(); err != nil {
		return Pool{}, err
	}
	return pool, nil
}
