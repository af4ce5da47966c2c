package units

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrUnit           = errors.New("unit error")
	ErrUnknownUnit    = fmt.Errorf("%w: unknown unit", ErrUnit)
	ErrIncompatible   = fmt.Errorf("%w: incompatible dimensions", ErrUnit)
	ErrUnknownContext = fmt.Errorf("%w: unknown context", ErrUnit)
)

const (
	dimLength = iota
	dimMass
	dimTime
	dimTemperature
	dimAngle
	dimCount
)

// Dimension is an exponent vector over length, mass, time, temperature and angle.
type Dimension [dimCount]int8

func (d Dimension) add(o Dimension, sign int8) Dimension {
	var out Dimension
	for i := range d {
		out[i] = d[i] + sign*o[i]
	}
	return out
}

func (d Dimension) scale(exp int8) Dimension {
	var out Dimension
	for i := range d {
		out[i] = d[i] * exp
	}
	return out
}

// Unit is a parsed unit expression. Base value = value*Scale + Offset.
type Unit struct {
	Symbol string
	Dim    Dimension
	Scale  float64
	Offset float64
}

func (u Unit) toBase(v float64) float64   { return v*u.Scale + u.Offset }
func (u Unit) fromBase(v float64) float64 { return (v - u.Offset) / u.Scale }

type atom struct {
	symbol  string
	aliases []string
	dim     Dimension
	scale   float64
	offset  float64
}

type bridge struct {
	dim    Dimension
	factor float64
}

// Registry resolves unit spellings and converts between them.
type Registry struct {
	mu       sync.RWMutex
	atoms    map[string]*atom
	folded   map[string]*atom
	contexts map[string]bridge
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry with the built-in units and contexts.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Convert converts with the default registry.
func Convert(value float64, from, to string, contexts ...string) (float64, error) {
	return Default().Convert(value, from, to, contexts...)
}

func NewRegistry() *Registry {
	r := &Registry{
		atoms:    make(map[string]*atom),
		folded:   make(map[string]*atom),
		contexts: make(map[string]bridge),
	}
	for _, a := range builtinAtoms() {
		r.addAtom(a)
	}
	// 1 mm of rain spread over 1 m² weighs 1 kg.
	if err := r.RegisterContext("precipitation", 1000, "kg m-3"); err != nil {
		panic(err)
	}
	return r
}

// RegisterUnit adds an atomic unit defined as factor times an existing unit expression.
func (r *Registry) RegisterUnit(symbol string, aliases []string, factor float64, of string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || factor == 0 {
		return fmt.Errorf("%w: invalid definition for %q", ErrUnit, symbol)
	}
	base, err := r.Parse(of)
	if err != nil {
		return err
	}
	if base.Offset != 0 {
		return fmt.Errorf("%w: cannot derive %q from offset unit %q", ErrUnit, symbol, of)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addAtom(&atom{symbol: symbol, aliases: aliases, dim: base.Dim, scale: factor * base.Scale})
	return nil
}

// RegisterContext registers a dimension bridge: quantity*unit multiplies a
// base value of dimension D into dimension D+dim(unit), and divides back.
func (r *Registry) RegisterContext(name string, quantity float64, unit string) error {
	name = strings.TrimSpace(name)
	if name == "" || quantity == 0 {
		return fmt.Errorf("%w: invalid context %q", ErrUnit, name)
	}
	u, err := r.Parse(unit)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[name] = bridge{dim: u.Dim, factor: quantity * u.Scale}
	return nil
}

// HasContext reports whether name is a registered context.
func (r *Registry) HasContext(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.contexts[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) addAtom(a *atom) {
	r.atoms[a.symbol] = a
	r.folded[strings.ToLower(a.symbol)] = a
	for _, alias := range a.aliases {
		r.atoms[alias] = a
		if _, taken := r.folded[strings.ToLower(alias)]; !taken {
			r.folded[strings.ToLower(alias)] = a
		}
	}
}

func (r *Registry) lookupAtom(name string) (*atom, bool) {
	if a, ok := r.atoms[name]; ok {
		return a, true
	}
	a, ok := r.folded[strings.ToLower(name)]
	return a, ok
}

// Known reports whether symbol parses.
func (r *Registry) Known(symbol string) bool {
	_, err := r.Parse(symbol)
	return err == nil
}

// Canonical returns the normalised spelling of symbol ("m s-1" -> "m/s").
func (r *Registry) Canonical(symbol string) (string, error) {
	u, err := r.Parse(symbol)
	if err != nil {
		return "", err
	}
	return u.Symbol, nil
}

var (
	termPattern = regexp.MustCompile(`^([^\d^+\-]+)\^?([+-]?\d+)?$`)
	separators  = strings.NewReplacer("·", " ", "*", " ", ".", " ", "(", " ", ")", " ")
)

type term struct {
	atom *atom
	exp  int8
}

// Parse resolves a unit expression such as "degC", "m s-1", "kg/m^2" or "%".
func (r *Registry) Parse(symbol string) (Unit, error) {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return Unit{}, fmt.Errorf("%w: empty symbol", ErrUnknownUnit)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.lookupAtom(s); ok {
		return Unit{Symbol: a.symbol, Dim: a.dim, Scale: a.scale, Offset: a.offset}, nil
	}

	parts := strings.Split(s, "/")
	var terms []term
	for i, part := range parts {
		sign := int8(1)
		if i > 0 {
			sign = -1
		}
		part = strings.ReplaceAll(part, "**", "^")
		fields := strings.Fields(separators.Replace(part))
		if len(fields) == 0 {
			return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, symbol)
		}
		for _, field := range fields {
			t, err := r.parseTerm(field)
			if err != nil {
				return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, symbol)
			}
			t.exp *= sign
			terms = append(terms, t)
		}
	}

	if len(terms) == 1 && terms[0].exp == 1 {
		a := terms[0].atom
		return Unit{Symbol: a.symbol, Dim: a.dim, Scale: a.scale, Offset: a.offset}, nil
	}

	u := Unit{Scale: 1}
	for _, t := range terms {
		u.Dim = u.Dim.add(t.atom.dim.scale(t.exp), 1)
		u.Scale *= math.Pow(t.atom.scale, float64(t.exp))
	}
	u.Symbol = render(terms)
	return u, nil
}

func (r *Registry) parseTerm(field string) (term, error) {
	if a, ok := r.lookupAtom(field); ok {
		return term{atom: a, exp: 1}, nil
	}
	m := termPattern.FindStringSubmatch(field)
	if m == nil {
		return term{}, ErrUnknownUnit
	}
	a, ok := r.lookupAtom(m[1])
	if !ok {
		return term{}, ErrUnknownUnit
	}
	exp := int8(1)
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n == 0 || n > 9 || n < -9 {
			return term{}, ErrUnknownUnit
		}
		exp = int8(n)
	}
	return term{atom: a, exp: exp}, nil
}

func render(terms []term) string {
	var num, den []string
	for _, t := range terms {
		exp := t.exp
		target := &num
		if exp < 0 {
			exp = -exp
			target = &den
		}
		s := t.atom.symbol
		if exp != 1 {
			s += strconv.Itoa(int(exp))
		}
		*target = append(*target, s)
	}
	if len(num) == 0 {
		num = []string{"1"}
	}
	out := strings.Join(num, " ")
	switch len(den) {
	case 0:
	case 1:
		out += "/" + den[0]
	default:
		sort.Strings(den)
		out += "/(" + strings.Join(den, " ") + ")"
	}
	return out
}

// Convert converts value between unit expressions. Named contexts are tried
// in order when the dimensions differ.
func (r *Registry) Convert(value float64, from, to string, contexts ...string) (float64, error) {
	if strings.TrimSpace(from) == strings.TrimSpace(to) {
		if _, err := r.Parse(from); err != nil {
			return 0, err
		}
		return value, nil
	}

	src, err := r.Parse(from)
	if err != nil {
		return 0, err
	}
	dst, err := r.Parse(to)
	if err != nil {
		return 0, err
	}

	if src.Dim == dst.Dim {
		return dst.fromBase(src.toBase(value)), nil
	}

	for _, name := range contexts {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		r.mu.RLock()
		b, ok := r.contexts[name]
		r.mu.RUnlock()
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownContext, name)
		}
		base := src.toBase(value)
		switch dst.Dim {
		case src.Dim.add(b.dim, 1):
			return dst.fromBase(base * b.factor), nil
		case src.Dim.add(b.dim, -1):
			return dst.fromBase(base / b.factor), nil
		}
	}

	return 0, fmt.Errorf("%w: %s -> %s", ErrIncompatible, src.Symbol, dst.Symbol)
}

func dims(length, mass, time, temperature, angle int8) Dimension {
	return Dimension{length, mass, time, temperature, angle}
}

func builtinAtoms() []*atom {
	length := dims(1, 0, 0, 0, 0)
	mass := dims(0, 1, 0, 0, 0)
	duration := dims(0, 0, 1, 0, 0)
	temperature := dims(0, 0, 0, 1, 0)
	angle := dims(0, 0, 0, 0, 1)
	speed := dims(1, 0, -1, 0, 0)
	pressure := dims(-1, 1, -2, 0, 0)
	energy := dims(2, 1, -2, 0, 0)
	power := dims(2, 1, -3, 0, 0)
	volume := dims(3, 0, 0, 0, 0)
	none := Dimension{}

	return []*atom{
		{symbol: "m", aliases: []string{"meter", "meters", "metre", "metres"}, dim: length, scale: 1},
		{symbol: "mm", aliases: []string{"millimeter", "millimeters", "millimetre", "millimetres"}, dim: length, scale: 1e-3},
		{symbol: "cm", aliases: []string{"centimeter", "centimeters", "centimetre"}, dim: length, scale: 1e-2},
		{symbol: "km", aliases: []string{"kilometer", "kilometers", "kilometre"}, dim: length, scale: 1e3},
		{symbol: "ft", aliases: []string{"foot", "feet"}, dim: length, scale: 0.3048},
		{symbol: "in", aliases: []string{"inch", "inches"}, dim: length, scale: 0.0254},
		{symbol: "mi", aliases: []string{"mile", "miles"}, dim: length, scale: 1609.344},

		{symbol: "kg", aliases: []string{"kilogram", "kilograms"}, dim: mass, scale: 1},
		{symbol: "g", aliases: []string{"gram", "grams"}, dim: mass, scale: 1e-3},

		{symbol: "s", aliases: []string{"sec", "second", "seconds"}, dim: duration, scale: 1},
		{symbol: "min", aliases: []string{"minute", "minutes"}, dim: duration, scale: 60},
		{symbol: "h", aliases: []string{"hr", "hour", "hours"}, dim: duration, scale: 3600},
		{symbol: "d", aliases: []string{"day", "days"}, dim: duration, scale: 86400},

		{symbol: "K", aliases: []string{"kelvin", "degK"}, dim: temperature, scale: 1},
		{symbol: "degC", aliases: []string{"°C", "℃", "deg_C", "celsius", "degree_Celsius", "degrees_Celsius"}, dim: temperature, scale: 1, offset: 273.15},
		{symbol: "degF", aliases: []string{"°F", "℉", "deg_F", "fahrenheit", "degree_Fahrenheit", "degrees_Fahrenheit"}, dim: temperature, scale: 5.0 / 9.0, offset: 459.67 * 5.0 / 9.0},

		{symbol: "degree", aliases: []string{"deg", "°", "degrees", "degree_true", "arc_degree"}, dim: angle, scale: math.Pi / 180},
		{symbol: "rad", aliases: []string{"radian", "radians"}, dim: angle, scale: 1},

		{symbol: "1", aliases: []string{"fraction", "ratio", "dimensionless"}, dim: none, scale: 1},
		{symbol: "percent", aliases: []string{"%", "pct"}, dim: none, scale: 1e-2},
		{symbol: "ppm", dim: none, scale: 1e-6},

		{symbol: "knot", aliases: []string{"kt", "kn", "knots"}, dim: speed, scale: 1852.0 / 3600.0},
		{symbol: "mph", dim: speed, scale: 1609.344 / 3600.0},
		{symbol: "kph", aliases: []string{"kmh"}, dim: speed, scale: 1000.0 / 3600.0},

		{symbol: "Pa", aliases: []string{"pascal", "pascals"}, dim: pressure, scale: 1},
		{symbol: "hPa", aliases: []string{"hectopascal", "hectopascals"}, dim: pressure, scale: 100},
		{symbol: "kPa", aliases: []string{"kilopascal", "kilopascals"}, dim: pressure, scale: 1000},
		{symbol: "mbar", aliases: []string{"millibar", "millibars", "mb"}, dim: pressure, scale: 100},
		{symbol: "bar", dim: pressure, scale: 1e5},
		{symbol: "inHg", aliases: []string{"in_Hg", "inches_Hg"}, dim: pressure, scale: 3386.389},
		{symbol: "mmHg", aliases: []string{"mm_Hg", "torr"}, dim: pressure, scale: 133.322387415},
		{symbol: "psi", dim: pressure, scale: 6894.757293168},

		{symbol: "J", aliases: []string{"joule", "joules"}, dim: energy, scale: 1},
		{symbol: "kJ", dim: energy, scale: 1e3},
		{symbol: "MJ", dim: energy, scale: 1e6},
		{symbol: "W", aliases: []string{"watt", "watts"}, dim: power, scale: 1},
		{symbol: "kW", dim: power, scale: 1e3},

		{symbol: "L", aliases: []string{"l", "liter", "liters", "litre", "litres"}, dim: volume, scale: 1e-3},
	}
}
