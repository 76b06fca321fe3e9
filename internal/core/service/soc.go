package service

import (
	"errors"
	"sort"
)

type SOCBreakpoint struct {
	Voltage float64
	SOC     float64
}

// DefaultSOCTable maps 12 V lithium pack voltage to state of charge.
var DefaultSOCTable = []SOCBreakpoint{
	{10.0, 0},
	{11.6, 3},
	{12.0, 8},
	{12.1, 10},
	{12.2, 12.5},
	{12.4, 20},
	{12.8, 30},
	{12.9, 40},
	{13.0, 60},
	{13.1, 70},
	{13.2, 80},
	{13.3, 90},
	{13.4, 95},
	{13.6, 100},
}

type SOCEstimator struct {
	table []SOCBreakpoint
}

func NewSOCEstimator(table []SOCBreakpoint) (*SOCEstimator, error) {
	if len(table) < 2 {
		return nil, errors.New("soc table needs at least two breakpoints")
	}
	for i := 1; i < len(table); i++ {
		if table[i].Voltage <= table[i-1].Voltage {
			return nil, errors.New("soc table voltage must be strictly increasing")
		}
		if table[i].SOC < table[i-1].SOC {
			return nil, errors.New("soc table values must be non-decreasing")
		}
	}
	return &SOCEstimator{table: table}, nil
}

func DefaultSOCEstimator() *SOCEstimator {
	return &SOCEstimator{table: DefaultSOCTable}
}

// Estimate interpolates linearly between the bracketing breakpoints and clamps
// outside the table range.
func (e *SOCEstimator) Estimate(voltage float64) float64 {
	first, last := e.table[0], e.table[len(e.table)-1]
	if voltage <= first.Voltage {
		return first.SOC
	}
	if voltage >= last.Voltage {
		return last.SOC
	}
	// first breakpoint strictly above voltage
	i := sort.Search(len(e.table), func(i int) bool { return e.table[i].Voltage > voltage })
	lo, hi := e.table[i-1], e.table[i]
	return lo.SOC + (voltage-lo.Voltage)*(hi.SOC-lo.SOC)/(hi.Voltage-lo.Voltage)
}
