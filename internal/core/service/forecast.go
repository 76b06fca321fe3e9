package service

const (
	HOLT_ALPHA = 0.332437
	HOLT_BETA  = 0.998839
)

// HoltForecaster is a linear-trend exponential smoother producing a
// one-period-ahead forecast. Not safe for concurrent use.
type HoltForecaster struct {
	alpha       float64
	beta        float64
	level       float64
	trend       float64
	initialized bool
}

func NewHoltForecaster() *HoltForecaster {
	return &HoltForecaster{alpha: HOLT_ALPHA, beta: HOLT_BETA}
}

// Observe feeds one observation and returns the forecast for the next period.
// The first observation only seeds the level and is returned unchanged.
func (f *HoltForecaster) Observe(x float64) float64 {
	if !f.initialized {
		f.level = x
		f.trend = 0
		f.initialized = true
		return x
	}
	prev := f.level
	f.level = f.alpha*x + (1-f.alpha)*(prev+f.trend)
	f.trend = f.beta*(f.level-prev) + (1-f.beta)*f.trend
	return f.level + f.trend
}

func (f *HoltForecaster) Initialized() bool {
	return f.initialized
}

func (f *HoltForecaster) Trend() float64 {
	return f.trend
}

func (f *HoltForecaster) Level() float64 {
	return f.level
}
