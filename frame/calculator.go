package frame

// Calculator computes the frame-dependent quantities exposed by the
// visibility iterator. Helpers is the standard implementation; tests
// substitute counting or fixed-value calculators.
type Calculator interface {
	Parang(t float64, d *DerivedValues) []float64
	Parang0(t float64, d *DerivedValues) float64
	FeedPA(t float64, d *DerivedValues, receptorAngles [][]float64) []float64
	Azel(t float64, d *DerivedValues) []AzEl
	Azel0(t float64, d *DerivedValues) AzEl
	HourAngle(t float64, d *DerivedValues) float64
}

// Helpers implements Calculator with the package-level functions.
type Helpers struct{}

var _ Calculator = Helpers{}

func (Helpers) Parang(t float64, d *DerivedValues) []float64 { return ParangCalculate(t, d) }

func (Helpers) Parang0(t float64, d *DerivedValues) float64 { return Parang0Calculate(t, d) }

func (Helpers) FeedPA(t float64, d *DerivedValues, receptorAngles [][]float64) []float64 {
	return FeedPACalculate(t, d, receptorAngles)
}

func (Helpers) Azel(t float64, d *DerivedValues) []AzEl { return AzelCalculate(t, d) }

func (Helpers) Azel0(t float64, d *DerivedValues) AzEl { return Azel0Calculate(t, d) }

func (Helpers) HourAngle(t float64, d *DerivedValues) float64 { return HourangCalculate(t, d) }
