package timeseries

// Aggregate is a running max/sum/count reduction of a single resource dimension.
// The zero value is ready to use.
type Aggregate struct {
	max   int64
	sum   int64
	count int32
}

// Update folds value into the reduction
func (a *Aggregate) Update(value int64) {
	if a.count == 0 || value > a.max {
		a.max = value
	}
	a.sum += value
	a.count++
}

// Max returns the largest value seen so far
func (a *Aggregate) Max() int64 {
	return a.max
}

// Sum returns the sum of all values seen so far
func (a *Aggregate) Sum() int64 {
	return a.sum
}

// Count returns the number of updates since creation
func (a *Aggregate) Count() int32 {
	return a.count
}

// Average returns sum/count using integer division.
// It panics on an aggregate that has never been updated.
func (a *Aggregate) Average() int64 {
	if a.count == 0 {
		panic("timeseries: Average called on an empty Aggregate")
	}
	return a.sum / int64(a.count)
}
