package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	messages []string
	percents []float64
}

func (r *recorder) Report(message string, percent float64) {
	r.messages = append(r.messages, message)
	r.percents = append(r.percents, percent)
}

func TestReportClamps(t *testing.T) {
	rec := &recorder{}
	Report(rec, "low", -5)
	Report(rec, "high", 180)
	Report(rec, "message only", NoPercent)
	Report(nil, "ignored", 10)

	assert.Equal(t, []float64{0, 100, NoPercent}, rec.percents)
}

func TestBandMapsIntoRange(t *testing.T) {
	rec := &recorder{}
	band := Band(rec, 10, 30)

	band.Report("start", 0)
	band.Report("half", 50)
	band.Report("done", 100)
	band.Report("note", NoPercent)

	assert.Equal(t, []float64{10, 20, 30, NoPercent}, rec.percents)
	assert.Equal(t, "half", rec.messages[1])
}

func TestFraction(t *testing.T) {
	assert.InDelta(t, 50.0, Fraction(1, 2), 0.0001)
	assert.InDelta(t, 100.0, Fraction(0, 0), 0.0001)
}
