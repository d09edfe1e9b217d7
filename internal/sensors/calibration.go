package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/flowberry/internal/fault"
)

// DefaultGyroCalibPath is where the calibration tool writes its samples.
const DefaultGyroCalibPath = "gyro_calib.txt"

// GyroOffsets is the zero-rate bias of a still gyro.
type GyroOffsets struct {
	X, Y, Z     float64
	Temperature int
	Samples     int
}

// Apply subtracts the offsets from r.
func (o GyroOffsets) Apply(r GyroReading) GyroReading {
	r.RateX -= o.X
	r.RateY -= o.Y
	r.RateZ -= o.Z
	return r
}

// LoadGyroCalibration averages the samples in path. A missing file yields
// zero offsets and a missing-calibration fault.
func LoadGyroCalibration(path string) (GyroOffsets, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return GyroOffsets{}, fault.New(fault.KindMissingCalibration, "gyro calibration", err)
		}
		return GyroOffsets{}, fmt.Errorf("failed to open gyro calibration: %w", err)
	}
	defer f.Close()
	return ParseGyroCalibration(f)
}

// ParseGyroCalibration reads whitespace separated "rate_x rate_y rate_z
// temperature" records and averages them. Reading stops at the first record
// that does not parse.
func ParseGyroCalibration(r io.Reader) (GyroOffsets, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	var xs, ys, zs []float64
	var tempSum int
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}

records:
	for {
		var rates [3]float64
		for k := range rates {
			tok, ok := next()
			if !ok {
				break records
			}
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				break records
			}
			rates[k] = v
		}
		tok, ok := next()
		if !ok {
			break
		}
		t, err := strconv.Atoi(tok)
		if err != nil {
			break
		}
		xs = append(xs, rates[0])
		ys = append(ys, rates[1])
		zs = append(zs, rates[2])
		tempSum += t
	}
	if err := sc.Err(); err != nil {
		return GyroOffsets{}, fmt.Errorf("error reading gyro calibration: %w", err)
	}

	n := len(xs)
	if n == 0 {
		return GyroOffsets{}, nil
	}
	return GyroOffsets{
		X:           stat.Mean(xs, nil),
		Y:           stat.Mean(ys, nil),
		Z:           stat.Mean(zs, nil),
		Temperature: tempSum / n,
		Samples:     n,
	}, nil
}

// WriteGyroSample appends one record in the calibration file format.
func WriteGyroSample(w io.Writer, r GyroReading) error {
	_, err := fmt.Fprintf(w, "%e %e %e %d\n", r.RateX, r.RateY, r.RateZ, r.Temperature)
	return err
}
