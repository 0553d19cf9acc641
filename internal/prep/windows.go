package prep

// Windows holds supervised sequences: X[i] is the input window, Y[i] the
// value that immediately follows it.
type Windows struct {
	X [][]float64
	Y []float64
}

// Len returns the number of windows.
func (w Windows) Len() int { return len(w.Y) }

// Size returns the window length, or 0 when empty.
func (w Windows) Size() int {
	if len(w.X) == 0 {
		return 0
	}
	return len(w.X[0])
}

// Last returns a copy of the final input window.
func (w Windows) Last() []float64 {
	if len(w.X) == 0 {
		return nil
	}
	return append([]float64(nil), w.X[len(w.X)-1]...)
}

// CreateSequences slides a window of size w over data. For every i >= w the
// input is data[i-w:i] and the target is data[i], giving len(data)-w windows.
func CreateSequences(data []float64, w int) Windows {
	if w < 1 || len(data) <= w {
		return Windows{}
	}
	n := len(data) - w
	out := Windows{X: make([][]float64, n), Y: make([]float64, n)}
	for i := w; i < len(data); i++ {
		out.X[i-w] = append([]float64(nil), data[i-w:i]...)
		out.Y[i-w] = data[i]
	}
	return out
}
