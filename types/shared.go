package types

type Token uint32
type Tokens []Token

// Window is one fixed-shape training step: BatchSize rows of SeqLen
// tokens, stored row-major. Targets are Inputs shifted left by one token.
type Window struct {
	BatchSize int
	SeqLen    int
	Inputs    Tokens
	Targets   Tokens
}

// NewWindow
// Slices a draw of `batchSize*seqLen+1` tokens into an input/target pair.
// The draw is copied, so the window never aliases the caller's buffer.
func NewWindow(draw Tokens, batchSize, seqLen int) *Window {
	n := batchSize * seqLen
	flat := make(Tokens, n+1)
	copy(flat, draw[:n+1])
	return &Window{
		BatchSize: batchSize,
		SeqLen:    seqLen,
		Inputs:    flat[:n],
		Targets:   flat[1:],
	}
}

// Row returns the input and target tokens of row r.
func (w *Window) Row(r int) (Tokens, Tokens) {
	begin := r * w.SeqLen
	end := begin + w.SeqLen
	return w.Inputs[begin:end], w.Targets[begin:end]
}

// Draw returns the `BatchSize*SeqLen+1` tokens the window was cut from.
func (w *Window) Draw() Tokens {
	draw := make(Tokens, 0, len(w.Inputs)+1)
	draw = append(draw, w.Inputs...)
	if len(w.Targets) > 0 {
		draw = append(draw, w.Targets[len(w.Targets)-1])
	}
	return draw
}
