package nnue

import "github.com/hailam/chessplay/internal/board"

// Network holds the weights for the 768-feature, single-hidden-layer
// network: feature_weights[768][256], feature_bias[256], output_weights[512]
// (256 for the side to move's half, 256 for the opponent's), output_bias.
type Network struct {
	FeatureWeights [Features][HiddenSize]int16
	FeatureBias    [HiddenSize]int16
	OutputWeights  [HiddenSize * 2]int16
	OutputBias     int32
}

// NewNetwork creates a zero-weight network; callers must LoadWeights or
// InitRandom before using it for evaluation.
func NewNetwork() *Network {
	return &Network{}
}

// screlu is the squared, clipped ReLU activation: clamp to [0, QA], then
// square.
func screlu(v int16) int32 {
	x := int32(v)
	if x < 0 {
		x = 0
	} else if x > QA {
		x = QA
	}
	return x * x
}

// Forward computes the network's centipawn evaluation from the side to
// move's perspective. The side to move's accumulator half is dotted with the
// first HiddenSize output weights, the opponent's half with the second;
// quantization is then unwound in two steps exactly as the original divides
// by QA and then by QA*QB.
func (n *Network) Forward(acc *Accumulator, sideToMove board.Color) int {
	var us, them *[HiddenSize]int16
	if sideToMove == board.White {
		us, them = &acc.White, &acc.Black
	} else {
		us, them = &acc.Black, &acc.White
	}

	var output int64
	for i := 0; i < HiddenSize; i++ {
		output += int64(screlu(us[i])) * int64(n.OutputWeights[i])
	}
	for i := 0; i < HiddenSize; i++ {
		output += int64(screlu(them[i])) * int64(n.OutputWeights[HiddenSize+i])
	}

	output /= QA
	output += int64(n.OutputBias)
	output *= Scale
	output /= QA * QB

	return int(output)
}

// InitRandom fills the network with small deterministic pseudo-random
// weights. Only ever used by tests and the weightless bootstrap path — never
// for real play.
func (n *Network) InitRandom(seed int64) {
	state := uint64(seed)
	next := func() int16 {
		state = state*6364136223846793005 + 1442695040888963407
		return int16((state >> 48) & 0xFF) - 128
	}

	for i := 0; i < Features; i++ {
		for j := 0; j < HiddenSize; j++ {
			n.FeatureWeights[i][j] = next() >> 5
		}
	}
	for i := 0; i < HiddenSize; i++ {
		n.FeatureBias[i] = next() >> 3
	}
	for i := 0; i < HiddenSize*2; i++ {
		n.OutputWeights[i] = next() >> 4
	}
	n.OutputBias = int32(next())
}
