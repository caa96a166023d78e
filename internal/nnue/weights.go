package nnue

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// LoadWeights reads a raw, headerless little-endian weight blob:
// feature_weights[768][256]int16, feature_bias[256]int16,
// output_weights[512]int16, output_bias int32. There is no magic number or
// version field — the trainer and the engine are expected to agree on the
// layout.
func (n *Network) LoadWeights(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open weights file: %w", err)
	}
	defer f.Close()
	return n.LoadWeightsFromReader(f)
}

// LoadWeightsFromReader reads the same raw layout as LoadWeights from an
// arbitrary reader (used by tests and embedded-weight builds).
func (n *Network) LoadWeightsFromReader(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &n.FeatureWeights); err != nil {
		return fmt.Errorf("read feature weights: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n.FeatureBias); err != nil {
		return fmt.Errorf("read feature bias: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n.OutputWeights); err != nil {
		return fmt.Errorf("read output weights: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n.OutputBias); err != nil {
		return fmt.Errorf("read output bias: %w", err)
	}
	return nil
}

// SaveWeights writes the network in the same raw layout LoadWeights expects.
func (n *Network) SaveWeights(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create weights file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, &n.FeatureWeights); err != nil {
		return fmt.Errorf("write feature weights: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, &n.FeatureBias); err != nil {
		return fmt.Errorf("write feature bias: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, &n.OutputWeights); err != nil {
		return fmt.Errorf("write output weights: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, &n.OutputBias); err != nil {
		return fmt.Errorf("write output bias: %w", err)
	}
	return nil
}
